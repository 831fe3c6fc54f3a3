package pipeline

import (
	"github.com/drayhq/dray/internal/resolve"
	"github.com/drayhq/dray/internal/surface"
	"github.com/drayhq/dray/pkg/schema"
)

// Ranked strategy tables for each remote affordance the pipeline touches.
// Lower priority wins. The remote surfaces ship UI changes without notice, so
// every affordance carries a structural selector first and looser
// role/text matches behind it.

func promptStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "prompt-css", Priority: 0, Locator: surface.CSS("div[contenteditable='true']")},
		{Name: "prompt-role", Priority: 1, Locator: surface.Role("textbox", "")},
		{Name: "prompt-textarea", Priority: 2, Locator: surface.CSS("textarea")},
	}
}

func submitStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "submit-css", Priority: 0, Locator: surface.CSS("button[aria-label*='Send']")},
		{Name: "submit-role", Priority: 1, Locator: surface.Role("button", "Send")},
		{Name: "submit-text", Priority: 2, Locator: surface.Text("Send")},
	}
}

func modelPickerStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "model-css", Priority: 0, Locator: surface.CSS("[data-testid='model-picker']")},
		{Name: "model-role", Priority: 1, Locator: surface.Role("combobox", "Model")},
	}
}

func modelOptionStrategies(model schema.Model) []resolve.Strategy {
	name := modelLabel(model)
	return []resolve.Strategy{
		{Name: "model-option-role", Priority: 0, Locator: surface.Role("option", name)},
		{Name: "model-option-text", Priority: 1, Locator: surface.Text(name)},
	}
}

// modelLabel maps the model tier to the label the remote picker shows.
func modelLabel(model schema.Model) string {
	switch model {
	case schema.ModelFast:
		return "Fast"
	case schema.ModelThorough:
		return "Thorough"
	default:
		return "Balanced"
	}
}

func confirmStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "confirm-start", Priority: 0, Locator: surface.Role("button", "Start research")},
		{Name: "confirm-confirm", Priority: 1, Locator: surface.Role("button", "Confirm")},
		{Name: "confirm-text", Priority: 2, Locator: surface.Text("Start research")},
	}
}

func exportTriggerStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "export-css", Priority: 0, Locator: surface.CSS("button[aria-label*='Export']")},
		{Name: "export-role", Priority: 1, Locator: surface.Role("button", "Export")},
		{Name: "export-docs-text", Priority: 2, Locator: surface.Text("Export to Docs")},
	}
}

func downloadStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "download-epub", Priority: 0, Locator: surface.Role("menuitem", "EPUB Publication (.epub)")},
		{Name: "download-role", Priority: 1, Locator: surface.Role("button", "Download")},
		{Name: "download-text", Priority: 2, Locator: surface.Text("Download")},
	}
}

func uploadStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "upload-css", Priority: 0, Locator: surface.CSS("input[type='file']")},
		{Name: "upload-attach", Priority: 1, Locator: surface.Role("button", "Attach")},
		{Name: "upload-text", Priority: 2, Locator: surface.Text("Add file")},
	}
}

func sendStrategies() []resolve.Strategy {
	return []resolve.Strategy{
		{Name: "send-css", Priority: 0, Locator: surface.CSS("button[type='submit']")},
		{Name: "send-role", Priority: 1, Locator: surface.Role("button", "Send")},
		{Name: "send-text", Priority: 2, Locator: surface.Text("Send")},
	}
}

// Read-only probe targets for completion detection and delivery verdicts.
var (
	statusLocator       = surface.CSS("[data-status], .task-status")
	activityLocator     = surface.CSS("[aria-busy='true'], .progress-indicator")
	exportLinkLocator   = surface.Text("Open document")
	notificationLocator = surface.Role("link", "Document ready")
	errorBannerLocator  = surface.CSS("[role='alert'], .error-banner")
	sentMarkerLocator   = surface.Text("Sent")
)

// resultLengthProbe extracts the rendered length of the designated result
// container; 0 when absent.
const resultLengthProbe = `(() => {
  const el = document.querySelector('[data-result], .research-result, article');
  return el ? el.innerText.length : 0;
})()`

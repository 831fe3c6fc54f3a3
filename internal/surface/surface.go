// Package surface abstracts the remote rendered pages the pipeline drives.
// The core never touches the automation library directly; it sees only this
// capability set, which keeps the orchestrator testable against fakes.
package surface

import (
	"context"
	"time"
)

// LocatorKind tags how a target element is identified.
type LocatorKind string

const (
	KindCSS  LocatorKind = "css"  // structural match
	KindRole LocatorKind = "role" // accessible-role match
	KindText LocatorKind = "text" // free-text match
)

// Locator identifies one target element on a surface.
type Locator struct {
	Kind     LocatorKind
	Selector string // css
	Role     string // role
	Name     string // role: accessible name
	Text     string // text
	Exact    bool   // text: exact match
}

// CSS builds a structural locator.
func CSS(selector string) Locator {
	return Locator{Kind: KindCSS, Selector: selector}
}

// Role builds an accessible-role locator.
func Role(role, name string) Locator {
	return Locator{Kind: KindRole, Role: role, Name: name}
}

// Text builds a free-text locator.
func Text(text string) Locator {
	return Locator{Kind: KindText, Text: text}
}

// String returns a short human-readable form for logs and error details.
func (l Locator) String() string {
	switch l.Kind {
	case KindRole:
		return "role=" + l.Role + "[name=" + l.Name + "]"
	case KindText:
		return "text=" + l.Text
	default:
		return "css=" + l.Selector
	}
}

// EventKind names the out-of-band events a surface can produce.
type EventKind string

const (
	EventDownload    EventKind = "download"
	EventNewSurface  EventKind = "new-surface"
	EventFileChooser EventKind = "file-chooser"
)

// Download describes a completed file download.
type Download struct {
	Path          string
	SuggestedName string
}

// Event is the payload of a WaitForEvent call.
type Event struct {
	Kind     EventKind
	Download *Download
	Surface  Surface // populated for new-surface events
}

// Surface is the minimum capability set the core needs from one remote
// rendered page. All blocking operations take a context; timeouts are
// per-call bounds, not deadlines derived from the context.
type Surface interface {
	// IsVisible waits up to timeout for the target to be attached and
	// visible. A miss is (false, nil); errors are reserved for a broken
	// surface.
	IsVisible(ctx context.Context, loc Locator, timeout time.Duration) (bool, error)

	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, text string) error
	PressKey(ctx context.Context, key string) error

	// UploadFile clicks the trigger, waits for the resulting file chooser
	// and selects the given file.
	UploadFile(ctx context.Context, trigger Locator, path string) error

	// WaitForEvent blocks until the surface produces an event of the given
	// kind, up to timeout.
	WaitForEvent(ctx context.Context, kind EventKind, timeout time.Duration) (*Event, error)

	// Evaluate runs a read-only probe (a JS expression) on the page and
	// returns its value. Probes must not mutate remote state.
	Evaluate(ctx context.Context, probe string) (any, error)

	// InnerText extracts the rendered text of the target, or "" if the
	// target is absent.
	InnerText(ctx context.Context, loc Locator) (string, error)

	Navigate(ctx context.Context, url string, timeout time.Duration) error

	URL() string
	Close() error
}

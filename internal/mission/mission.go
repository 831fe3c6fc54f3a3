// Package mission loads and validates the mission file: the single unit of
// configuration for one unattended research-to-delivery run.
package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/drayhq/dray/internal/poll"
	"github.com/drayhq/dray/internal/rules"
	"github.com/drayhq/dray/pkg/schema"
)

// missionSchemaJSON is the JSON Schema for mission files.
// Embedded as a constant to avoid filesystem dependencies.
const missionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://drayhq.dev/schemas/mission.json",
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {
      "type": "string",
      "minLength": 1
    },
    "model": {
      "type": "string",
      "enum": ["fast", "balanced", "thorough"]
    },
    "research_url": {
      "type": "string",
      "pattern": "^https?://"
    },
    "destination_url": {
      "type": "string",
      "pattern": "^https?://"
    },
    "download_dir": {
      "type": "string",
      "minLength": 1
    },
    "completion_rule": {
      "type": "string",
      "minLength": 1
    },
    "timing": {
      "type": "object",
      "properties": {
        "dwellBeforeCheck": { "$ref": "#/$defs/duration" },
        "pollInterval": { "$ref": "#/$defs/duration" },
        "discoveryWindow": { "$ref": "#/$defs/duration" },
        "hardCeiling": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    }
  }
}`

// Timing carries the recognized per-mission overrides of the poller's
// timing policy, as duration strings.
type Timing struct {
	DwellBeforeCheck string `json:"dwellBeforeCheck,omitempty"`
	PollInterval     string `json:"pollInterval,omitempty"`
	DiscoveryWindow  string `json:"discoveryWindow,omitempty"`
	HardCeiling      string `json:"hardCeiling,omitempty"`
}

// Mission is one validated run request.
type Mission struct {
	Query          string       `json:"query"`
	Model          schema.Model `json:"model,omitempty"`
	ResearchURL    string       `json:"research_url,omitempty"`
	DestinationURL string       `json:"destination_url,omitempty"`
	DownloadDir    string       `json:"download_dir,omitempty"`
	CompletionRule string       `json:"completion_rule,omitempty"`
	Timing         *Timing      `json:"timing,omitempty"`
}

var missionSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(missionSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal mission schema: %v", err))
	}
	if err := c.AddResource("https://drayhq.dev/schemas/mission.json", doc); err != nil {
		panic(fmt.Sprintf("add mission schema resource: %v", err))
	}
	compiled, err := c.Compile("https://drayhq.dev/schemas/mission.json")
	if err != nil {
		panic(fmt.Sprintf("compile mission schema: %v", err))
	}
	return compiled
}()

// Load reads, validates and parses a mission file, applying defaults.
func Load(path string) (*Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read mission file: %s", err.Error()).WithCause(err)
	}
	return Parse(data)
}

// Parse validates raw mission JSON against the schema and decodes it.
func Parse(data []byte) (*Mission, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"mission is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := missionSchema.Validate(doc); err != nil {
		return nil, toDrayError(err)
	}

	var m Mission
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"decode mission: %s", err.Error()).WithCause(err)
	}

	if m.Model == "" {
		m.Model = schema.ModelBalanced
	}
	if m.CompletionRule != "" {
		// Fail at load time, not mid-poll.
		if _, err := rules.Parse(m.CompletionRule); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// PollConfig derives the poller's timing policy from the defaults, the
// mission's timing overrides and its completion rule.
func (m *Mission) PollConfig() (poll.Config, error) {
	cfg := poll.DefaultConfig()

	if m.Timing != nil {
		overrides := []struct {
			value  string
			target *time.Duration
			name   string
		}{
			{m.Timing.DwellBeforeCheck, &cfg.DwellBeforeCheck, "dwellBeforeCheck"},
			{m.Timing.PollInterval, &cfg.PollInterval, "pollInterval"},
			{m.Timing.DiscoveryWindow, &cfg.DiscoveryWindow, "discoveryWindow"},
			{m.Timing.HardCeiling, &cfg.HardCeiling, "hardCeiling"},
		}
		for _, o := range overrides {
			if o.value == "" {
				continue
			}
			d, err := time.ParseDuration(o.value)
			if err != nil {
				return cfg, schema.NewErrorf(schema.ErrCodeValidation,
					"timing.%s: %s", o.name, err.Error()).WithCause(err)
			}
			*o.target = d
		}
	}

	if m.CompletionRule != "" {
		rule, err := rules.Parse(m.CompletionRule)
		if err != nil {
			return cfg, err
		}
		cfg.Rule = rule
	}
	return cfg, nil
}

// toDrayError converts a jsonschema.ValidationError into a DrayError with
// the leaf violations collected for readable reporting.
func toDrayError(err error) *schema.DrayError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"mission validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

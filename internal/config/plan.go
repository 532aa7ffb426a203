// Package config loads the propagation plan and tool settings. The plan is
// JSON and decoding is lossless: re-encoding a plan yields the same
// document, including omitted optional fields.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lgtm-migrator/amplify-ci-support/internal/destinations"
	dserrors "github.com/lgtm-migrator/amplify-ci-support/internal/errors"
	"github.com/lgtm-migrator/amplify-ci-support/internal/mapping"
	"github.com/lgtm-migrator/amplify-ci-support/internal/propagation"
	"github.com/lgtm-migrator/amplify-ci-support/internal/sources"
)

// Plan declares which sources feed which destinations.
type Plan struct {
	Sources      []SourceEntry                `json:"sources"`
	Destinations map[string]DestinationConfig `json:"destinations"`
}

// SourceEntry is one source and the destination binding it feeds.
type SourceEntry struct {
	Type          string                 `json:"type"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Destination   DestinationBinding     `json:"destination"`
}

// DestinationBinding names a destination entry and the mapping rule
// applied on the way in.
type DestinationBinding struct {
	Specifier            string       `json:"specifier"`
	MappingToDestination mapping.Rule `json:"mapping_to_destination"`
}

// DestinationConfig describes one destination endpoint.
type DestinationConfig struct {
	Type          string                 `json:"type"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

const planSchema = `{
  "type": "object",
  "required": ["sources", "destinations"],
  "properties": {
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "destination"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "configuration": {"type": "object"},
          "destination": {
            "type": "object",
            "required": ["specifier", "mapping_to_destination"],
            "properties": {
              "specifier": {"type": "string", "minLength": 1},
              "mapping_to_destination": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["destination_key_name"],
                  "properties": {
                    "destination_key_name": {"type": "string", "minLength": 1},
                    "result_value_key": {"type": "string", "minLength": 1}
                  },
                  "additionalProperties": false
                }
              }
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    },
    "destinations": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "configuration": {"type": "object"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// ParsePlan decodes and validates a plan document. Structural problems are
// reported from the schema, cross-reference problems from Validate.
func ParsePlan(data []byte) (*Plan, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(planSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "plan is not valid JSON",
			Details:    err.Error(),
			Suggestion: "check the plan file for syntax errors",
		}
	}
	if !result.Valid() {
		details := ""
		for _, desc := range result.Errors() {
			if details != "" {
				details += "; "
			}
			details += desc.String()
		}
		return nil, dserrors.UserError{
			Message:    "plan does not match the expected structure",
			Details:    details,
			Suggestion: "compare the plan against the documented format",
		}
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Encode renders the plan back to JSON. Mapping entries that rely on the
// identity default stay without a result_value_key, so a decode/encode pass
// is faithful to the author's document.
func (p *Plan) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Validate enforces the cross-reference rules the schema cannot express:
// every binding must name a declared destination, and no destination key
// may be written by two entries targeting the same destination.
func (p *Plan) Validate() error {
	type target struct{ specifier, key string }
	written := map[target]bool{}

	for i, src := range p.Sources {
		specifier := src.Destination.Specifier
		if _, ok := p.Destinations[specifier]; !ok {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("sources[%d].destination.specifier", i),
				Value:      specifier,
				Message:    "no destination with this specifier is declared",
				Suggestion: "add it to the destinations block or fix the reference",
			}
		}

		if err := src.Destination.MappingToDestination.Validate(); err != nil {
			return err
		}

		for _, entry := range src.Destination.MappingToDestination {
			tgt := target{specifier, entry.DestinationKeyName}
			if written[tgt] {
				return dserrors.ConfigError{
					Field:      "destination_key_name",
					Value:      entry.DestinationKeyName,
					Message:    fmt.Sprintf("written by more than one source for destination %q", specifier),
					Suggestion: "each destination key may be fed by exactly one mapping entry",
				}
			}
			written[tgt] = true
		}
	}
	return nil
}

// BuildPairs instantiates the live sources and publishers a plan declares.
// Publishers are created once per destination entry and shared by every
// source feeding it.
func (p *Plan) BuildPairs(srcReg *sources.Registry, dstReg *destinations.Registry) ([]propagation.Pair, error) {
	publishers := map[string]destinations.Publisher{}
	for specifier, cfg := range p.Destinations {
		pub, err := dstReg.Create(cfg.Type, cfg.Configuration)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", specifier, err)
		}
		publishers[specifier] = pub
	}

	pairs := make([]propagation.Pair, 0, len(p.Sources))
	for i, entry := range p.Sources {
		src, err := srcReg.Create(entry.Type, entry.Configuration)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		pairs = append(pairs, propagation.Pair{
			Specifier: entry.Destination.Specifier,
			Source:    src,
			Rule:      entry.Destination.MappingToDestination,
			Publisher: publishers[entry.Destination.Specifier],
		})
	}
	return pairs, nil
}

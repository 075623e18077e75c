package bot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// optionsSchema renders a command's option list as a JSON Schema object.
func optionsSchema(opts []CommandOption) map[string]any {
	props := make(map[string]any, len(opts))
	required := []string{}
	for _, o := range opts {
		p := map[string]any{"type": jsonType(o.Type)}
		if len(o.Choices) > 0 {
			enum := make([]any, 0, len(o.Choices))
			for _, c := range o.Choices {
				enum = append(enum, c.Value)
			}
			p["enum"] = enum
		}
		if o.MinValue != nil {
			p["minimum"] = *o.MinValue
		}
		if o.MaxValue != nil {
			p["maximum"] = *o.MaxValue
		}
		if o.MinLength != nil {
			p["minLength"] = *o.MinLength
		}
		if o.MaxLength != nil {
			p["maxLength"] = *o.MaxLength
		}
		props[o.Name] = p
		if o.Required {
			required = append(required, o.Name)
		}
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func jsonType(t OptionType) string {
	switch t {
	case OptionInteger:
		return "integer"
	case OptionNumber:
		return "number"
	case OptionBoolean:
		return "boolean"
	default:
		// string, user, channel and role all arrive as strings
		return "string"
	}
}

func compileOptionsSchema(c Command) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(optionsSchema(c.Options))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", c.ID, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema for %q: %w", c.ID, err)
	}

	url := "command-" + string(c.ID) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("invalid schema for %q: %w", c.ID, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", c.ID, err)
	}
	return schema, nil
}

// validateOptions checks interaction options against the compiled schema.
func validateOptions(schema *jsonschema.Schema, opts map[string]any) error {
	if schema == nil {
		return nil
	}
	if opts == nil {
		opts = map[string]any{}
	}
	// Round-trip so option values have the shapes the validator expects.
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return schema.Validate(value)
}

package nlp

// schema.go derives a JSON schema from each extraction template and checks
// every model response against it before the response is accepted. The
// schemas are deliberately loose about presence (missing fields are how slot
// filling works) and strict about shape: a code that comes back as an object
// or a line-item array of strings is malformed output, not data.

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// extractionSchemas references templates, so Go's initialization dependency
// ordering compiles it after templates is parsed; an init func here would
// instead run before templates.go's initializer by file order and see an
// empty map.
var extractionSchemas = compileExtractionSchemas()

func compileExtractionSchemas() map[interaction.Kind]*jsonschema.Schema {
	schemas := make(map[interaction.Kind]*jsonschema.Schema, len(templates))
	for kind, tmpl := range templates {
		sch, err := compileExtractionSchema(kind, tmpl)
		if err != nil {
			panic(fmt.Sprintf("nlp: schema for %q: %v", kind, err))
		}
		schemas[kind] = sch
	}
	return schemas
}

func compileExtractionSchema(kind interaction.Kind, tmpl Template) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(tmpl.Fields))
	for name, spec := range tmpl.Fields {
		properties[name] = fieldSchema(spec)
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	name := string(kind) + ".json"
	if err := compiler.AddResource(name, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

func fieldSchema(spec FieldSpec) map[string]any {
	switch spec.Type {
	case "number":
		// Models occasionally return numerals as strings; the normalizer
		// coerces those, so both are acceptable shapes here.
		return map[string]any{"type": []string{"number", "string", "null"}}
	case "lines":
		return map[string]any{
			"type": []string{"array", "null"},
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ingredient":  map[string]any{"type": "string"},
					"quantity_kg": map[string]any{"type": []string{"number", "string"}},
				},
				"required": []string{"ingredient", "quantity_kg"},
			},
		}
	default:
		return map[string]any{"type": []string{"string", "null"}}
	}
}

// validateExtraction checks decoded model output against the kind's schema.
// A failure wraps ErrMalformedOutput so callers can distinguish it from an
// upstream outage.
func validateExtraction(kind interaction.Kind, fields map[string]any) error {
	sch, ok := extractionSchemas[kind]
	if !ok {
		return fmt.Errorf("nlp: no extraction schema for kind %q", kind)
	}
	// Round-trip through encoding/json so the value uses the generic shapes
	// the validator expects.
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := sch.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

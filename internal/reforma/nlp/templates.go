package nlp

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

//go:embed templates.yaml
var templatesYAML []byte

// FieldSpec describes one extractable field of a template.
type FieldSpec struct {
	// Type is "string", "number", or "lines" (the formula line-item array).
	Type string `yaml:"type"`
	// Verbatim marks fields that must be extracted exactly as typed.
	Verbatim bool `yaml:"verbatim"`
	// Hint is the instruction shown to the model for this field.
	Hint string `yaml:"hint"`
}

// Template is the extraction contract for one record-creation kind.
type Template struct {
	// Entity is the Spanish display name of the record ("materia prima").
	Entity   string               `yaml:"entity"`
	Required []string             `yaml:"required"`
	Optional []string             `yaml:"optional"`
	Fields   map[string]FieldSpec `yaml:"fields"`
}

type templateFile struct {
	Kinds map[string]Template `yaml:"kinds"`
}

// templates is a dependency-ordered var initializer (not an init func) so
// that extractionSchemas in schema.go, which ranges over it, is guaranteed
// to see the parsed map regardless of file initialization order.
var templates = mustParseTemplates()

func mustParseTemplates() map[interaction.Kind]Template {
	t, err := parseTemplates(templatesYAML)
	if err != nil {
		panic(fmt.Sprintf("nlp: invalid embedded templates: %v", err))
	}
	return t
}

// parseTemplates decodes and validates the template document.
func parseTemplates(data []byte) (map[interaction.Kind]Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	out := make(map[interaction.Kind]Template, len(file.Kinds))
	for name, tmpl := range file.Kinds {
		kind := interaction.Kind(name)
		if !kind.IsCreation() {
			return nil, fmt.Errorf("template %q is not a record-creation kind", name)
		}
		if strings.TrimSpace(tmpl.Entity) == "" {
			return nil, fmt.Errorf("template %q: entity must not be empty", name)
		}
		if len(tmpl.Required) == 0 {
			return nil, fmt.Errorf("template %q: at least one required field", name)
		}
		for _, f := range append(append([]string{}, tmpl.Required...), tmpl.Optional...) {
			spec, ok := tmpl.Fields[f]
			if !ok {
				return nil, fmt.Errorf("template %q: field %q has no spec", name, f)
			}
			switch spec.Type {
			case "string", "number", "lines":
			default:
				return nil, fmt.Errorf("template %q: field %q has unknown type %q", name, f, spec.Type)
			}
		}
		out[kind] = tmpl
	}

	for _, kind := range interaction.CreationKinds {
		if _, ok := out[kind]; !ok {
			return nil, fmt.Errorf("no template for kind %q", kind)
		}
	}
	return out, nil
}

// TemplateFor returns the extraction template for a record-creation kind.
func TemplateFor(kind interaction.Kind) (Template, bool) {
	t, ok := templates[kind]
	return t, ok
}

// fieldNames returns required then optional field names, each sorted, for
// deterministic prompt construction.
func (t Template) fieldNames() []string {
	req := append([]string{}, t.Required...)
	opt := append([]string{}, t.Optional...)
	sort.Strings(req)
	sort.Strings(opt)
	return append(req, opt...)
}

// isRequired reports whether the field is in the template's required set.
func (t Template) isRequired(field string) bool {
	for _, f := range t.Required {
		if f == field {
			return true
		}
	}
	return false
}

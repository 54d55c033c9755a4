package intake

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/store"
)

// FieldType constrains the values a field accepts.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeText   FieldType = "text"
	TypeDate   FieldType = "date"
	TypeEnum   FieldType = "enum"
	TypeBool   FieldType = "bool"
	TypeFlags  FieldType = "flags"
)

var validFieldTypes = map[FieldType]bool{
	TypeString: true, TypeText: true, TypeDate: true,
	TypeEnum: true, TypeBool: true, TypeFlags: true,
}

// DateLayout is the wire format of date fields.
const DateLayout = store.DateLayout

// Field describes one answer in the questionnaire.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Options  []string  `yaml:"options" json:"options,omitempty"`
	// VisibleWhen names a field that must hold a value before this one is shown.
	VisibleWhen string `yaml:"visibleWhen" json:"visibleWhen,omitempty"`
	// RequiredWhen names a field whose presence makes this one required.
	RequiredWhen string `yaml:"requiredWhen" json:"requiredWhen,omitempty"`
	// Child names the Child attribute this answer is projected onto.
	Child string `yaml:"child" json:"child,omitempty"`
}

// Step is a named group of fields shown together.
type Step struct {
	ID     string  `yaml:"id" json:"id"`
	Title  string  `yaml:"title" json:"title"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// RequiredFields returns the names of the unconditionally required fields.
func (s Step) RequiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// Schema is the ordered list of steps of the intake questionnaire.
type Schema struct {
	Version int `yaml:"version" json:"version"`
	// StrictAdvance makes Advance refuse to leave a step with missing
	// required fields.
	StrictAdvance bool   `yaml:"strictAdvance" json:"strictAdvance"`
	Steps         []Step `yaml:"steps" json:"steps"`

	fields map[string]Field
	stepOf map[string]int
}

//go:embed schema/intake.yaml
var defaultSchemaYAML []byte

// DefaultSchema returns the built-in five step questionnaire.
func DefaultSchema() *Schema {
	s, err := ParseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("intake: embedded schema invalid: %v", err))
	}
	return s
}

// LoadSchemaFile reads a schema from path, or returns the default schema
// when path is empty.
func LoadSchemaFile(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intake schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and checks a YAML schema.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse intake schema: %w", err)
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

// YAML renders the schema back to YAML.
func (s *Schema) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s *Schema) index() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("intake schema has no steps")
	}
	s.fields = make(map[string]Field)
	s.stepOf = make(map[string]int)
	for i, st := range s.Steps {
		if st.ID == "" {
			return fmt.Errorf("step %d has no id", i+1)
		}
		for _, f := range st.Fields {
			if f.Name == "" {
				return fmt.Errorf("step %s has a field without a name", st.ID)
			}
			if _, dup := s.fields[f.Name]; dup {
				return fmt.Errorf("field %s declared twice", f.Name)
			}
			if !validFieldTypes[f.Type] {
				return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
			}
			if (f.Type == TypeEnum || f.Type == TypeFlags) && len(f.Options) == 0 {
				return fmt.Errorf("field %s needs options", f.Name)
			}
			s.fields[f.Name] = f
			s.stepOf[f.Name] = i + 1
		}
	}
	for _, f := range s.fields {
		for _, dep := range []string{f.VisibleWhen, f.RequiredWhen} {
			if dep == "" {
				continue
			}
			if _, ok := s.fields[dep]; !ok {
				return fmt.Errorf("field %s depends on unknown field %s", f.Name, dep)
			}
		}
	}
	return nil
}

// Total returns the number of steps.
func (s *Schema) Total() int { return len(s.Steps) }

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// StepOf returns the 1-based step that declares name, or 0.
func (s *Schema) StepOf(name string) int { return s.stepOf[name] }

// Visible reports whether f is shown given the current answers.
func (s *Schema) Visible(f Field, values map[string]any) bool {
	if f.VisibleWhen == "" {
		return true
	}
	_, ok := values[f.VisibleWhen]
	return ok
}

func (s *Schema) required(f Field, values map[string]any) bool {
	if f.Required {
		return true
	}
	if f.RequiredWhen != "" {
		_, ok := values[f.RequiredWhen]
		return ok
	}
	return false
}

// Normalize type-checks v for field f. It returns the value to store and
// whether the value is blank, in which case the key should be absent.
func (s *Schema) Normalize(f Field, v any) (any, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	switch f.Type {
	case TypeString, TypeText, TypeDate, TypeEnum:
		str, ok := v.(string)
		if !ok {
			return nil, false, fmt.Errorf("must be a string")
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil, true, nil
		}
		switch f.Type {
		case TypeDate:
			if _, err := store.ParseDate(str); err != nil {
				return nil, false, fmt.Errorf("must be a date (YYYY-MM-DD)")
			}
		case TypeEnum:
			if !contains(f.Options, str) {
				return nil, false, fmt.Errorf("must be one of %s", strings.Join(f.Options, ", "))
			}
		}
		return str, false, nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, false, fmt.Errorf("must be a boolean")
		}
		if !b {
			return nil, true, nil
		}
		return true, false, nil

	case TypeFlags:
		out := map[string]any{}
		add := func(k string, raw any) error {
			if !contains(f.Options, k) {
				return fmt.Errorf("unknown option %s", k)
			}
			b, ok := raw.(bool)
			if !ok {
				return fmt.Errorf("option %s must be a boolean", k)
			}
			if b {
				out[k] = true
			}
			return nil
		}
		switch m := v.(type) {
		case map[string]any:
			for k, raw := range m {
				if err := add(k, raw); err != nil {
					return nil, false, err
				}
			}
		case map[string]bool:
			for k, b := range m {
				if err := add(k, b); err != nil {
					return nil, false, err
				}
			}
		default:
			return nil, false, fmt.Errorf("must be an object of booleans")
		}
		if len(out) == 0 {
			return nil, true, nil
		}
		return out, false, nil
	}
	return nil, false, fmt.Errorf("unsupported field type %s", f.Type)
}

// Clean type-checks every answer and drops blank ones. Unknown names are
// reported as errors.
func (s *Schema) Clean(values map[string]any) (map[string]any, []apperr.FieldError) {
	out := make(map[string]any, len(values))
	var errs []apperr.FieldError
	for _, name := range sortedKeys(values) {
		f, ok := s.fields[name]
		if !ok {
			errs = append(errs, apperr.FieldError{Field: name, Message: "unknown field"})
			continue
		}
		v, blank, err := s.Normalize(f, values[name])
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: name, Message: err.Error()})
			continue
		}
		if !blank {
			out[name] = v
		}
	}
	return out, errs
}

// MissingInStep returns the required fields of step (1-based) that have no
// answer.
func (s *Schema) MissingInStep(step int, values map[string]any) []apperr.FieldError {
	if step < 1 || step > len(s.Steps) {
		return nil
	}
	var errs []apperr.FieldError
	for _, f := range s.Steps[step-1].Fields {
		if _, ok := values[f.Name]; ok {
			continue
		}
		if !s.required(f, values) {
			continue
		}
		errs = append(errs, apperr.FieldError{Field: f.Name, Message: missingMessage(f)})
	}
	return errs
}

// Validate checks a complete answer set: types, unconditional and
// conditional requirements across every step.
func (s *Schema) Validate(values map[string]any) (map[string]any, error) {
	cleaned, errs := s.Clean(values)
	for i := range s.Steps {
		errs = append(errs, s.MissingInStep(i+1, cleaned)...)
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("", errs...)
	}
	return cleaned, nil
}

func missingMessage(f Field) string {
	if !f.Required && f.RequiredWhen != "" {
		return fmt.Sprintf("%s required when %s present", f.Name, f.RequiredWhen)
	}
	return fmt.Sprintf("%s is required", f.Name)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

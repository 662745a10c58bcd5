package entity

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// FieldType is the storage type of an entity field.
type FieldType int

const (
	String FieldType = iota
	Int
	Float
	Bool
	JSON
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case JSON:
		return "json"
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Field describes one column of an entity table. The id field is implicit.
type Field struct {
	Name     string
	Column   string
	Type     FieldType
	Required bool
}

// ColumnName returns Column, falling back to the snake_case field name.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return snakeCase(f.Name)
}

// Schema describes an entity type and how it is persisted.
//
// Historical schemas keep one row per version, tagged with the block range the
// version was valid for. Non-historical schemas keep only the latest value.
type Schema struct {
	Name       string
	Table      string
	Fields     []Field
	Historical bool
}

// TableName returns Table, falling back to the snake_case entity name.
func (s *Schema) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return snakeCase(s.Name)
}

// Field looks up a field by name. The id field is reported as a required string.
func (s *Schema) Field(name string) (Field, bool) {
	if name == IDField {
		return Field{Name: IDField, Column: IDField, Type: String, Required: true}, true
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Check validates the schema definition itself.
func (s *Schema) Check() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Fields, validation.By(func(any) error {
			seen := make(map[string]struct{}, len(s.Fields))
			for _, f := range s.Fields {
				if f.Name == "" {
					return fmt.Errorf("field name is required")
				}
				if f.Name == IDField {
					return fmt.Errorf("%q is implicit and cannot be declared", IDField)
				}
				col := f.ColumnName()
				if _, dup := seen[col]; dup {
					return fmt.Errorf("duplicate column %q", col)
				}
				seen[col] = struct{}{}
				if f.Type < String || f.Type > JSON {
					return fmt.Errorf("field %q has unknown type %d", f.Name, int(f.Type))
				}
			}
			return nil
		})),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, fmt.Sprintf("invalid schema %q", s.Name))
	}
	return nil
}

// Validate checks a record against the schema: id present, required fields
// set, values convertible to their field type, and no undeclared fields.
func (s *Schema) Validate(rec Record) error {
	if rec == nil {
		return goerrors.New(fmt.Sprintf("invalid %s record: nil", s.Name), goerrors.CategoryValidation)
	}

	rules := make([]*validation.KeyRules, 0, len(s.Fields)+1)
	rules = append(rules, validation.Key(IDField, validation.Required, validation.By(isString)))
	for _, f := range s.Fields {
		if f.Required {
			rules = append(rules, validation.Key(f.Name, validation.NotNil, validation.By(typeRule(f.Type))))
			continue
		}
		rules = append(rules, validation.Key(f.Name, validation.By(typeRule(f.Type))).Optional())
	}

	if err := validation.Validate(map[string]any(rec), validation.Map(rules...)); err != nil {
		return goerrors.FromOzzoValidation(err, fmt.Sprintf("invalid %s record", s.Name)).
			WithMetadata(map[string]any{"entity": s.Name, "id": rec.ID()})
	}
	return nil
}

// Normalize returns a copy of rec with every declared field coerced to its
// canonical Go type. Missing optional fields are set to nil.
func (s *Schema) Normalize(rec Record) (Record, error) {
	out := make(Record, len(s.Fields)+1)
	out[IDField] = rec.ID()
	for _, f := range s.Fields {
		v, err := Coerce(f.Type, rec[f.Name])
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, fmt.Sprintf("field %s.%s", s.Name, f.Name))
		}
		out[f.Name] = v
	}
	return out, nil
}

// Encode converts a field value into a driver value for writing.
func (f Field) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Type == JSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return Coerce(f.Type, v)
}

func isString(v any) error {
	if _, ok := v.(string); !ok {
		return fmt.Errorf("must be a string")
	}
	return nil
}

func typeRule(t FieldType) validation.RuleFunc {
	return func(v any) error {
		if v == nil {
			return nil
		}
		if t == JSON {
			if _, err := json.Marshal(v); err != nil {
				return fmt.Errorf("must be JSON encodable")
			}
			return nil
		}
		if _, err := Coerce(t, v); err != nil {
			return fmt.Errorf("must be a %s", t)
		}
		return nil
	}
}

// Package args binds the loosely typed parameter bag of an RPC request to a
// method's declared argument structure.
//
// Schemas are declared explicitly, field by field, instead of being derived
// from Go types at runtime:
//
//	type SumArgs struct{ First, Second int }
//
//	var sumSchema = args.NewSchema(func(v args.Values) SumArgs {
//	    return SumArgs{First: v.Int("first"), Second: v.Int("second")}
//	},
//	    args.Required("first", args.Int),
//	    args.Required("second", args.Int),
//	)
//
// Binding reports one FieldError per violated field, in declaration order.
// Parameters not declared by the schema are ignored.
package args

import (
	"slices"
	"sort"

	"github.com/google/uuid"
)

// EmptyArgs is the sentinel passed down the chain for methods that declare
// no argument schema.
type EmptyArgs struct{}

// Empty is the single EmptyArgs value.
var Empty = EmptyArgs{}

// Field declares one named argument.
type Field struct {
	Name        string
	Alias       string
	Type        Type
	Required    bool
	Description string

	// Default produces the value used when an optional field is absent.
	// It runs on every bind so mutable defaults are never shared.
	Default func() any
}

// Required declares a field that must be present.
func Required(name string, t Type) Field {
	return Field{Name: name, Type: t, Required: true}
}

// Optional declares a field that may be absent. Absent optional fields
// without a default are not set in Values.
func Optional(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

// WithDefault declares an optional field whose absence yields def().
func WithDefault(name string, t Type, def func() any) Field {
	return Field{Name: name, Type: t, Default: def}
}

// As sets the wire alias of the field. Params may still use the field name.
func (f Field) As(alias string) Field {
	f.Alias = alias
	return f
}

// Describe attaches a human readable description used by method catalogs.
func (f Field) Describe(description string) Field {
	f.Description = description
	return f
}

// Key is the name the field is expected under on the wire.
func (f Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func (f Field) lookup(raw map[string]any) (any, bool) {
	if v, ok := raw[f.Key()]; ok {
		return v, true
	}
	if f.Alias != "" {
		v, ok := raw[f.Name]
		return v, ok
	}
	return nil, false
}

// Binder validates raw params. Bind returns the bound argument value or a
// *ValidationError.
type Binder interface {
	Bind(params map[string]any) (any, error)
	Fields() []Field
}

// Schema declares the fields of an argument structure T and how to build T
// from the validated Values.
type Schema[T any] struct {
	fields []Field
	build  func(Values) T
}

// NewSchema returns a schema over fields. build is only called once every
// field has been validated.
func NewSchema[T any](build func(Values) T, fields ...Field) *Schema[T] {
	return &Schema[T]{
		fields: slices.Clone(fields),
		build:  build,
	}
}

// Decode validates params and builds T.
func (s *Schema[T]) Decode(params map[string]any) (T, error) {
	var zero T
	values, errs := bindFields(s.fields, params, nil)
	if len(errs) > 0 {
		return zero, &ValidationError{Errors: errs}
	}
	return s.build(values), nil
}

// Bind implements Binder.
func (s *Schema[T]) Bind(params map[string]any) (any, error) {
	v, err := s.Decode(params)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Fields returns a copy of the declared fields.
func (s *Schema[T]) Fields() []Field {
	return slices.Clone(s.fields)
}

func bindFields(fields []Field, raw map[string]any, at Path) (Values, []FieldError) {
	values := Values{m: make(map[string]any, len(fields))}
	var errs []FieldError
	for _, f := range fields {
		loc := at.Append(f.Key())
		v, present := f.lookup(raw)
		if !present {
			switch {
			case f.Required:
				errs = append(errs, FieldError{Location: loc, Type: ErrMissing, Msg: "field required"})
			case f.Default != nil:
				values.m[f.Name] = f.Default()
			}
			continue
		}
		if v == nil && !f.Required {
			values.m[f.Name] = nil
			continue
		}
		bound, fieldErrs := coerceValue(f.Type, v, loc)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		values.m[f.Name] = bound
	}
	return values, errs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values holds validated field values keyed by field name.
//
// Accessors return the zero value when the field is absent or null.
type Values struct {
	m map[string]any
}

// Has reports whether the field was supplied or defaulted.
func (v Values) Has(name string) bool {
	_, ok := v.m[name]
	return ok
}

func (v Values) Get(name string) any { return v.m[name] }

func (v Values) Int(name string) int {
	n, _ := v.m[name].(int64)
	return int(n)
}

func (v Values) Int64(name string) int64 {
	n, _ := v.m[name].(int64)
	return n
}

func (v Values) Float(name string) float64 {
	f, _ := v.m[name].(float64)
	return f
}

func (v Values) String(name string) string {
	s, _ := v.m[name].(string)
	return s
}

func (v Values) Bool(name string) bool {
	b, _ := v.m[name].(bool)
	return b
}

func (v Values) UUID(name string) uuid.UUID {
	u, _ := v.m[name].(uuid.UUID)
	return u
}

func (v Values) Object(name string) Values {
	o, _ := v.m[name].(Values)
	return o
}

func (v Values) List(name string) []any {
	l, _ := v.m[name].([]any)
	return l
}

func (v Values) Map(name string) map[string]any {
	m, _ := v.m[name].(map[string]any)
	return m
}

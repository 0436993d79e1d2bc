package args

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Type coerces one raw parameter value into its bound form.
//
// Implementations never panic on unexpected input; every mismatch is
// reported as a FieldError located at the given path.
type Type interface {
	Name() string
	Coerce(v any, at Path) (any, []FieldError)
}

type intType struct{}
type floatType struct{}
type stringType struct{}
type boolType struct{}
type uuidType struct{}
type anyType struct{}

var (
	// Int binds integral numbers and numeric strings to int64. Booleans
	// are rejected rather than read as 0 or 1.
	Int Type = intType{}
	// Float binds numbers and numeric strings to float64. Booleans are
	// rejected.
	Float Type = floatType{}
	// String binds strings only.
	String Type = stringType{}
	// Bool binds booleans, 0/1 and the usual textual spellings.
	Bool Type = boolType{}
	// UUID binds canonical UUID strings to uuid.UUID.
	UUID Type = uuidType{}
	// Any passes the raw value through unchanged.
	Any Type = anyType{}
)

func (intType) Name() string { return "integer" }

func (intType) Coerce(v any, at Path) (any, []FieldError) {
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return nil, fieldError(at, ErrInteger, "value is not a valid integer")
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func uintToInt64(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return 0, false
	}
	if f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (floatType) Name() string { return "number" }

func (floatType) Coerce(v any, at Path) (any, []FieldError) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, nil
		}
	case bool:
	default:
		if i, ok := toInt64(v); ok {
			return float64(i), nil
		}
	}
	return nil, fieldError(at, ErrFloat, "value is not a valid float")
}

func (stringType) Name() string { return "string" }

func (stringType) Coerce(v any, at Path) (any, []FieldError) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return nil, fieldError(at, ErrString, "str type expected")
}

func (boolType) Name() string { return "boolean" }

func (boolType) Coerce(v any, at Path) (any, []FieldError) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on", "y", "t":
			return true, nil
		case "0", "false", "no", "off", "n", "f":
			return false, nil
		}
	default:
		if i, ok := toInt64(v); ok && (i == 0 || i == 1) {
			return i == 1, nil
		}
	}
	return nil, fieldError(at, ErrBool, "value could not be parsed to a boolean")
}

func (uuidType) Name() string { return "uuid" }

func (uuidType) Coerce(v any, at Path) (any, []FieldError) {
	switch u := v.(type) {
	case uuid.UUID:
		return u, nil
	case string:
		if parsed, err := uuid.Parse(strings.TrimSpace(u)); err == nil {
			return parsed, nil
		}
	}
	return nil, fieldError(at, ErrUUID, "value is not a valid uuid")
}

func (anyType) Name() string { return "any" }

func (anyType) Coerce(v any, _ Path) (any, []FieldError) { return v, nil }

type constType struct {
	value any
}

// Const accepts exactly one permitted value.
func Const(v any) Type { return constType{value: v} }

func (c constType) Name() string { return fmt.Sprintf("const(%v)", c.value) }

func (c constType) Coerce(v any, at Path) (any, []FieldError) {
	if v == c.value {
		return v, nil
	}
	permitted := fmt.Sprint(c.value)
	if s, ok := c.value.(string); ok {
		permitted = "'" + s + "'"
	}
	return nil, fieldError(at, ErrConst, "unexpected value; permitted: "+permitted)
}

type listType struct {
	elem Type
}

// ListOf binds a JSON array whose elements all bind to elem.
func ListOf(elem Type) Type { return listType{elem: elem} }

func (l listType) Name() string { return "array[" + l.elem.Name() + "]" }

func (l listType) Coerce(v any, at Path) (any, []FieldError) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fieldError(at, ErrList, "value is not a valid list")
	}
	out := make([]any, len(raw))
	var errs []FieldError
	for i, item := range raw {
		bound, itemErrs := coerceValue(l.elem, item, at.Append(i))
		if len(itemErrs) > 0 {
			errs = append(errs, itemErrs...)
			continue
		}
		out[i] = bound
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

type mapType struct {
	elem Type
}

// MapOf binds a JSON object with arbitrary keys whose values bind to elem.
func MapOf(elem Type) Type { return mapType{elem: elem} }

func (m mapType) Name() string { return "map[" + m.elem.Name() + "]" }

func (m mapType) Coerce(v any, at Path) (any, []FieldError) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError(at, ErrDict, "value is not a valid dict")
	}
	out := make(map[string]any, len(raw))
	var errs []FieldError
	for _, k := range sortedKeys(raw) {
		bound, itemErrs := coerceValue(m.elem, raw[k], at.Append(k))
		if len(itemErrs) > 0 {
			errs = append(errs, itemErrs...)
			continue
		}
		out[k] = bound
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

type objectType struct {
	fields []Field
}

// Object binds a nested JSON object against its own declared fields and
// yields Values.
func Object(fields ...Field) Type {
	return objectType{fields: append([]Field(nil), fields...)}
}

func (o objectType) Name() string { return "object" }

func (o objectType) Coerce(v any, at Path) (any, []FieldError) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError(at, ErrDict, "value is not a valid dict")
	}
	values, errs := bindFields(o.fields, raw, at)
	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

// coerceValue rejects JSON null before delegating, except for Any.
func coerceValue(t Type, v any, at Path) (any, []FieldError) {
	if v == nil {
		if _, ok := t.(anyType); ok {
			return nil, nil
		}
		return nil, fieldError(at, ErrNoneAllowed, "none is not an allowed value")
	}
	return t.Coerce(v, at)
}

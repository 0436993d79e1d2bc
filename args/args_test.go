package args

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sumArgs struct {
	First, Second int
}

var sumSchema = NewSchema(func(v Values) sumArgs {
	return sumArgs{First: v.Int("first"), Second: v.Int("second")}
},
	Required("first", Int),
	Required("second", Int),
)

func TestSchemaDecode(t *testing.T) {
	got, err := sumSchema.Decode(map[string]any{"first": float64(1), "second": json.Number("2")})
	require.NoError(t, err)
	assert.Equal(t, sumArgs{First: 1, Second: 2}, got)
}

func TestBuildRunsOnlyOnValidParams(t *testing.T) {
	builds := 0
	s := NewSchema(func(v Values) int {
		builds++
		return v.Int("n")
	}, Required("n", Int))

	_, err := s.Decode(map[string]any{"n": "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, builds)

	got, err := s.Decode(map[string]any{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 1, builds)
}

func TestSchemaErrorsKeepDeclarationOrder(t *testing.T) {
	_, err := sumSchema.Bind(map[string]any{"first": "abc", "third": 2})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 2)

	assert.Equal(t, Path{"first"}, verr.Errors[0].Location)
	assert.Equal(t, "value is not a valid integer", verr.Errors[0].Msg)
	assert.Equal(t, "TYPE_ERROR", verr.Errors[0].Category())

	assert.Equal(t, Path{"second"}, verr.Errors[1].Location)
	assert.Equal(t, "field required", verr.Errors[1].Msg)
	assert.Equal(t, "VALUE_ERROR", verr.Errors[1].Category())
}

func TestAliasAndPopulationByName(t *testing.T) {
	schema := NewSchema(func(v Values) int { return v.Int("first_arg") },
		Required("first_arg", Int).As("firstArg"),
	)

	n, err := schema.Decode(map[string]any{"firstArg": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = schema.Decode(map[string]any{"first_arg": 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = schema.Decode(map[string]any{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, Path{"firstArg"}, verr.Errors[0].Location)
}

func TestDefaultsAreNotShared(t *testing.T) {
	schema := NewSchema(func(v Values) map[string]any { return v.Map("tags") },
		WithDefault("tags", MapOf(String), func() any { return map[string]any{} }),
	)

	first, err := schema.Decode(nil)
	require.NoError(t, err)
	first["mutated"] = "yes"

	second, err := schema.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestNestedPaths(t *testing.T) {
	schema := NewSchema(func(v Values) Values { return v },
		Required("user", Object(
			Required("id", UUID),
			Optional("age", Int),
		)),
		Optional("scores", ListOf(Float)),
	)

	_, err := schema.Decode(map[string]any{
		"user":   map[string]any{"id": "nope", "age": "x"},
		"scores": []any{1.5, "bad"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 3)
	assert.Equal(t, Path{"user", "id"}, verr.Errors[0].Location)
	assert.Equal(t, ErrUUID, verr.Errors[0].Type)
	assert.Equal(t, Path{"user", "age"}, verr.Errors[1].Location)
	assert.Equal(t, Path{"scores", 1}, verr.Errors[2].Location)

	id := uuid.New()
	v, err := schema.Decode(map[string]any{"user": map[string]any{"id": id.String()}})
	require.NoError(t, err)
	assert.Equal(t, id, v.Object("user").UUID("id"))
	assert.False(t, v.Object("user").Has("age"))
	assert.False(t, v.Has("scores"))
}

func TestScalarCoercion(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		in   any
		want any
		err  string
	}{
		{"int from string", Int, " 42 ", int64(42), ""},
		{"int from integral float", Int, float64(7), int64(7), ""},
		{"int rejects fraction", Int, 1.5, nil, ErrInteger},
		{"int rejects bool", Int, true, nil, ErrInteger},
		{"float from int", Float, 3, float64(3), ""},
		{"float from string", Float, "2.5", 2.5, ""},
		{"float rejects bool", Float, false, nil, ErrFloat},
		{"string strict", String, 10, nil, ErrString},
		{"bool from text", Bool, "yes", true, ""},
		{"bool from zero", Bool, float64(0), false, ""},
		{"bool rejects two", Bool, 2, nil, ErrBool},
		{"const ok", Const("smartapp_rpc"), "smartapp_rpc", "smartapp_rpc", ""},
		{"const mismatch", Const("smartapp_rpc"), "other", nil, ErrConst},
		{"list rejects object", ListOf(Int), map[string]any{}, nil, ErrList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := tt.typ.Coerce(tt.in, Path{"f"})
			if tt.err != "" {
				require.Len(t, errs, 1)
				assert.Equal(t, tt.err, errs[0].Type)
				return
			}
			require.Empty(t, errs)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConstMessage(t *testing.T) {
	_, errs := Const("smartapp_rpc").Coerce("x", Path{"type"})
	require.Len(t, errs, 1)
	assert.Equal(t, "unexpected value; permitted: 'smartapp_rpc'", errs[0].Msg)
}

func TestNullHandling(t *testing.T) {
	schema := NewSchema(func(v Values) Values { return v },
		Required("a", Int),
		Optional("b", Int),
	)
	v, err := schema.Decode(map[string]any{"a": 1, "b": nil})
	require.NoError(t, err)
	assert.True(t, v.Has("b"))
	assert.Nil(t, v.Get("b"))

	_, err = schema.Decode(map[string]any{"a": nil})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrNoneAllowed, verr.Errors[0].Type)
	assert.Equal(t, "TYPE_ERROR", verr.Errors[0].Category())
}

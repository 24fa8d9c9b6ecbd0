package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestConditionEvalLeafOperators(t *testing.T) {
	payload := map[string]any{
		"invites":  float64(5),
		"plan":     "pro",
		"tags":     []any{"beta", "founder"},
		"referrer": map[string]any{"country": "DE"},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq number", Condition{Field: "invites", Op: OpEq, Value: 5}, true},
		{"eq string", Condition{Field: "plan", Op: OpEq, Value: "pro"}, true},
		{"neq", Condition{Field: "plan", Op: OpNeq, Value: "free"}, true},
		{"gt true", Condition{Field: "invites", Op: OpGt, Value: 3}, true},
		{"gt false", Condition{Field: "invites", Op: OpGt, Value: 5}, false},
		{"gte boundary", Condition{Field: "invites", Op: OpGte, Value: 5}, true},
		{"lt", Condition{Field: "invites", Op: OpLt, Value: 10}, true},
		{"lte boundary", Condition{Field: "invites", Op: OpLte, Value: 5}, true},
		{"contains list", Condition{Field: "tags", Op: OpContains, Value: "beta"}, true},
		{"contains substring", Condition{Field: "plan", Op: OpContains, Value: "pr"}, true},
		{"in", Condition{Field: "plan", Op: OpIn, Value: []any{"free", "pro"}}, true},
		{"in miss", Condition{Field: "plan", Op: OpIn, Value: []any{"free"}}, false},
		{"dotted path", Condition{Field: "referrer.country", Op: OpEq, Value: "DE"}, true},
		{"unknown field", Condition{Field: "missing", Op: OpEq, Value: 1}, false},
		{"unknown op", Condition{Field: "invites", Op: "between", Value: 1}, false},
		{"non-numeric comparison", Condition{Field: "plan", Op: OpGt, Value: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.cond.Eval(payload))
		})
	}
}

func TestConditionEvalComposites(t *testing.T) {
	payload := map[string]any{"invites": float64(5), "plan": "pro"}

	all := Condition{All: []Condition{
		{Field: "invites", Op: OpGte, Value: 5},
		{Field: "plan", Op: OpEq, Value: "pro"},
	}}
	require.True(t, all.Eval(payload))

	all.All[1].Value = "free"
	require.False(t, all.Eval(payload))

	any := Condition{Any: []Condition{
		{Field: "plan", Op: OpEq, Value: "free"},
		{Field: "invites", Op: OpGt, Value: 1},
	}}
	require.True(t, any.Eval(payload))

	nested := Condition{All: []Condition{
		{Field: "invites", Op: OpGt, Value: 0},
		{Any: []Condition{
			{Field: "plan", Op: OpEq, Value: "enterprise"},
			{Field: "plan", Op: OpEq, Value: "pro"},
		}},
	}}
	require.True(t, nested.Eval(payload))
}

func TestConditionEvalNilMatchesAll(t *testing.T) {
	var cond *Condition
	require.True(t, cond.Eval(nil))
	require.True(t, cond.Eval(map[string]any{"anything": 1}))

	empty := Condition{}
	require.True(t, empty.Eval(map[string]any{"anything": 1}))
}

func TestParseConditionsRoundTrip(t *testing.T) {
	cond, err := ParseConditions(nil)
	require.NoError(t, err)
	require.Nil(t, cond)

	raw := datatypes.JSON(`{"all":[{"field":"invites","op":"gte","value":3}]}`)
	cond, err = ParseConditions(raw)
	require.NoError(t, err)
	require.Len(t, cond.All, 1)
	require.Equal(t, "invites", cond.All[0].Field)

	encoded, err := MarshalConditions(cond)
	require.NoError(t, err)

	decoded, err := ParseConditions(encoded)
	require.NoError(t, err)
	require.Equal(t, cond, decoded)

	_, err = ParseConditions(datatypes.JSON(`{not json`))
	require.Error(t, err)
}

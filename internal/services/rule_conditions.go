package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// Condition is a small tagged predicate evaluated against an event payload.
// Leaves carry field/op/value; composites carry All or Any children. The
// whole tree is JSON so rules stay portable, and no dynamic code ever runs
// during evaluation.
type Condition struct {
	All   []Condition `json:"all,omitempty"`
	Any   []Condition `json:"any,omitempty"`
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
}

// Supported leaf operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
)

// ParseConditions decodes a stored condition tree. Empty input means the rule
// matches unconditionally and yields a nil condition.
func ParseConditions(raw datatypes.JSON) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, fmt.Errorf("rule conditions: decode: %w", err)
	}
	return &cond, nil
}

// MarshalConditions encodes a condition tree for storage.
func MarshalConditions(cond *Condition) (datatypes.JSON, error) {
	if cond == nil {
		return nil, nil
	}
	data, err := json.Marshal(cond)
	if err != nil {
		return nil, fmt.Errorf("rule conditions: encode: %w", err)
	}
	return datatypes.JSON(data), nil
}

// Eval applies the predicate to a payload. A nil condition matches
// everything; an unknown field or operator matches nothing.
func (c *Condition) Eval(payload map[string]any) bool {
	if c == nil {
		return true
	}

	if len(c.All) > 0 {
		for _, child := range c.All {
			if !child.Eval(payload) {
				return false
			}
		}
		return true
	}

	if len(c.Any) > 0 {
		for _, child := range c.Any {
			if child.Eval(payload) {
				return true
			}
		}
		return false
	}

	if c.Field == "" && c.Op == "" {
		return true
	}

	actual, ok := lookupField(payload, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return valuesEqual(actual, c.Value)
	case OpNeq:
		return !valuesEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		left, leftOK := toFloat(actual)
		right, rightOK := toFloat(c.Value)
		if !leftOK || !rightOK {
			return false
		}
		switch c.Op {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	case OpContains:
		if list, ok := actual.([]any); ok {
			for _, item := range list {
				if valuesEqual(item, c.Value) {
					return true
				}
			}
			return false
		}
		return strings.Contains(stringify(actual), stringify(c.Value))
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if valuesEqual(actual, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookupField resolves a dotted path into nested payload maps.
func lookupField(payload map[string]any, field string) (any, bool) {
	if payload == nil || field == "" {
		return nil, false
	}

	parts := strings.Split(field, ".")
	var current any = payload
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares numerically when both sides are numbers, otherwise by
// string form. JSON decoding yields float64 for every number, so an int rule
// value still matches a decoded payload.
func valuesEqual(a, b any) bool {
	left, leftOK := toFloat(a)
	right, rightOK := toFloat(b)
	if leftOK && rightOK {
		return left == right
	}
	return stringify(a) == stringify(b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

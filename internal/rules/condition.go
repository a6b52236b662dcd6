package rules

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "controlplane/pkg/errors"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpIsTrue      Operator = "isTrue"
	OpIsFalse     Operator = "isFalse"
)

var operators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpContains:    true,
	OpIn:          true,
	OpIsTrue:      true,
	OpIsFalse:     true,
}

// requiresPresence lists operators whose semantics are meaningless on an
// absent field. For these an absent (or non-numeric) field is a ContextError
// outcome rather than NotMatched.
var requiresPresence = map[Operator]bool{
	OpGreaterThan: true,
	OpLessThan:    true,
}

// Condition is a single (field, operator, value) predicate. Conditions are
// structured data, never free-form expression strings, so they can be
// validated at write time and rendered verbatim in explanations.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
	// Values holds the comparison set for the "in" operator.
	Values []string `json:"values,omitempty"`
}

// Validate rejects malformed conditions before they are persisted.
// Evaluation assumes conditions passed this check.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return dErrors.New(dErrors.CodeValidation, "condition field is required")
	}
	if !operators[c.Operator] {
		return dErrors.Newf(dErrors.CodeValidation, "unknown operator %q", c.Operator)
	}
	switch c.Operator {
	case OpIsTrue, OpIsFalse:
		if c.Value != "" || len(c.Values) > 0 {
			return dErrors.Newf(dErrors.CodeValidation, "operator %q takes no comparison value", c.Operator)
		}
	case OpIn:
		if len(c.Values) == 0 {
			return dErrors.New(dErrors.CodeValidation, "operator \"in\" requires a non-empty value list")
		}
	case OpGreaterThan, OpLessThan:
		if _, err := strconv.ParseFloat(c.Value, 64); err != nil {
			return dErrors.Newf(dErrors.CodeValidation, "operator %q requires a numeric comparison value", c.Operator)
		}
	default:
		if c.Value == "" {
			return dErrors.Newf(dErrors.CodeValidation, "operator %q requires a comparison value", c.Operator)
		}
	}
	return nil
}

// String renders the condition for audit records and explanations.
func (c Condition) String() string {
	switch c.Operator {
	case OpIsTrue, OpIsFalse:
		return fmt.Sprintf("%s %s", c.Field, c.Operator)
	case OpIn:
		return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(c.Values, ", "))
	default:
		return fmt.Sprintf("%s %s %q", c.Field, c.Operator, c.Value)
	}
}

// Eval applies the condition to the context. The bool result is only
// meaningful when the error is nil; a non-nil error is a ContextError
// (required field missing or wrong type), never an evaluation abort.
func (c Condition) Eval(ctx Context) (bool, error) {
	v, present := ctx.Lookup(c.Field)
	if !present {
		if requiresPresence[c.Operator] {
			return false, dErrors.Newf(dErrors.CodeContext,
				"field %q required by operator %q is absent from context", c.Field, c.Operator)
		}
		return false, nil
	}

	switch c.Operator {
	case OpEquals:
		return scalarString(v) == c.Value, nil
	case OpNotEquals:
		return scalarString(v) != c.Value, nil
	case OpGreaterThan, OpLessThan:
		if v.Kind != KindNumber {
			return false, dErrors.Newf(dErrors.CodeContext,
				"field %q must be numeric for operator %q, got %s", c.Field, c.Operator, v.Kind)
		}
		threshold, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			// Rejected at write time; kept as a guard for rules predating validation.
			return false, dErrors.Newf(dErrors.CodeContext,
				"comparison value %q is not numeric", c.Value)
		}
		if c.Operator == OpGreaterThan {
			return v.Num > threshold, nil
		}
		return v.Num < threshold, nil
	case OpContains:
		if v.Kind == KindSet {
			for _, member := range v.Set {
				if member == c.Value {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(scalarString(v), c.Value), nil
	case OpIn:
		target := scalarString(v)
		for _, candidate := range c.Values {
			if candidate == target {
				return true, nil
			}
		}
		return false, nil
	case OpIsTrue:
		return v.Kind == KindBool && v.Bool, nil
	case OpIsFalse:
		return v.Kind == KindBool && !v.Bool, nil
	default:
		return false, dErrors.Newf(dErrors.CodeContext, "unknown operator %q", c.Operator)
	}
}

// scalarString renders a value for string-wise comparison. Set values never
// compare equal to a scalar; contains/in handle them explicitly.
func scalarString(v Value) string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

package rules

import (
	"sort"
	"strconv"
	"strings"
)

// Value is one evaluation-context entry. Exactly one field is set; the
// condition operators switch on Kind rather than reflecting over any.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Set  []string
}

// ValueKind discriminates the Value union.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindSet    ValueKind = "set"
)

// String wraps a string context value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number wraps a numeric context value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool wraps a boolean context value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Set wraps a string-set context value. The slice is copied and sorted so two
// contexts built from the same answers compare (and serialize) identically.
func Set(members []string) Value {
	copied := make([]string, len(members))
	copy(copied, members)
	sort.Strings(copied)
	return Value{Kind: KindSet, Set: copied}
}

// Display renders the value for audit output.
func (v Value) Display() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindSet:
		return "[" + strings.Join(v.Set, ", ") + "]"
	default:
		return ""
	}
}

// Context is the immutable key-value map rule conditions and overlay triggers
// read. It is the only input evaluation may consult: no clocks, no stores.
type Context struct {
	values map[string]Value
}

// NewContext copies entries into an immutable context.
func NewContext(entries map[string]Value) Context {
	values := make(map[string]Value, len(entries))
	for k, v := range entries {
		if v.Kind == KindSet {
			v = Set(v.Set)
		}
		values[k] = v
	}
	return Context{values: values}
}

// Lookup returns the value for field and whether it is present.
func (c Context) Lookup(field string) (Value, bool) {
	v, ok := c.values[field]
	return v, ok
}

// Fields returns the context's field names in sorted order.
func (c Context) Fields() []string {
	fields := make([]string, 0, len(c.values))
	for k := range c.values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Factors exposes the context as a plain map for explainability payloads.
// The returned map is a copy; mutating it does not touch the context.
func (c Context) Factors() map[string]Value {
	factors := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		factors[k] = v
	}
	return factors
}

// Len returns the number of context fields.
func (c Context) Len() int { return len(c.values) }

// Package filter validates raw, multi-valued query parameters against a
// declarative field schema and normalizes them into storage-agnostic
// conditions.
//
// A Spec is built once from FieldSpec values and is read-only afterwards, so
// it can be shared by concurrent requests. Spec.Normalize runs a fixed,
// ordered pipeline of stages (whitelist, sort keys, duplicates, empty values,
// type/format, semantic rules, cross-field rules) and either returns a Query
// or a *ValidationError listing every problem it found.
package filter

import (
	"errors"
	"fmt"
)

// Kind is the expected shape of a field value.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindBoolean
	KindTime
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindTime:
		return "time"
	case KindEnum:
		return "enum"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Operator is a comparison applied between a stored attribute and a filter value.
type Operator string

const (
	OpExact    Operator = "exact"
	OpContains Operator = "contains"
	OpLTE      Operator = "lte"
	OpGTE      Operator = "gte"
	OpIn       Operator = "in"
)

// operatorKinds lists the kinds each operator can be applied to.
var operatorKinds = map[Operator]map[Kind]bool{
	OpExact:    {KindString: true, KindInteger: true, KindBoolean: true, KindTime: true, KindEnum: true},
	OpContains: {KindString: true, KindEnum: true},
	OpLTE:      {KindInteger: true, KindTime: true},
	OpGTE:      {KindInteger: true, KindTime: true},
	OpIn:       {KindString: true, KindInteger: true, KindEnum: true},
}

// Choice is one accepted code of an enum field with its display label.
type Choice struct {
	Code  string
	Label string
}

// FieldSpec describes one filterable field.
//
// The first operator is the field default and is addressed by the bare field
// name in the query string. Every other operator is addressed as
// "<name>_<operator>", e.g. "opening_time_lte" or "manager_ids_in".
type FieldSpec struct {
	Name        string
	Kind        Kind
	Operators   []Operator
	StoragePath string

	// Choices is required for KindEnum and ignored otherwise.
	Choices []Choice
	// MatchLabels also accepts a choice's display label, case-insensitively.
	MatchLabels bool

	// Minimum is an optional lower bound for KindInteger values.
	Minimum *int64
	// MinimumMessage overrides the default BelowMinimum message.
	MinimumMessage string

	// Rules are semantic predicates run on raw values that passed the
	// type/format stage.
	Rules []Rule
}

// Bound returns a pointer to n, for use as FieldSpec.Minimum.
func Bound(n int64) *int64 {
	return &n
}

// path returns the storage path, defaulting to the field name.
func (f *FieldSpec) path() string {
	if f.StoragePath != "" {
		return f.StoragePath
	}
	return f.Name
}

// key returns the query-string key addressing op on this field.
func (f *FieldSpec) key(op Operator) string {
	if len(f.Operators) > 0 && f.Operators[0] == op {
		return f.Name
	}
	return f.Name + "_" + string(op)
}

func (f *FieldSpec) check() error {
	var errs []error
	if f.Name == "" {
		errs = append(errs, errors.New("field name is required"))
	}
	if !operatorKinds[OpExact][f.Kind] {
		errs = append(errs, fmt.Errorf("field %q: unknown kind %s", f.Name, f.Kind))
	}
	if len(f.Operators) == 0 {
		errs = append(errs, fmt.Errorf("field %q: at least one operator is required", f.Name))
	}
	seen := make(map[Operator]bool, len(f.Operators))
	for _, op := range f.Operators {
		kinds, ok := operatorKinds[op]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("field %q: unknown operator %q", f.Name, op))
		case !kinds[f.Kind]:
			errs = append(errs, fmt.Errorf("field %q: operator %q does not apply to %s fields", f.Name, op, f.Kind))
		}
		if seen[op] {
			errs = append(errs, fmt.Errorf("field %q: operator %q listed twice", f.Name, op))
		}
		seen[op] = true
	}
	if f.Kind == KindEnum && len(f.Choices) == 0 {
		errs = append(errs, fmt.Errorf("field %q: enum fields need at least one choice", f.Name))
	}
	if f.Minimum != nil && f.Kind != KindInteger {
		errs = append(errs, fmt.Errorf("field %q: minimum only applies to integer fields", f.Name))
	}
	for i, r := range f.Rules {
		if r.Code == "" || r.Check == nil {
			errs = append(errs, fmt.Errorf("field %q: rule %d needs a code and a check", f.Name, i))
		}
	}
	return errors.Join(errs...)
}

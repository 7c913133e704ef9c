package filter

import (
	"fmt"
	"strings"
)

// Condition is one normalized (storage path, operator, value) triple.
//
// Value holds the coerced type of the field: string, int64, bool,
// model.TimeOfDay, or the canonical enum code. OpIn carries a slice of the
// element type ([]string or []int64).
type Condition struct {
	Param string
	Path  string
	Op    Operator
	Value any
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Path, c.Op, c.Value)
}

// SortKey is one resolved ordering term.
type SortKey struct {
	Key  string
	Path string
	Desc bool
}

func (k SortKey) String() string {
	if k.Desc {
		return "-" + k.Key
	}
	return k.Key
}

// Query is the validated, storage-agnostic form of a filter request. Page and
// PageSize are zero when the client did not send them.
type Query struct {
	Conditions []Condition
	Sort       []SortKey
	Page       int
	PageSize   int
}

// Condition returns the condition produced by the given query key.
func (q Query) Condition(param string) (Condition, bool) {
	for _, c := range q.Conditions {
		if c.Param == param {
			return c, true
		}
	}
	return Condition{}, false
}

// Empty reports whether the query filters nothing.
func (q Query) Empty() bool {
	return len(q.Conditions) == 0
}

// Ordering renders the sort directive back into ordering parameter form.
func (q Query) Ordering() string {
	terms := make([]string, len(q.Sort))
	for i, k := range q.Sort {
		terms[i] = k.String()
	}
	return strings.Join(terms, ",")
}

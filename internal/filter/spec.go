package filter

import (
	"errors"
	"fmt"
	"sort"
)

// Reserved parameters handled outside the per-field stages.
const (
	ParamPage     = "page"
	ParamPageSize = "page_size"
	ParamOrdering = "ordering"
)

// DefaultReserved is the reserved parameter set every Spec starts with.
var DefaultReserved = []string{ParamPage, ParamPageSize, ParamOrdering}

// SortField maps an externally exposed sort key to a storage path. A leading
// "-" on the key in the ordering parameter flips the direction.
type SortField struct {
	Key  string
	Path string
}

// param binds one query-string key to a field and operator.
type param struct {
	key   string
	field *FieldSpec
	op    Operator
}

// Spec is the filter schema of one resource view. It is immutable after
// NewSpec returns.
type Spec struct {
	name      string
	params    []param
	byKey     map[string]param
	sortable  []SortField
	sortByKey map[string]SortField
	reserved  []string
	isReserve map[string]bool
	cross     []CrossRule
	allowed   []string
}

// Option configures a Spec under construction.
type Option func(*Spec)

// WithSort declares the sortable fields, in display order.
func WithSort(fields ...SortField) Option {
	return func(s *Spec) {
		s.sortable = append(s.sortable, fields...)
	}
}

// WithReserved adds reserved parameters that are accepted but not filtered on.
func WithReserved(keys ...string) Option {
	return func(s *Spec) {
		s.reserved = append(s.reserved, keys...)
	}
}

// WithCrossRules adds resource-level rules run after all per-field stages.
func WithCrossRules(rules ...CrossRule) Option {
	return func(s *Spec) {
		s.cross = append(s.cross, rules...)
	}
}

// NewSpec builds a Spec from shared field definitions. It rejects duplicate
// field names, invalid field definitions, query keys that collide with each
// other or with reserved parameters, and cross rules naming unknown keys.
func NewSpec(name string, fields []*FieldSpec, opts ...Option) (*Spec, error) {
	s := &Spec{
		name:      name,
		byKey:     make(map[string]param),
		sortByKey: make(map[string]SortField),
		reserved:  append([]string(nil), DefaultReserved...),
		isReserve: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	var errs []error
	for _, r := range s.reserved {
		if s.isReserve[r] {
			errs = append(errs, fmt.Errorf("reserved parameter %q listed twice", r))
		}
		s.isReserve[r] = true
	}

	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f == nil {
			errs = append(errs, errors.New("nil field"))
			continue
		}
		if err := f.check(); err != nil {
			errs = append(errs, err)
			continue
		}
		if names[f.Name] {
			errs = append(errs, fmt.Errorf("field %q declared twice", f.Name))
			continue
		}
		names[f.Name] = true

		for _, op := range f.Operators {
			p := param{key: f.key(op), field: f, op: op}
			if s.isReserve[p.key] {
				errs = append(errs, fmt.Errorf("key %q collides with a reserved parameter", p.key))
				continue
			}
			if prev, dup := s.byKey[p.key]; dup {
				errs = append(errs, fmt.Errorf("key %q of field %q collides with field %q", p.key, f.Name, prev.field.Name))
				continue
			}
			s.byKey[p.key] = p
			s.params = append(s.params, p)
		}
	}

	for _, sf := range s.sortable {
		if sf.Key == "" || sf.Path == "" {
			errs = append(errs, fmt.Errorf("sort field %+v needs a key and a path", sf))
			continue
		}
		if _, dup := s.sortByKey[sf.Key]; dup {
			errs = append(errs, fmt.Errorf("sort key %q declared twice", sf.Key))
			continue
		}
		s.sortByKey[sf.Key] = sf
	}

	for i, cr := range s.cross {
		if cr.Check == nil {
			errs = append(errs, fmt.Errorf("cross rule %d has no check", i))
		}
		for _, k := range cr.Keys {
			if _, ok := s.byKey[k]; !ok {
				errs = append(errs, fmt.Errorf("cross rule %d names unknown key %q", i, k))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("filter spec %q: %w", name, err)
	}

	s.allowed = make([]string, 0, len(s.params)+len(s.reserved))
	for _, p := range s.params {
		s.allowed = append(s.allowed, p.key)
	}
	s.allowed = append(s.allowed, s.reserved...)
	sort.Strings(s.allowed)
	return s, nil
}

// MustSpec is like NewSpec but panics on error. It is meant for schemas
// declared at package level.
func MustSpec(name string, fields []*FieldSpec, opts ...Option) *Spec {
	s, err := NewSpec(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the resource name of the spec.
func (s *Spec) Name() string { return s.name }

// Allowed returns every accepted query key, sorted.
func (s *Spec) Allowed() []string {
	return append([]string(nil), s.allowed...)
}

// Keys returns the filter keys in declaration order.
func (s *Spec) Keys() []string {
	out := make([]string, len(s.params))
	for i, p := range s.params {
		out[i] = p.key
	}
	return out
}

// SortKeys returns the accepted sort keys in declaration order.
func (s *Spec) SortKeys() []string {
	out := make([]string, len(s.sortable))
	for i, sf := range s.sortable {
		out[i] = sf.Key
	}
	return out
}

// Field returns the field and operator addressed by key.
func (s *Spec) Field(key string) (*FieldSpec, Operator, bool) {
	p, ok := s.byKey[key]
	if !ok {
		return nil, "", false
	}
	return p.field, p.op, true
}

// IsReserved reports whether key is a reserved parameter.
func (s *Spec) IsReserved(key string) bool {
	return s.isReserve[key]
}

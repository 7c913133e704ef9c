package filter

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/storefront/model"
)

// stage is one step of the validation pipeline. A stage appends problems to
// the run and marks the keys it rejected; later stages skip marked keys.
type stage struct {
	name string
	run  func(*run)
}

// pipeline is the fixed stage order. The order decides which problem a
// client sees for a value that is wrong in more than one way.
var pipeline = []stage{
	{"whitelist", checkWhitelist},
	{"sort", checkSortKeys},
	{"duplicate", checkDuplicates},
	{"empty", checkEmpty},
	{"format", checkFormat},
	{"semantic", checkSemantic},
	{"cross-field", checkCrossField},
}

// StageNames returns the pipeline stage names in execution order.
func StageNames() []string {
	out := make([]string, len(pipeline))
	for i, st := range pipeline {
		out[i] = st.name
	}
	return out
}

// run is the per-call state of Normalize.
type run struct {
	spec *Spec
	raw  url.Values

	// present lists the known keys in the request: filter keys in declared
	// order, then reserved keys in declared order.
	present  []string
	rejected map[string]bool
	values   map[string]any
	problems []Problem

	sort     []SortKey
	page     int
	pageSize int
}

func (r *run) reject(p Problem) {
	r.problems = append(r.problems, p)
	r.rejected[p.Field] = true
}

// live returns the present keys no earlier stage rejected.
func (r *run) live() []string {
	out := make([]string, 0, len(r.present))
	for _, k := range r.present {
		if !r.rejected[k] {
			out = append(out, k)
		}
	}
	return out
}

// Normalize validates raw query parameters and converts them into a Query.
// On failure the error is a *ValidationError listing every problem found; a
// partially normalized Query is never returned.
func (s *Spec) Normalize(raw url.Values) (Query, error) {
	r := &run{
		spec:     s,
		raw:      raw,
		rejected: make(map[string]bool),
		values:   make(map[string]any),
	}
	for _, p := range s.params {
		if _, ok := raw[p.key]; ok {
			r.present = append(r.present, p.key)
		}
	}
	for _, k := range s.reserved {
		if _, ok := raw[k]; ok {
			r.present = append(r.present, k)
		}
	}

	for _, st := range pipeline {
		st.run(r)
	}
	if len(r.problems) > 0 {
		return Query{}, &ValidationError{Problems: r.problems}
	}

	q := Query{Sort: r.sort, Page: r.page, PageSize: r.pageSize}
	for _, p := range s.params {
		v, ok := r.values[p.key]
		if !ok {
			continue
		}
		op := p.op
		// A contains filter on an enum resolves to the set of matching codes.
		if p.field.Kind == KindEnum && op == OpContains {
			op = OpIn
		}
		q.Conditions = append(q.Conditions, Condition{Param: p.key, Path: p.field.path(), Op: op, Value: v})
	}
	return q, nil
}

func checkWhitelist(r *run) {
	var unknown []string
	for k := range r.raw {
		if _, ok := r.spec.byKey[k]; ok {
			continue
		}
		if r.spec.isReserve[k] {
			continue
		}
		unknown = append(unknown, k)
	}
	sort.Strings(unknown)
	allowed := r.spec.Allowed()
	for _, k := range unknown {
		r.reject(Problem{
			Field:   k,
			Reason:  UnknownParameter,
			Message: fmt.Sprintf("Invalid query parameter: %s. Must be one of: %s", k, strings.Join(allowed, ", ")),
			Allowed: allowed,
		})
	}
}

func checkSortKeys(r *run) {
	if !r.spec.isReserve[ParamOrdering] {
		return
	}
	for _, v := range r.raw[ParamOrdering] {
		for _, term := range strings.Split(v, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				// Left to the empty-value stage.
				continue
			}
			key := strings.TrimSpace(strings.TrimPrefix(term, "-"))
			if _, ok := r.spec.sortByKey[key]; ok {
				continue
			}
			if key == "" {
				key = term
			}
			allowed := r.spec.SortKeys()
			r.reject(Problem{
				Field:   ParamOrdering,
				Reason:  UnknownSortKey,
				Message: fmt.Sprintf("Invalid ordering key: %s. Must be one of: %s", key, strings.Join(allowed, ", ")),
				Allowed: allowed,
			})
			return
		}
	}
}

func checkDuplicates(r *run) {
	for _, k := range r.live() {
		if p, ok := r.spec.byKey[k]; ok && p.op == OpIn {
			continue
		}
		if len(r.raw[k]) > 1 {
			r.reject(Problem{
				Field:   k,
				Reason:  DuplicateParameter,
				Message: "Duplicate query parameter found: " + k,
			})
		}
	}
}

func checkEmpty(r *run) {
	for _, k := range r.live() {
		if hasEmpty(r.elements(k)) {
			r.reject(Problem{
				Field:   k,
				Reason:  EmptyValue,
				Message: "Empty values not allowed for " + k,
			})
		}
	}
}

// elements returns the raw values of k, split into list elements for keys
// that take comma-delimited lists. A key with no values yields nil.
func (r *run) elements(k string) []string {
	vals := r.raw[k]
	p, isFilter := r.spec.byKey[k]
	if !(k == ParamOrdering || (isFilter && p.op == OpIn)) {
		return vals
	}
	var out []string
	for _, v := range vals {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

func hasEmpty(vals []string) bool {
	if len(vals) == 0 {
		return true
	}
	for _, v := range vals {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func checkFormat(r *run) {
	for _, k := range r.live() {
		switch k {
		case ParamOrdering:
			r.sort = r.spec.resolveSort(r.elements(k))
			continue
		case ParamPage, ParamPageSize:
			if n, ok := r.positive(k, r.raw[k][0]); ok {
				if k == ParamPage {
					r.page = n
				} else {
					r.pageSize = n
				}
			}
			continue
		}
		p, ok := r.spec.byKey[k]
		if !ok {
			continue
		}
		if v, prob := coerce(p, r.elements(k)); prob != nil {
			r.reject(*prob)
		} else {
			r.values[k] = v
		}
	}
}

// positive parses a pagination value, which must be an integer of at least one.
func (r *run) positive(k, raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.reject(Problem{Field: k, Reason: NotANumber, Message: "A valid integer is required."})
		return 0, false
	}
	if n < 1 {
		r.reject(Problem{Field: k, Reason: BelowMinimum, Message: fmt.Sprintf(minimumMessage, 1)})
		return 0, false
	}
	return n, true
}

const minimumMessage = "Ensure this value is greater than or equal to %d."

// resolveSort maps ordering terms to sort keys. Repeated keys keep their
// first position.
func (s *Spec) resolveSort(terms []string) []SortKey {
	var out []SortKey
	seen := make(map[string]bool)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		desc := strings.HasPrefix(t, "-")
		key := strings.TrimSpace(strings.TrimPrefix(t, "-"))
		if seen[key] {
			continue
		}
		seen[key] = true
		sf := s.sortByKey[key]
		out = append(out, SortKey{Key: key, Path: sf.Path, Desc: desc})
	}
	return out
}

// coerce converts the raw elements of one key into the field's type. Single
// valued operators get a scalar; OpIn and enum contains get a slice.
func coerce(p param, raw []string) (any, *Problem) {
	f := p.field
	if f.Kind == KindEnum && p.op == OpContains {
		return matchChoices(p, strings.TrimSpace(raw[0]))
	}

	items := make([]any, 0, len(raw))
	for _, v := range raw {
		item, prob := coerceOne(p, strings.TrimSpace(v))
		if prob != nil {
			return nil, prob
		}
		items = append(items, item)
	}
	if p.op != OpIn {
		return items[0], nil
	}

	switch f.Kind {
	case KindInteger:
		out := make([]int64, len(items))
		for i, it := range items {
			out[i] = it.(int64)
		}
		return out, nil
	default:
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.(string)
		}
		return out, nil
	}
}

func coerceOne(p param, v string) (any, *Problem) {
	f := p.field
	switch f.Kind {
	case KindInteger:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &Problem{Field: p.key, Reason: NotANumber, Message: "A valid integer is required."}
		}
		if f.Minimum != nil && n < *f.Minimum {
			msg := f.MinimumMessage
			if msg == "" {
				msg = fmt.Sprintf(minimumMessage, *f.Minimum)
			}
			return nil, &Problem{Field: p.key, Reason: BelowMinimum, Message: msg}
		}
		return n, nil
	case KindBoolean:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &Problem{
			Field:   p.key,
			Reason:  InvalidBoolean,
			Message: "Invalid parameter, must be 'true' or 'false': " + p.key,
		}
	case KindTime:
		t, err := model.ParseTimeOfDay(v)
		if err != nil {
			return nil, &Problem{
				Field:   p.key,
				Reason:  InvalidTimeFormat,
				Message: "Time has wrong format. Use one of these formats instead: hh:mm[:ss].",
			}
		}
		return t, nil
	case KindEnum:
		for _, c := range f.Choices {
			if strings.EqualFold(v, c.Code) || (f.MatchLabels && strings.EqualFold(v, c.Label)) {
				return c.Code, nil
			}
		}
		return nil, invalidChoice(p, v)
	}
	return v, nil
}

// matchChoices resolves a contains filter on an enum to every choice whose
// code or label contains v, case-insensitively.
func matchChoices(p param, v string) (any, *Problem) {
	needle := strings.ToLower(v)
	var codes []string
	for _, c := range p.field.Choices {
		if strings.Contains(strings.ToLower(c.Code), needle) ||
			(p.field.MatchLabels && strings.Contains(strings.ToLower(c.Label), needle)) {
			codes = append(codes, c.Code)
		}
	}
	if len(codes) == 0 {
		return nil, invalidChoice(p, v)
	}
	return codes, nil
}

func invalidChoice(p param, v string) *Problem {
	codes := make([]string, len(p.field.Choices))
	for i, c := range p.field.Choices {
		codes[i] = c.Code
	}
	return &Problem{
		Field:   p.key,
		Reason:  InvalidChoice,
		Message: fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v),
		Allowed: codes,
	}
}

func checkSemantic(r *run) {
	for _, k := range r.live() {
		p, ok := r.spec.byKey[k]
		if !ok || len(p.field.Rules) == 0 {
			continue
		}
	values:
		for _, v := range r.elements(k) {
			v = strings.TrimSpace(v)
			for _, rule := range p.field.Rules {
				if !rule.Check(v) {
					r.reject(Problem{Field: k, Reason: rule.Code, Message: rule.message(k, v)})
					delete(r.values, k)
					break values
				}
			}
		}
	}
}

func checkCrossField(r *run) {
	for _, cr := range r.spec.cross {
		vals := make(map[string]any, len(cr.Keys))
		for _, k := range cr.Keys {
			if r.rejected[k] {
				continue
			}
			if v, ok := r.values[k]; ok {
				vals[k] = v
			}
		}
		if prob := cr.Check(vals); prob != nil {
			r.reject(*prob)
		}
	}
}

package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/model"
)

// MemoryStore is an in-memory Repository. Query evaluation follows the
// PostgreSQL store: relation paths match when any related row matches.
type MemoryStore struct {
	mu     sync.RWMutex
	stores map[int64]model.Store
	users  map[int64]model.User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores: make(map[int64]model.Store),
		users:  make(map[int64]model.User),
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now().UTC()
	}
	s.users[u.ID] = u
}

// PutStore inserts or replaces a store. The owner and managers must exist.
func (s *MemoryStore) PutStore(st model.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[st.OwnerID]; !ok {
		return fmt.Errorf("store %d: owner %d does not exist", st.ID, st.OwnerID)
	}
	if missing := s.missingUsers(st.ManagerIDs); len(missing) > 0 {
		return fmt.Errorf("store %d: managers %v do not exist", st.ID, missing)
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	st.ManagerIDs = relation.Sorted(relation.NewSet(st.ManagerIDs...))
	s.stores[st.ID] = st
	return nil
}

// ListStores evaluates q over the stores visible in scope.
func (s *MemoryStore) ListStores(_ context.Context, scope Scope, q filter.Query, page Page) ([]model.Store, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Store
	for _, st := range s.stores {
		if !scope.Allows(st) {
			continue
		}
		ok, err := s.matchAll(q.Conditions, func(path string) ([]any, error) { return s.storeValues(st, path) })
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, st)
		}
	}

	var sortErr error
	slices.SortFunc(matched, func(a, b model.Store) int {
		for _, k := range q.Sort {
			av, err := s.storeValues(a, k.Path)
			if err != nil {
				sortErr = err
				return 0
			}
			bv, _ := s.storeValues(b, k.Path)
			if c := compareSortValues(av, bv, k.Desc); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if sortErr != nil {
		return nil, 0, sortErr
	}

	start, end := page.Bounds(len(matched))
	return matched[start:end], len(matched), nil
}

// GetStore returns a store visible in scope.
func (s *MemoryStore) GetStore(_ context.Context, scope Scope, id int64) (model.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[id]
	if !ok || !scope.Allows(st) {
		return model.Store{}, model.NewNotFoundError(fmt.Sprintf("store %d not found", id))
	}
	return st, nil
}

// ManagerIDs returns the managers of a store.
func (s *MemoryStore) ManagerIDs(_ context.Context, storeID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[storeID]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("store %d not found", storeID))
	}
	return append([]int64{}, st.ManagerIDs...), nil
}

// ReplaceManagers reconciles the managers of a store under the write lock.
func (s *MemoryStore) ReplaceManagers(_ context.Context, storeID int64, desired relation.Set[int64], p relation.Policy) (relation.Delta[int64], []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[storeID]
	if !ok {
		return relation.Delta[int64]{}, nil, model.NewNotFoundError(fmt.Sprintf("store %d not found", storeID))
	}

	current := relation.NewSet(st.ManagerIDs...)
	delta := relation.Reconcile(p, current, desired)
	if delta.Empty() {
		return delta, append([]int64{}, st.ManagerIDs...), nil
	}
	if missing := s.missingUsers(relation.Sorted(delta.Add)); len(missing) > 0 {
		return relation.Delta[int64]{}, nil, missingUsersError(missing)
	}

	st.ManagerIDs = relation.Sorted(delta.Apply(current))
	st.UpdatedAt = time.Now().UTC()
	s.stores[storeID] = st
	return delta, append([]int64{}, st.ManagerIDs...), nil
}

// ListUsers evaluates q over all users.
func (s *MemoryStore) ListUsers(_ context.Context, q filter.Query, page Page) ([]model.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.User
	for _, u := range s.users {
		ok, err := s.matchAll(q.Conditions, func(path string) ([]any, error) { return s.userValues(u, path) })
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, u)
		}
	}

	var sortErr error
	slices.SortFunc(matched, func(a, b model.User) int {
		for _, k := range q.Sort {
			av, err := s.userValues(a, k.Path)
			if err != nil {
				sortErr = err
				return 0
			}
			bv, _ := s.userValues(b, k.Path)
			if c := compareSortValues(av, bv, k.Desc); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if sortErr != nil {
		return nil, 0, sortErr
	}

	start, end := page.Bounds(len(matched))
	return matched[start:end], len(matched), nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() {}

func (s *MemoryStore) missingUsers(ids []int64) []int64 {
	var missing []int64
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *MemoryStore) matchAll(conds []filter.Condition, values func(string) ([]any, error)) (bool, error) {
	for _, c := range conds {
		vals, err := values(c.Path)
		if err != nil {
			return false, err
		}
		if !matchAny(c, vals) {
			return false, nil
		}
	}
	return true, nil
}

// storeValues resolves a storage path on a store. Relation paths yield one
// value per related row.
func (s *MemoryStore) storeValues(st model.Store, path string) ([]any, error) {
	switch path {
	case pathID:
		return []any{st.ID}, nil
	case schema.PathName:
		return []any{st.Name}, nil
	case schema.PathCity:
		return []any{st.City}, nil
	case schema.PathAddress:
		return []any{st.Address}, nil
	case schema.PathState:
		return []any{st.State}, nil
	case schema.PathPLZ:
		return []any{st.PLZ}, nil
	case schema.PathOpeningTime:
		return []any{st.OpeningTime}, nil
	case schema.PathClosingTime:
		return []any{st.ClosingTime}, nil
	case schema.PathOwnerID:
		return []any{st.OwnerID}, nil
	case schema.PathOwnerFirst:
		return []any{s.users[st.OwnerID].FirstName}, nil
	case schema.PathOwnerLast:
		return []any{s.users[st.OwnerID].LastName}, nil
	case schema.PathManagerID, schema.PathManagerFirst, schema.PathManagerLast:
		out := make([]any, 0, len(st.ManagerIDs))
		for _, id := range st.ManagerIDs {
			switch path {
			case schema.PathManagerID:
				out = append(out, id)
			case schema.PathManagerFirst:
				out = append(out, s.users[id].FirstName)
			default:
				out = append(out, s.users[id].LastName)
			}
		}
		return out, nil
	}
	for _, d := range model.DaysOfWeek {
		if path == d {
			return []any{st.OpenOn(d)}, nil
		}
	}
	return nil, unknownPath("store", path)
}

func (s *MemoryStore) userValues(u model.User, path string) ([]any, error) {
	switch path {
	case schema.PathEmail:
		return []any{u.Email}, nil
	case schema.PathFirstName:
		return []any{u.FirstName}, nil
	case schema.PathLastName:
		return []any{u.LastName}, nil
	case schema.PathOwnedStoreID, schema.PathManagedStoreID:
		var out []any
		for _, st := range s.stores {
			if (path == schema.PathOwnedStoreID && st.OwnerID == u.ID) ||
				(path == schema.PathManagedStoreID && st.HasManager(u.ID)) {
				out = append(out, st.ID)
			}
		}
		return out, nil
	}
	return nil, unknownPath("user", path)
}

func matchAny(c filter.Condition, vals []any) bool {
	for _, v := range vals {
		if matchOne(c.Op, v, c.Value) {
			return true
		}
	}
	return false
}

func matchOne(op filter.Operator, have, want any) bool {
	switch op {
	case filter.OpExact:
		return have == want
	case filter.OpContains:
		h, ok1 := have.(string)
		w, ok2 := want.(string)
		return ok1 && ok2 && strings.Contains(strings.ToLower(h), strings.ToLower(w))
	case filter.OpLTE:
		c, ok := compareScalars(have, want)
		return ok && c <= 0
	case filter.OpGTE:
		c, ok := compareScalars(have, want)
		return ok && c >= 0
	case filter.OpIn:
		switch w := want.(type) {
		case []int64:
			h, ok := have.(int64)
			return ok && slices.Contains(w, h)
		case []string:
			h, ok := have.(string)
			return ok && slices.Contains(w, h)
		}
	}
	return false
}

func compareScalars(a, b any) (int, bool) {
	switch x := a.(type) {
	case model.TimeOfDay:
		y, ok := b.(model.TimeOfDay)
		return x.Compare(y), ok
	case int64:
		y, ok := b.(int64)
		return cmp.Compare(x, y), ok
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		switch {
		case !ok || x == y:
			return 0, ok
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// compareSortValues orders rows by the smallest value of a path. Rows with
// no value sort last in both directions.
func compareSortValues(a, b []any, desc bool) int {
	av, aok := minValue(a)
	bv, bok := minValue(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	c, _ := compareScalars(av, bv)
	if desc {
		return -c
	}
	return c
}

func minValue(vals []any) (any, bool) {
	if len(vals) == 0 {
		return nil, false
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if c, ok := compareScalars(v, m); ok && c < 0 {
			m = v
		}
	}
	return m, true
}

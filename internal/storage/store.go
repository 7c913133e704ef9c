// Package storage executes normalized filter queries and applies relation
// deltas against a backing store. Two implementations share the Repository
// contract: an in-memory store for tests and single-node demos, and a
// PostgreSQL store.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/model"
)

// Repository is the storage contract used by the catalog service.
type Repository interface {
	// ListStores returns one page of the stores visible in scope that match
	// q, and the total number of matches.
	ListStores(ctx context.Context, scope Scope, q filter.Query, page Page) ([]model.Store, int, error)

	// GetStore returns a store visible in scope. A store outside the scope
	// is reported as NOT_FOUND.
	GetStore(ctx context.Context, scope Scope, id int64) (model.Store, error)

	// ManagerIDs returns the current manager ids of a store, ascending.
	ManagerIDs(ctx context.Context, storeID int64) ([]int64, error)

	// ReplaceManagers reconciles the managers of a store with desired under
	// p. The current set is read, diffed and updated while the store is
	// locked, so concurrent replacements serialize and each leaves exactly
	// its own desired set. It returns the applied delta and the resulting
	// ids, ascending. Ids naming no user fail with VALIDATION_ERROR and
	// leave the store unchanged.
	ReplaceManagers(ctx context.Context, storeID int64, desired relation.Set[int64], p relation.Policy) (relation.Delta[int64], []int64, error)

	// ListUsers returns one page of users matching q and the total count.
	ListUsers(ctx context.Context, q filter.Query, page Page) ([]model.User, int, error)

	// HealthCheck reports whether the store can serve requests.
	HealthCheck(ctx context.Context) error

	// Close releases held resources.
	Close()
}

// Scope restricts the stores a caller can see.
type Scope struct {
	UserID    int64
	Superuser bool
	// OwnerOnly hides stores the caller only manages.
	OwnerOnly bool
}

// Allows reports whether s is visible in the scope.
func (sc Scope) Allows(s model.Store) bool {
	if sc.Superuser || s.OwnerID == sc.UserID {
		return true
	}
	return !sc.OwnerOnly && s.HasManager(sc.UserID)
}

// Page selects a 1-based page of a result set.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows before the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Bounds returns the slice bounds of the page within total rows.
func (p Page) Bounds(total int) (int, int) {
	start := p.Offset()
	if start > total {
		start = total
	}
	end := total
	if p.Size > 0 && start+p.Size < total {
		end = start + p.Size
	}
	return start, end
}

// unknownPath is returned for a condition or sort key this store cannot
// resolve. Specs and storage paths are declared together, so it indicates a
// programming error.
func unknownPath(kind, path string) error {
	return fmt.Errorf("storage: unknown %s path %q", kind, path)
}

func missingUsersError(missing []int64) error {
	ids := make([]string, len(missing))
	for i, id := range missing {
		ids[i] = fmt.Sprint(id)
	}
	return model.NewValidationError([]model.FieldError{{
		Field:   "manager_ids",
		Code:    "UnknownManager",
		Message: fmt.Sprintf("Invalid pk %s - object does not exist.", strings.Join(ids, ", ")),
	}})
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

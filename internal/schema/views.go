package schema

import (
	"fmt"
	"sort"

	"github.com/pitabwire/storefront/internal/filter"
)

// Resource names.
const (
	ResourceStores   = "stores"
	ResourceDays     = "days"
	ResourceHours    = "hours"
	ResourceManagers = "managers"
	ResourceUsers    = "users"
)

var hourFields = []*filter.FieldSpec{OpeningTime, ClosingTime}

var hourRules = filter.WithCrossRules(
	filter.RangeOrder("opening_time_gte", "opening_time_lte"),
	filter.RangeOrder("closing_time_gte", "closing_time_lte"),
)

var managerFields = []*filter.FieldSpec{ManagerIDs, ManagerFirstName, ManagerLastName}

func storeFields() []*filter.FieldSpec {
	fields := []*filter.FieldSpec{
		Name, City, Address, State, PLZ,
		OwnerIDs, OwnerFirstName, OwnerLastName,
	}
	fields = append(fields, managerFields...)
	fields = append(fields, hourFields...)
	return append(fields, Days...)
}

// Stores is the full store list view.
var Stores = filter.MustSpec(ResourceStores, storeFields(),
	filter.WithSort(
		filter.SortField{Key: "name", Path: PathName},
		filter.SortField{Key: "city", Path: PathCity},
		filter.SortField{Key: "state", Path: PathState},
		filter.SortField{Key: "opens", Path: PathOpeningTime},
		filter.SortField{Key: "closes", Path: PathClosingTime},
	),
	hourRules,
)

// StoreDays exposes only the opening-day flags.
var StoreDays = filter.MustSpec(ResourceDays, Days,
	filter.WithSort(filter.SortField{Key: "name", Path: PathName}),
)

// StoreHours exposes only the operating hours.
var StoreHours = filter.MustSpec(ResourceHours, hourFields,
	filter.WithSort(
		filter.SortField{Key: "opens", Path: PathOpeningTime},
		filter.SortField{Key: "closes", Path: PathClosingTime},
	),
	hourRules,
)

// StoreManagers exposes manager identity filters.
var StoreManagers = filter.MustSpec(ResourceManagers, managerFields,
	filter.WithSort(
		filter.SortField{Key: "first_name", Path: PathManagerFirst},
		filter.SortField{Key: "last_name", Path: PathManagerLast},
	),
)

// Users is the user list view.
var Users = filter.MustSpec(ResourceUsers,
	[]*filter.FieldSpec{Email, FirstName, LastName, OwnedStores, ManagedStores},
	filter.WithSort(
		filter.SortField{Key: "email", Path: PathEmail},
		filter.SortField{Key: "first_name", Path: PathFirstName},
		filter.SortField{Key: "last_name", Path: PathLastName},
	),
)

// Registry looks up views by resource name.
type Registry struct {
	specs map[string]*filter.Spec
}

// NewRegistry indexes the given specs by name.
func NewRegistry(specs ...*filter.Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*filter.Spec, len(specs))}
	for _, s := range specs {
		if _, dup := r.specs[s.Name()]; dup {
			return nil, fmt.Errorf("resource %q registered twice", s.Name())
		}
		r.specs[s.Name()] = s
	}
	return r, nil
}

// Default returns a registry of every view in this package.
func Default() *Registry {
	r, err := NewRegistry(Stores, StoreDays, StoreHours, StoreManagers, Users)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the spec of a resource.
func (r *Registry) Get(resource string) (*filter.Spec, bool) {
	s, ok := r.specs[resource]
	return s, ok
}

// Resources returns the registered resource names, sorted.
func (r *Registry) Resources() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

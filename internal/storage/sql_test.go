package storage

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/model"
)

func TestBuildStoreQuery_scope(t *testing.T) {
	sq, err := buildStoreQuery(Scope{UserID: 7}, filter.Query{}, Page{Number: 2, Size: 3})
	if err != nil {
		t.Fatalf("buildStoreQuery error: %v", err)
	}
	if !strings.Contains(sq.rows, "(s.owner_id = $1 OR EXISTS (SELECT 1 FROM store_managers v WHERE v.store_id = s.id AND v.user_id = $1))") {
		t.Errorf("rows missing scope predicate:\n%s", sq.rows)
	}
	if !strings.HasSuffix(sq.rows, " ORDER BY s.id ASC LIMIT $2 OFFSET $3") {
		t.Errorf("rows tail = %q", sq.rows[len(sq.rows)-40:])
	}
	if len(sq.args) != 3 || sq.args[0] != int64(7) || sq.args[1] != 3 || sq.args[2] != 3 {
		t.Errorf("args = %v", sq.args)
	}
	if got := sq.countArgs(Page{Number: 2, Size: 3}); len(got) != 1 {
		t.Errorf("countArgs = %v, want scope arg only", got)
	}
	if strings.Contains(sq.count, "LIMIT") || strings.Contains(sq.count, "ORDER BY") {
		t.Errorf("count statement = %q", sq.count)
	}

	sq, err = buildStoreQuery(Scope{UserID: 7, OwnerOnly: true}, filter.Query{}, Page{})
	if err != nil {
		t.Fatalf("buildStoreQuery error: %v", err)
	}
	if !strings.Contains(sq.rows, "WHERE s.owner_id = $1 ORDER BY") {
		t.Errorf("owner-only rows:\n%s", sq.rows)
	}

	sq, err = buildStoreQuery(superuser, filter.Query{}, Page{})
	if err != nil {
		t.Fatalf("buildStoreQuery error: %v", err)
	}
	if strings.Contains(sq.rows, "WHERE") && !strings.Contains(sq.rows, "WHERE x.store_id") {
		t.Errorf("superuser query should not be scoped:\n%s", sq.rows)
	}
	if len(sq.args) != 0 {
		t.Errorf("args = %v, want none", sq.args)
	}
}

func TestBuildStoreQuery_conditions(t *testing.T) {
	q := filter.Query{
		Conditions: []filter.Condition{
			{Path: schema.PathName, Op: filter.OpContains, Value: "50%_off"},
			{Path: schema.PathOpeningTime, Op: filter.OpGTE, Value: model.MustTimeOfDay("08:30")},
			{Path: schema.PathManagerID, Op: filter.OpIn, Value: []int64{1, 2}},
			{Path: "sonntag", Op: filter.OpExact, Value: true},
		},
		Sort: []filter.SortKey{{Key: "last_name", Path: schema.PathManagerLast, Desc: true}},
	}
	sq, err := buildStoreQuery(superuser, q, Page{})
	if err != nil {
		t.Fatalf("buildStoreQuery error: %v", err)
	}

	for _, want := range []string{
		`s.name ILIKE $1 ESCAPE '\'`,
		`s.opening_time >= $2`,
		`EXISTS (SELECT 1 FROM store_managers sm JOIN users m ON m.id = sm.user_id WHERE sm.store_id = s.id AND m.id = ANY($3))`,
		`s.sonntag = $4`,
		`ORDER BY (SELECT MIN(m.last_name) FROM store_managers sm JOIN users m ON m.id = sm.user_id WHERE sm.store_id = s.id) DESC NULLS LAST, s.id ASC`,
	} {
		if !strings.Contains(sq.rows, want) {
			t.Errorf("rows missing %q:\n%s", want, sq.rows)
		}
	}

	if sq.args[0] != `%50\%\_off%` {
		t.Errorf("like arg = %v", sq.args[0])
	}
	tm, ok := sq.args[1].(pgtype.Time)
	if !ok || tm.Microseconds != (8*3600+30*60)*1_000_000 {
		t.Errorf("time arg = %#v", sq.args[1])
	}
}

func TestBuildStoreQuery_unknownPath(t *testing.T) {
	q := filter.Query{Conditions: []filter.Condition{{Path: "owner.email", Op: filter.OpExact, Value: "x"}}}
	if _, err := buildStoreQuery(superuser, q, Page{}); err == nil {
		t.Error("expected error for unknown condition path")
	}
	q = filter.Query{Sort: []filter.SortKey{{Key: "price", Path: "price"}}}
	if _, err := buildStoreQuery(superuser, q, Page{}); err == nil {
		t.Error("expected error for unknown sort path")
	}
}

func TestBuildStoreQuery_byID(t *testing.T) {
	sq, err := buildStoreQuery(Scope{UserID: 2, OwnerOnly: true}, byID(9), Page{})
	if err != nil {
		t.Fatalf("buildStoreQuery error: %v", err)
	}
	if !strings.Contains(sq.rows, "WHERE s.owner_id = $1 AND s.id = $2") {
		t.Errorf("rows:\n%s", sq.rows)
	}
}

func TestBuildUserQuery(t *testing.T) {
	q := filter.Query{
		Conditions: []filter.Condition{
			{Path: schema.PathEmail, Op: filter.OpContains, Value: "example"},
			{Path: schema.PathOwnedStoreID, Op: filter.OpExact, Value: int64(3)},
		},
		Sort: []filter.SortKey{{Key: "email", Path: schema.PathEmail}},
	}
	sq, err := buildUserQuery(q, Page{Number: 1, Size: 3})
	if err != nil {
		t.Fatalf("buildUserQuery error: %v", err)
	}
	for _, want := range []string{
		`u.email ILIKE $1`,
		`EXISTS (SELECT 1 FROM stores os WHERE os.owner_id = u.id AND os.id = $2)`,
		`ORDER BY u.email ASC NULLS LAST, u.id ASC LIMIT $3 OFFSET $4`,
	} {
		if !strings.Contains(sq.rows, want) {
			t.Errorf("rows missing %q:\n%s", want, sq.rows)
		}
	}
	if !strings.HasPrefix(sq.count, "SELECT COUNT(*) FROM users u WHERE") {
		t.Errorf("count = %q", sq.count)
	}
}

func TestTimeConversion(t *testing.T) {
	want := model.MustTimeOfDay("17:45:09")
	if got := timeOfDay(timeValue(want)); got != want {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

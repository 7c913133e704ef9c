package storage

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/model"
)

// column describes how a storage path maps to SQL. A relation column is
// matched through an EXISTS subquery whose rows are bound to rel.
type column struct {
	expr string
	rel  string
}

// pathID addresses the primary key. It is internal to storage and never
// exposed as a filter.
const pathID = "id"

func byID(id int64) filter.Query {
	return filter.Query{Conditions: []filter.Condition{{Param: pathID, Path: pathID, Op: filter.OpExact, Value: id}}}
}

const managerRel = `FROM store_managers sm JOIN users m ON m.id = sm.user_id WHERE sm.store_id = s.id`

var storeColumns = map[string]column{
	pathID:                  {expr: "s.id"},
	schema.PathName:         {expr: "s.name"},
	schema.PathCity:         {expr: "s.city"},
	schema.PathAddress:      {expr: "s.address"},
	schema.PathState:        {expr: "s.state_abbrv"},
	schema.PathPLZ:          {expr: "s.plz"},
	schema.PathOpeningTime:  {expr: "s.opening_time"},
	schema.PathClosingTime:  {expr: "s.closing_time"},
	schema.PathOwnerID:      {expr: "s.owner_id"},
	schema.PathOwnerFirst:   {expr: "o.first_name"},
	schema.PathOwnerLast:    {expr: "o.last_name"},
	schema.PathManagerID:    {expr: "m.id", rel: managerRel},
	schema.PathManagerFirst: {expr: "m.first_name", rel: managerRel},
	schema.PathManagerLast:  {expr: "m.last_name", rel: managerRel},
}

var userColumns = map[string]column{
	schema.PathEmail:          {expr: "u.email"},
	schema.PathFirstName:      {expr: "u.first_name"},
	schema.PathLastName:       {expr: "u.last_name"},
	schema.PathOwnedStoreID:   {expr: "os.id", rel: `FROM stores os WHERE os.owner_id = u.id`},
	schema.PathManagedStoreID: {expr: "ms.store_id", rel: `FROM store_managers ms WHERE ms.user_id = u.id`},
}

func init() {
	for _, d := range model.DaysOfWeek {
		storeColumns[d] = column{expr: "s." + d}
	}
}

const storeSelect = `SELECT s.id, s.name, s.owner_id, s.address, s.city, s.state_abbrv, s.plz,
       s.montag, s.dienstag, s.mittwoch, s.donnerstag, s.freitag, s.samstag, s.sonntag,
       s.opening_time, s.closing_time, s.created_at, s.updated_at,
       ARRAY(SELECT x.user_id FROM store_managers x WHERE x.store_id = s.id ORDER BY x.user_id) AS manager_ids
FROM stores s JOIN users o ON o.id = s.owner_id`

const userSelect = `SELECT u.id, u.email, u.first_name, u.last_name, u.is_superuser, u.date_joined
FROM users u`

// sqlQuery is a parameterized statement pair: one for the page of rows and
// one for the total count.
type sqlQuery struct {
	rows  string
	count string
	args  []any
}

type builder struct {
	where []string
	args  []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) clause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func (b *builder) condition(cols map[string]column, c filter.Condition) error {
	col, ok := cols[c.Path]
	if !ok {
		return unknownPath("condition", c.Path)
	}
	pred, err := b.predicate(col.expr, c)
	if err != nil {
		return err
	}
	if col.rel != "" {
		pred = fmt.Sprintf("EXISTS (SELECT 1 %s AND %s)", col.rel, pred)
	}
	b.where = append(b.where, pred)
	return nil
}

func (b *builder) predicate(expr string, c filter.Condition) (string, error) {
	switch c.Op {
	case filter.OpExact:
		return expr + " = " + b.arg(sqlValue(c.Value)), nil
	case filter.OpContains:
		s, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("storage: contains needs a string, got %T", c.Value)
		}
		return expr + ` ILIKE ` + b.arg("%"+escapeLike(s)+"%") + ` ESCAPE '\'`, nil
	case filter.OpLTE:
		return expr + " <= " + b.arg(sqlValue(c.Value)), nil
	case filter.OpGTE:
		return expr + " >= " + b.arg(sqlValue(c.Value)), nil
	case filter.OpIn:
		return expr + " = ANY(" + b.arg(c.Value) + ")", nil
	}
	return "", fmt.Errorf("storage: unsupported operator %q", c.Op)
}

func (b *builder) orderBy(cols map[string]column, keys []filter.SortKey, tiebreak string) (string, error) {
	terms := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		col, ok := cols[k.Path]
		if !ok {
			return "", unknownPath("sort", k.Path)
		}
		expr := col.expr
		if col.rel != "" {
			expr = fmt.Sprintf("(SELECT MIN(%s) %s)", col.expr, col.rel)
		}
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		terms = append(terms, expr+" "+dir+" NULLS LAST")
	}
	terms = append(terms, tiebreak+" ASC")
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func (b *builder) limit(page Page) string {
	if page.Size <= 0 {
		return ""
	}
	return " LIMIT " + b.arg(page.Size) + " OFFSET " + b.arg(page.Offset())
}

// buildStoreQuery translates a normalized query into SQL over the stores
// visible in scope.
func buildStoreQuery(scope Scope, q filter.Query, page Page) (sqlQuery, error) {
	b := &builder{}
	if !scope.Superuser {
		uid := b.arg(scope.UserID)
		if scope.OwnerOnly {
			b.where = append(b.where, "s.owner_id = "+uid)
		} else {
			b.where = append(b.where, fmt.Sprintf(
				"(s.owner_id = %s OR EXISTS (SELECT 1 FROM store_managers v WHERE v.store_id = s.id AND v.user_id = %s))",
				uid, uid))
		}
	}
	for _, c := range q.Conditions {
		if err := b.condition(storeColumns, c); err != nil {
			return sqlQuery{}, err
		}
	}
	order, err := b.orderBy(storeColumns, q.Sort, "s.id")
	if err != nil {
		return sqlQuery{}, err
	}
	where := b.clause()
	count := `SELECT COUNT(*) FROM stores s JOIN users o ON o.id = s.owner_id` + where
	rows := storeSelect + where + order + b.limit(page)
	return sqlQuery{rows: rows, count: count, args: b.args}, nil
}

// buildUserQuery translates a normalized query into SQL over users.
func buildUserQuery(q filter.Query, page Page) (sqlQuery, error) {
	b := &builder{}
	for _, c := range q.Conditions {
		if err := b.condition(userColumns, c); err != nil {
			return sqlQuery{}, err
		}
	}
	order, err := b.orderBy(userColumns, q.Sort, "u.id")
	if err != nil {
		return sqlQuery{}, err
	}
	where := b.clause()
	count := `SELECT COUNT(*) FROM users u` + where
	rows := userSelect + where + order + b.limit(page)
	return sqlQuery{rows: rows, count: count, args: b.args}, nil
}

// countArgs returns the arguments used by the count statement, which never
// includes the trailing LIMIT and OFFSET.
func (q sqlQuery) countArgs(page Page) []any {
	if page.Size <= 0 {
		return q.args
	}
	return q.args[:len(q.args)-2]
}

func sqlValue(v any) any {
	if t, ok := v.(model.TimeOfDay); ok {
		return timeValue(t)
	}
	return v
}

func timeValue(t model.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Seconds()) * 1_000_000, Valid: true}
}

func timeOfDay(t pgtype.Time) model.TimeOfDay {
	sec := int(t.Microseconds / 1_000_000)
	return model.TimeOfDay{Hour: sec / 3600, Minute: sec % 3600 / 60, Second: sec % 60}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

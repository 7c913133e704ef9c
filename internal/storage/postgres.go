package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/storefront/internal/filter"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/model"
)

// pgForeignKeyViolation is the SQLSTATE of a foreign key violation.
const pgForeignKeyViolation = "23503"

// PgStore is a PostgreSQL-backed Repository using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL store over an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// OpenPgStore connects a pool from a connection string and verifies it.
func OpenPgStore(ctx context.Context, dsn string, maxConns int32) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPgStore(pool), nil
}

// ListStores runs the filtered store query.
func (s *PgStore) ListStores(ctx context.Context, scope Scope, q filter.Query, page Page) ([]model.Store, int, error) {
	sq, err := buildStoreQuery(scope, q, page)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, sq.count, sq.countArgs(page)...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stores: %w", err)
	}

	rows, err := s.pool.Query(ctx, sq.rows, sq.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	var stores []model.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, 0, err
		}
		stores = append(stores, st)
	}
	return stores, total, rows.Err()
}

// GetStore retrieves a store visible in scope.
func (s *PgStore) GetStore(ctx context.Context, scope Scope, id int64) (model.Store, error) {
	sq, err := buildStoreQuery(scope, byID(id), Page{})
	if err != nil {
		return model.Store{}, err
	}
	st, err := scanStore(s.pool.QueryRow(ctx, sq.rows, sq.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Store{}, model.NewNotFoundError(fmt.Sprintf("store %d not found", id))
	}
	if err != nil {
		return model.Store{}, err
	}
	return st, nil
}

// ManagerIDs returns the current managers of a store.
func (s *PgStore) ManagerIDs(ctx context.Context, storeID int64) ([]int64, error) {
	var ids []int64
	err := s.pool.QueryRow(ctx, `
		SELECT ARRAY(SELECT user_id FROM store_managers WHERE store_id = s.id ORDER BY user_id)
		FROM stores s
		WHERE s.id = $1`,
		storeID,
	).Scan(&ids)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewNotFoundError(fmt.Sprintf("store %d not found", storeID))
	}
	if err != nil {
		return nil, fmt.Errorf("query store managers: %w", err)
	}
	return ids, nil
}

// ReplaceManagers locks the store row, reads the current managers and
// applies the reconciled delta inside one transaction.
func (s *PgStore) ReplaceManagers(ctx context.Context, storeID int64, desired relation.Set[int64], p relation.Policy) (relation.Delta[int64], []int64, error) {
	var none relation.Delta[int64]
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return none, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM stores WHERE id = $1 FOR UPDATE`, storeID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return none, nil, model.NewNotFoundError(fmt.Sprintf("store %d not found", storeID))
	}
	if err != nil {
		return none, nil, fmt.Errorf("lock store: %w", err)
	}

	current, err := managersInTx(ctx, tx, storeID)
	if err != nil {
		return none, nil, err
	}
	delta := relation.Reconcile(p, relation.NewSet(current...), desired)
	if delta.Empty() {
		return delta, current, nil
	}

	if remove := relation.Sorted(delta.Remove); len(remove) > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM store_managers
			WHERE store_id = $1 AND user_id = ANY($2)`,
			storeID, remove,
		); err != nil {
			return none, nil, fmt.Errorf("remove store managers: %w", err)
		}
	}

	if add := relation.Sorted(delta.Add); len(add) > 0 {
		_, err := tx.Exec(ctx, `
			INSERT INTO store_managers (store_id, user_id)
			SELECT $1::bigint, t.id FROM unnest($2::bigint[]) AS t(id)
			ON CONFLICT DO NOTHING`,
			storeID, add,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			missing, lookupErr := s.missingUsers(ctx, add)
			if lookupErr != nil {
				return none, nil, lookupErr
			}
			return none, nil, missingUsersError(missing)
		}
		if err != nil {
			return none, nil, fmt.Errorf("add store managers: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE stores SET updated_at = now() WHERE id = $1`, storeID); err != nil {
		return none, nil, fmt.Errorf("touch store: %w", err)
	}

	ids, err := managersInTx(ctx, tx, storeID)
	if err != nil {
		return none, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return none, nil, fmt.Errorf("commit manager update: %w", err)
	}
	return delta, ids, nil
}

func managersInTx(ctx context.Context, tx pgx.Tx, storeID int64) ([]int64, error) {
	var ids []int64
	if err := tx.QueryRow(ctx, `
		SELECT ARRAY(SELECT user_id FROM store_managers WHERE store_id = $1 ORDER BY user_id)`,
		storeID,
	).Scan(&ids); err != nil {
		return nil, fmt.Errorf("read store managers: %w", err)
	}
	return ids, nil
}

// missingUsers returns the ids that name no user. It runs outside the
// aborted transaction.
func (s *PgStore) missingUsers(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id FROM unnest($1::bigint[]) AS t(id)
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = t.id)
		ORDER BY t.id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query missing users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListUsers runs the filtered user query.
func (s *PgStore) ListUsers(ctx context.Context, q filter.Query, page Page) ([]model.User, int, error) {
	sq, err := buildUserQuery(q, page)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, sq.count, sq.countArgs(page)...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.pool.Query(ctx, sq.rows, sq.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Superuser, &u.DateJoined); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PgStore) Close() {
	s.pool.Close()
}

func scanStore(row pgx.Row) (model.Store, error) {
	var st model.Store
	var opens, closes pgtype.Time
	if err := row.Scan(
		&st.ID, &st.Name, &st.OwnerID, &st.Address, &st.City, &st.State, &st.PLZ,
		&st.Montag, &st.Dienstag, &st.Mittwoch, &st.Donnerstag, &st.Freitag, &st.Samstag, &st.Sonntag,
		&opens, &closes, &st.CreatedAt, &st.UpdatedAt,
		&st.ManagerIDs,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Store{}, err
		}
		return model.Store{}, fmt.Errorf("scan store: %w", err)
	}
	st.OpeningTime = timeOfDay(opens)
	st.ClosingTime = timeOfDay(closes)
	return st, nil
}

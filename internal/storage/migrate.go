package storage

import (
	"context"
	"fmt"
)

// schemaStatements create the tables used by PgStore. They are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           BIGSERIAL PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		first_name   TEXT NOT NULL DEFAULT '',
		last_name    TEXT NOT NULL DEFAULT '',
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		date_joined  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id           BIGSERIAL PRIMARY KEY,
		name         VARCHAR(255) NOT NULL,
		owner_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		address      VARCHAR(255) NOT NULL,
		city         VARCHAR(255) NOT NULL,
		state_abbrv  CHAR(2) NOT NULL,
		plz          VARCHAR(5) NOT NULL,
		montag       BOOLEAN NOT NULL DEFAULT FALSE,
		dienstag     BOOLEAN NOT NULL DEFAULT FALSE,
		mittwoch     BOOLEAN NOT NULL DEFAULT FALSE,
		donnerstag   BOOLEAN NOT NULL DEFAULT FALSE,
		freitag      BOOLEAN NOT NULL DEFAULT FALSE,
		samstag      BOOLEAN NOT NULL DEFAULT FALSE,
		sonntag      BOOLEAN NOT NULL DEFAULT FALSE,
		opening_time TIME NOT NULL,
		closing_time TIME NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS store_managers (
		store_id BIGINT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
		user_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (store_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_owner ON stores (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_store_managers_user ON store_managers (user_id)`,
}

// Migrate creates the schema.
func (s *PgStore) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}

// Seed upserts users, stores and manager assignments in one transaction.
func (s *PgStore) Seed(ctx context.Context, seed *Seed) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range seed.Users {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, first_name, last_name, is_superuser)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				is_superuser = EXCLUDED.is_superuser`,
			u.ID, u.Email, u.FirstName, u.LastName, u.Superuser,
		); err != nil {
			return fmt.Errorf("seed user %d: %w", u.ID, err)
		}
	}

	for _, st := range seed.Stores {
		if _, err := tx.Exec(ctx, `
			INSERT INTO stores (
				id, name, owner_id, address, city, state_abbrv, plz,
				montag, dienstag, mittwoch, donnerstag, freitag, samstag, sonntag,
				opening_time, closing_time
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13, $14,
				$15, $16
			)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				owner_id = EXCLUDED.owner_id,
				address = EXCLUDED.address,
				city = EXCLUDED.city,
				state_abbrv = EXCLUDED.state_abbrv,
				plz = EXCLUDED.plz,
				montag = EXCLUDED.montag,
				dienstag = EXCLUDED.dienstag,
				mittwoch = EXCLUDED.mittwoch,
				donnerstag = EXCLUDED.donnerstag,
				freitag = EXCLUDED.freitag,
				samstag = EXCLUDED.samstag,
				sonntag = EXCLUDED.sonntag,
				opening_time = EXCLUDED.opening_time,
				closing_time = EXCLUDED.closing_time,
				updated_at = now()`,
			st.ID, st.Name, st.OwnerID, st.Address, st.City, st.State, st.PLZ,
			st.Montag, st.Dienstag, st.Mittwoch, st.Donnerstag, st.Freitag, st.Samstag, st.Sonntag,
			timeValue(st.OpeningTime), timeValue(st.ClosingTime),
		); err != nil {
			return fmt.Errorf("seed store %d: %w", st.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM store_managers WHERE store_id = $1`, st.ID); err != nil {
			return fmt.Errorf("reset managers of store %d: %w", st.ID, err)
		}
		if len(st.ManagerIDs) > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO store_managers (store_id, user_id)
				SELECT $1::bigint, t.id FROM unnest($2::bigint[]) AS t(id)
				ON CONFLICT DO NOTHING`,
				st.ID, st.ManagerIDs,
			); err != nil {
				return fmt.Errorf("seed managers of store %d: %w", st.ID, err)
			}
		}
	}

	// Explicit ids leave the sequences behind.
	for _, table := range []string{"users", "stores"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 1))`,
			table, table,
		)); err != nil {
			return fmt.Errorf("advance %s sequence: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PGStore is the PostgreSQL backend. Updates lock the row, apply the patch
// and write the full row back inside one transaction.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPGStore(pool *pgxpool.Pool, now func() time.Time) *PGStore {
	if now == nil {
		now = time.Now
	}
	return &PGStore{pool: pool, now: now}
}

// Store exposes the PostgreSQL backend through the repository interfaces.
func (s *PGStore) Store() *Store {
	return &Store{
		Users:       &pgUsers{s},
		Children:    &pgChildren{s},
		IntakeForms: &pgIntakeForms{s},
		Clinics:     &pgClinics{s},
		Sessions:    &pgSessions{s},
		Claims:      &pgClaims{s},
		Documents:   &pgDocuments{s},
		Tx:          s,
		Now:         s.now,
	}
}

// InTx runs fn inside a database transaction shared by every repository call
// made with the context fn receives.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithTx(ctx, s.pool, fn)
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Unavailable("transaction", err)
}

func (s *PGStore) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// constraintFields maps unique constraint names to the offending field.
var constraintFields = map[string]string{
	"users_username_key":        "username",
	"users_email_key":           "email",
	"claims_claim_number_key":   "claimNumber",
	"intake_forms_child_id_key": "childId",
}

// mapError translates driver errors into apperr kinds. entity and id name
// the row for not-found results; value is reported on conflicts.
func mapError(err error, op, entity, id string, values map[string]string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			field := constraintFields[pgErr.ConstraintName]
			if field == "" {
				field = pgErr.ConstraintName
			}
			return apperr.Conflict(field, values[field])
		case "23503":
			return apperr.NotFound("referenced record", pgErr.ConstraintName)
		}
	}
	return apperr.Unavailable(op, err)
}

// lockedUpdate loads the row with load (which should SELECT ... FOR UPDATE),
// then persists it with save, all in one transaction.
func lockedUpdate[T any](ctx context.Context, s *PGStore, load func(ctx context.Context) (*T, error), save func(ctx context.Context, v *T) error) (*T, error) {
	var out *T
	err := s.InTx(ctx, func(ctx context.Context) error {
		v, err := load(ctx)
		if err != nil {
			return err
		}
		if err := save(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	items := []*T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/experience-booking/internal/service"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every repository can
// run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries bundles the repositories bound to one DBTX.  Method names are
// unique across the embedded repositories so they are all promoted.
type Queries struct {
	*BookingRepo
	*AvailabilityRepo
	*VoucherRepo
	*ExperienceRepo
	*UserRepo
	*WebhookEventRepo
}

// NewQueries binds every repository to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{
		BookingRepo:      NewBookingRepo(db),
		AvailabilityRepo: NewAvailabilityRepo(db),
		VoucherRepo:      NewVoucherRepo(db),
		ExperienceRepo:   NewExperienceRepo(db),
		UserRepo:         NewUserRepo(db),
		WebhookEventRepo: NewWebhookEventRepo(db),
	}
}

// Store is the MySQL implementation of service.Store.
type Store struct {
	*Queries
	db *sql.DB
}

var _ service.Store = (*Store)(nil)

// NewStore returns a Store whose non-transactional queries run on db.
func NewStore(db *sql.DB) *Store {
	return &Store{Queries: NewQueries(db), db: db}
}

// DB exposes the underlying handle, e.g. for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn inside a transaction.  The transaction is committed when
// fn returns nil and rolled back otherwise, including on panic.
func (s *Store) InTx(ctx context.Context, fn func(q service.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(NewQueries(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

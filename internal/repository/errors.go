// Package repository implements the booking core's persistence on MySQL.
// Status changes are conditional UPDATEs guarded by the expected prior
// value, so two concurrent resolvers can never both win: the loser sees
// zero affected rows and reports false.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/experience-booking/internal/service"
)

// ErrNotFound is returned when a lookup matches no row.  It is the
// core's not-found kind so callers can test for it without knowing SQL.
var ErrNotFound = service.ErrNotFound

// ErrConflict is returned when an insert hits a unique key, such as a
// second voucher minted from the same payment intent.
var ErrConflict = service.ErrDuplicate

// ErrIllegalTransition is returned for a status change the booking state
// machine does not allow.  It is a state conflict to callers.
var ErrIllegalTransition = fmt.Errorf("illegal booking transition: %w", service.ErrStateConflict)

// ErrEmailExists is returned when creating a user whose email is taken.
var ErrEmailExists = fmt.Errorf("email already exists: %w", ErrConflict)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// notFound maps sql.ErrNoRows to ErrNotFound with the entity named.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
	}
	return err
}

// affected reports whether a guarded UPDATE changed exactly one row.
func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

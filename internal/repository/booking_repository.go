package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/experience-booking/internal/model"
)

// BookingRepo provides access to the bookings table.  All timestamps are
// stored in UTC.  Bookings are never deleted; cancellation is a status.
type BookingRepo struct {
	db DBTX
}

// NewBookingRepo returns a BookingRepo bound to db, which may be a
// transaction.
func NewBookingRepo(db DBTX) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, experience_id, availability_id, quantity, total_price_cents, currency,
       status, payment_status, is_escalated, inventory_held, payment_intent_id,
       decline_reason, refund_status, refund_attempts, customer_name, customer_email, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b      model.Booking
		intent sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ExperienceID, &b.AvailabilityID, &b.Quantity, &b.TotalPriceCents, &b.Currency,
		&b.Status, &b.PaymentStatus, &b.IsEscalated, &b.InventoryHeld, &intent,
		&b.DeclineReason, &b.RefundStatus, &b.RefundAttempts, &b.CustomerName, &b.CustomerEmail, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.PaymentIntentID = intent.String
	return b, nil
}

// GetBooking loads one booking without locking it.
func (r *BookingRepo) GetBooking(ctx context.Context, id uint64) (model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return model.Booking{}, notFound(err, "booking", id)
	}
	return b, nil
}

// LockBooking loads one booking with SELECT ... FOR UPDATE.  It is only
// meaningful on a repository bound to a transaction.
func (r *BookingRepo) LockBooking(ctx context.Context, id uint64) (model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	if err != nil {
		return model.Booking{}, notFound(err, "booking", id)
	}
	return b, nil
}

// CreateBooking inserts a pending/pending booking and populates its ID
// and timestamps.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (experience_id, availability_id, quantity, total_price_cents, currency,
                                     status, payment_status, customer_name, customer_email)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		b.ExperienceID, b.AvailabilityID, b.Quantity, b.TotalPriceCents, b.Currency,
		model.BookingPending, model.PaymentPending, b.CustomerName, b.CustomerEmail,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps and defaults
	created, err := r.GetBooking(ctx, uint64(id))
	if err != nil {
		return err
	}
	*b = created
	return nil
}

// TransitionBooking moves a booking from one status to another only if
// it is still in from.  It reports false when another writer got there
// first.  reason is stored for declines and ignored otherwise.  Edges
// the state machine does not allow fail without touching the row.
func (r *BookingRepo) TransitionBooking(ctx context.Context, id uint64, from, to model.BookingStatus, reason model.DeclineReason) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("booking %d: %s to %s: %w", id, from, to, ErrIllegalTransition)
	}
	if to != model.BookingDeclined {
		reason = ""
	}
	return affected(r.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, decline_reason = ? WHERE id = ? AND status = ?`,
		to, reason, id, from,
	))
}

// MarkBookingPaid flips payment_status from pending to succeeded.  It
// reports false if the booking was already paid.
func (r *BookingRepo) MarkBookingPaid(ctx context.Context, id uint64) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ? WHERE id = ? AND payment_status = ?`,
		model.PaymentSucceeded, id, model.PaymentPending,
	))
}

// SetInventoryHeld flips inventory_held to held.  It reports false if the
// flag already had that value, which makes reserve and release happen at
// most once per booking.
func (r *BookingRepo) SetInventoryHeld(ctx context.Context, id uint64, held bool) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE bookings SET inventory_held = ? WHERE id = ? AND inventory_held = ?`,
		held, id, !held,
	))
}

// MarkBookingEscalated sets is_escalated on a pending booking.  The flag
// is one-way.
func (r *BookingRepo) MarkBookingEscalated(ctx context.Context, id uint64) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE bookings SET is_escalated = 1 WHERE id = ? AND is_escalated = 0 AND status = ?`,
		id, model.BookingPending,
	))
}

// SetPaymentIntent records the gateway intent id.  It is written once;
// later calls report false.
func (r *BookingRepo) SetPaymentIntent(ctx context.Context, id uint64, intentID string) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_intent_id = ? WHERE id = ? AND payment_intent_id IS NULL`,
		intentID, id,
	))
}

// UpdateBookingTotal overwrites the amount still owed.
func (r *BookingRepo) UpdateBookingTotal(ctx context.Context, id uint64, totalCents int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bookings SET total_price_cents = ? WHERE id = ?`, totalCents, id)
	return err
}

// SetRefundStatus records the outcome of a refund attempt.
func (r *BookingRepo) SetRefundStatus(ctx context.Context, id uint64, status model.RefundStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bookings SET refund_status = ? WHERE id = ?`, status, id)
	return err
}

// NextRefundAttempt bumps refund_attempts and returns the new count.
// LAST_INSERT_ID(expr) hands the value back on this connection, so
// concurrent callers each see their own number.
func (r *BookingRepo) NextRefundAttempt(ctx context.Context, id uint64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET refund_attempts = LAST_INSERT_ID(refund_attempts + 1) WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListTimeoutCandidates returns paid, pending, non-escalated bookings
// created strictly before createdBefore, oldest first.
func (r *BookingRepo) ListTimeoutCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE status = ? AND payment_status = ? AND is_escalated = 0 AND created_at < ?
         ORDER BY created_at, id LIMIT ?`,
		model.BookingPending, model.PaymentSucceeded, createdBefore.UTC(), limit,
	)
}

// ListEscalated returns bookings waiting for an administrator.
func (r *BookingRepo) ListEscalated(ctx context.Context, limit int) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE is_escalated = 1 AND status = ? ORDER BY created_at, id LIMIT ?`,
		model.BookingPending, limit,
	)
}

// ListRefundFailures returns bookings whose last refund attempt failed
// or whose charge exceeded the amount owed.
func (r *BookingRepo) ListRefundFailures(ctx context.Context, limit int) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE refund_status IN (?, ?) ORDER BY updated_at, id LIMIT ?`,
		model.RefundFailed, model.RefundOverpaid, limit,
	)
}

// ListVendorBookings returns bookings for the vendor's experiences in the
// given status, newest first.
func (r *BookingRepo) ListVendorBookings(ctx context.Context, vendorID uint64, status model.BookingStatus, limit int) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+prefixed("b.", bookingColumns)+` FROM bookings b
         JOIN experiences e ON e.id = b.experience_id
         WHERE e.vendor_id = ? AND b.status = ?
         ORDER BY b.created_at DESC, b.id DESC LIMIT ?`,
		vendorID, status, limit,
	)
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// prefixed qualifies every column in a comma separated list with p.
func prefixed(p, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = p + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

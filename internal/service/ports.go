package service

import (
	"context"
	"time"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
)

// Queries is the set of persistence operations the core needs.  Every
// mutator that changes a status is a guarded conditional update: it
// reports false instead of writing when the row is no longer in the
// expected prior state.
type Queries interface {
	GetBooking(ctx context.Context, id uint64) (model.Booking, error)
	// LockBooking reads a booking and holds a row lock until the
	// surrounding transaction ends.
	LockBooking(ctx context.Context, id uint64) (model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	TransitionBooking(ctx context.Context, id uint64, from, to model.BookingStatus, reason model.DeclineReason) (bool, error)
	MarkBookingPaid(ctx context.Context, id uint64) (bool, error)
	SetInventoryHeld(ctx context.Context, id uint64, held bool) (bool, error)
	MarkBookingEscalated(ctx context.Context, id uint64) (bool, error)
	SetPaymentIntent(ctx context.Context, id uint64, intentID string) (bool, error)
	UpdateBookingTotal(ctx context.Context, id uint64, totalCents int64) error
	SetRefundStatus(ctx context.Context, id uint64, status model.RefundStatus) error
	// NextRefundAttempt counts one more refund request for the booking
	// and returns the new total.
	NextRefundAttempt(ctx context.Context, id uint64) (int, error)
	ListTimeoutCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]model.Booking, error)
	ListEscalated(ctx context.Context, limit int) ([]model.Booking, error)
	ListRefundFailures(ctx context.Context, limit int) ([]model.Booking, error)
	ListVendorBookings(ctx context.Context, vendorID uint64, status model.BookingStatus, limit int) ([]model.Booking, error)

	GetSlot(ctx context.Context, id uint64) (model.AvailabilitySlot, error)
	ReserveSlots(ctx context.Context, id uint64, qty int) (bool, error)
	ReleaseSlots(ctx context.Context, id uint64, qty int) (bool, error)

	GetExperience(ctx context.Context, id uint64) (model.Experience, error)
	GetUser(ctx context.Context, id uint64) (model.User, error)

	LockVoucherByCode(ctx context.Context, code string) (model.Voucher, error)
	UpdateVoucher(ctx context.Context, id uint64, balanceCents int64, enabled bool) error
	CreateVoucher(ctx context.Context, v *model.Voucher) error

	// RecordWebhookEvent inserts the event id and reports false when it
	// had already been recorded.
	RecordWebhookEvent(ctx context.Context, eventID, kind string) (bool, error)
}

// Store is Queries plus transactions.  InTx runs fn against a Queries
// bound to one database transaction; it commits when fn returns nil and
// rolls back otherwise.  fn must not call the outer Store.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// Intent is the gateway-side handle for a charge attempt.  AmountCents
// is what the intent will charge.
type Intent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
}

// Gateway is the payment provider.  Implementations bound every call in
// time and report failures wrapped in ErrGateway.
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (Intent, error)
	// GetIntent returns an existing intent so a customer can resume
	// paying it.
	GetIntent(ctx context.Context, intentID string) (Intent, error)
	UpdateIntentAmount(ctx context.Context, intentID string, amountCents int64) error
	// Refund returns everything captured by intentID.  Requests sharing
	// idempotencyKey are one refund on the provider's side, so a retry
	// after a failure must use a new key.  Refunding an intent that is
	// already refunded succeeds.
	Refund(ctx context.Context, intentID, idempotencyKey string) error
}

// PaymentEvent is a verified gateway webhook event.
type PaymentEvent struct {
	ID          string
	Type        string
	IntentID    string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// EventVerifier checks a webhook signature and decodes the event.  It
// returns an error matching ErrSignatureVerification when the signature
// does not match.
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader, secret string) (PaymentEvent, error)
}

// Notifier hands a notification to the delivery pipeline.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, msg notify.Message) error
}

// SecretProvider resolves named secrets and can be reloaded at runtime.
type SecretProvider interface {
	Get(name string) (string, error)
	Reload(ctx context.Context) error
}

// Secret names looked up through SecretProvider.
const (
	SecretWebhookSigning = "STRIPE_WEBHOOK_SECRET"
)

// Clock returns the current time.  Tests substitute a fixed clock.
type Clock func() time.Time

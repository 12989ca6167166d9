package model

import "time"

// BookingStatus is the workflow state of a booking.  A booking is born
// pending and ends in exactly one of the terminal states.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingDeclined  BookingStatus = "declined"
	BookingCancelled BookingStatus = "cancelled"
)

// IsTerminal reports whether no further status change is allowed.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingConfirmed || s == BookingDeclined || s == BookingCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal edge
// of the booking state machine.  Only pending bookings may move, and only
// into a terminal state.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return s == BookingPending && next.IsTerminal()
}

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingDeclined, BookingCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the money side of a booking.  It only ever moves
// from pending to succeeded.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
)

// DeclineReason records which path declined a booking.
type DeclineReason string

const (
	DeclineByVendor DeclineReason = "vendor"
	DeclineTimeout  DeclineReason = "timeout"
	DeclineSoldOut  DeclineReason = "sold_out"
	DeclineByAdmin  DeclineReason = "admin"
)

// Valid reports whether r is a known decline reason.
func (r DeclineReason) Valid() bool {
	switch r {
	case DeclineByVendor, DeclineTimeout, DeclineSoldOut, DeclineByAdmin:
		return true
	}
	return false
}

// RefundStatus surfaces the result of the last refund attempt so failed
// refunds can be reconciled by hand.  Overpaid marks a booking whose
// gateway charge exceeded what it owed; the difference is returned by
// hand.
type RefundStatus string

const (
	RefundNone     RefundStatus = "none"
	RefundRefunded RefundStatus = "refunded"
	RefundFailed   RefundStatus = "failed"
	RefundOverpaid RefundStatus = "overpaid"
)

// NeedsAttention reports whether an operator has to look at the money
// side of the booking.
func (r RefundStatus) NeedsAttention() bool { return r == RefundFailed || r == RefundOverpaid }

// Booking is a customer's reservation of Quantity units of one
// availability slot.  It carries its own price and status independent of
// the slot's aggregate capacity.  Related rows are referenced by ID only.
//
// Fields:
//  ID              – primary key identifier.
//  ExperienceID    – experience being booked.
//  AvailabilityID  – availability slot the units come from.
//  Quantity        – number of units (always positive).
//  TotalPriceCents – amount still owed in minor units; only changed at
//                    creation and by voucher redemption.
//  Currency        – ISO 4217 code, lower case as used by the gateway.
//  Status          – workflow state.
//  PaymentStatus   – pending until paid by gateway or voucher.
//  IsEscalated     – set once when a stale booking is handed to an admin.
//  InventoryHeld   – true while the booking holds reserved slots.
//  PaymentIntentID – gateway intent reference, written once.
//  DeclineReason   – which path declined the booking (empty otherwise).
//  RefundStatus    – outcome of the last refund attempt.
//  RefundAttempts  – refunds requested so far; numbers idempotency keys.
//  CustomerName    – name given at checkout.
//  CustomerEmail   – address used for customer notifications.
//  CreatedAt       – creation timestamp; drives timeout aging.
//  UpdatedAt       – last update timestamp.
type Booking struct {
	ID              uint64        // bookings.id
	ExperienceID    uint64        // bookings.experience_id
	AvailabilityID  uint64        // bookings.availability_id
	Quantity        int           // bookings.quantity
	TotalPriceCents int64         // bookings.total_price_cents
	Currency        string        // bookings.currency
	Status          BookingStatus // bookings.status
	PaymentStatus   PaymentStatus // bookings.payment_status
	IsEscalated     bool          // bookings.is_escalated
	InventoryHeld   bool          // bookings.inventory_held
	PaymentIntentID string        // bookings.payment_intent_id (empty when unset)
	DeclineReason   DeclineReason // bookings.decline_reason
	RefundStatus    RefundStatus  // bookings.refund_status
	RefundAttempts  int           // bookings.refund_attempts
	CustomerName    string        // bookings.customer_name
	CustomerEmail   string        // bookings.customer_email
	CreatedAt       time.Time     // bookings.created_at
	UpdatedAt       time.Time     // bookings.updated_at
}

// IsPaid reports whether the booking has been settled by gateway or voucher.
func (b Booking) IsPaid() bool { return b.PaymentStatus == PaymentSucceeded }

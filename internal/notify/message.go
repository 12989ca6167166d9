// Package notify defines notification payloads exchanged over the
// message broker, the publisher the booking core uses to hand them off,
// and the worker that delivers them by email or SMS.
package notify

import "time"

// Kind names a notification.  It doubles as the routing key suffix on
// the notifications exchange.
type Kind string

const (
	KindBookingConfirmed Kind = "booking.confirmed"
	KindBookingDeclined  Kind = "booking.declined"
	KindVendorNewRequest Kind = "vendor.new_request"
	KindPaymentReceipt   Kind = "payment.receipt"
	KindVoucherDelivery  Kind = "voucher.delivery"
	KindBookingEscalated Kind = "booking.escalated"
)

// Recipient is who a message is delivered to and over which channels.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Message is the payload published for every notification kind.  Fields
// that do not apply to a kind are left empty.  It carries enough context
// for the worker to render a message without querying the database.
type Message struct {
	Kind            Kind      `json:"kind"`
	To              Recipient `json:"to"`
	ViaEmail        bool      `json:"via_email"`
	ViaSMS          bool      `json:"via_sms"`
	BookingID       uint64    `json:"booking_id,omitempty"`
	ExperienceTitle string    `json:"experience_title,omitempty"`
	Quantity        int       `json:"quantity,omitempty"`
	AmountCents     int64     `json:"amount_cents,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Refunded        bool      `json:"refunded,omitempty"`
	VoucherCode     string    `json:"voucher_code,omitempty"`
	SenderName      string    `json:"sender_name,omitempty"`
	Note            string    `json:"note,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

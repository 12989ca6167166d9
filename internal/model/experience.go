package model

// ConfirmationMode decides whether a paid booking confirms itself or
// waits for the vendor.
type ConfirmationMode string

const (
	ConfirmAuto   ConfirmationMode = "auto"
	ConfirmManual ConfirmationMode = "manual"
)

// TimeoutBehavior is the policy applied when a manual booking ages past
// its deadline without a vendor decision.
type TimeoutBehavior string

const (
	TimeoutAutoConfirm TimeoutBehavior = "auto-confirm"
	TimeoutAutoDecline TimeoutBehavior = "auto-decline"
	TimeoutEscalate    TimeoutBehavior = "escalate"
)

// Experience is read-only from the booking core's point of view.  It is
// maintained elsewhere and only consulted for price and policies.
//
// Fields:
//  ID               – primary key identifier.
//  VendorID         – user ID of the vendor running the experience.
//  Title            – display title used in notifications.
//  PriceCents       – unit price in minor units.
//  Currency         – ISO 4217 code.
//  ConfirmationMode – auto or manual.
//  TimeoutBehavior  – auto-confirm, auto-decline or escalate.
type Experience struct {
	ID               uint64           // experiences.id
	VendorID         uint64           // experiences.vendor_id
	Title            string           // experiences.title
	PriceCents       int64            // experiences.price_cents
	Currency         string           // experiences.currency
	ConfirmationMode ConfirmationMode // experiences.confirmation_mode
	TimeoutBehavior  TimeoutBehavior  // experiences.timeout_behavior
}

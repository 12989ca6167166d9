package model

import "time"

// VoucherType distinguishes prepaid credit from a single free redemption.
type VoucherType string

const (
	VoucherFixedAmount VoucherType = "fixed_amount"
	VoucherExperience  VoucherType = "experience"
)

// Valid reports whether t is a known voucher type.
func (t VoucherType) Valid() bool {
	return t == VoucherFixedAmount || t == VoucherExperience
}

// Voucher is a discount code.  IsEnabled only ever flips from true to
// false: when a fixed amount balance reaches zero or after an experience
// voucher has been redeemed once.  Expiry is evaluated, never written.
type Voucher struct {
	ID                  uint64      // vouchers.id
	Code                string      // vouchers.code (unique)
	Type                VoucherType // vouchers.type
	CurrentBalanceCents int64       // vouchers.current_balance_cents (fixed_amount only)
	Currency            string      // vouchers.currency
	IsEnabled           bool        // vouchers.is_enabled
	ExpiryDate          *time.Time  // vouchers.expiry_date (nullable)
	ExperienceID        *uint64     // vouchers.experience_id (nullable, experience type only)
	SourceIntentID      string      // vouchers.source_intent_id (unique, empty for admin-issued)
	SenderName          string      // vouchers.sender_name
	SenderEmail         string      // vouchers.sender_email
	RecipientName       string      // vouchers.recipient_name
	RecipientEmail      string      // vouchers.recipient_email
	Message             string      // vouchers.message
	CreatedAt           time.Time   // vouchers.created_at
	UpdatedAt           time.Time   // vouchers.updated_at
}

// Expired reports whether the voucher's expiry date is at or before now.
func (v Voucher) Expired(now time.Time) bool {
	return v.ExpiryDate != nil && !v.ExpiryDate.After(now)
}

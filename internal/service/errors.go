// Package service holds the booking reconciliation core: the booking
// state machine, the inventory ledger, voucher redemption, the payment
// reconciler, the timeout sweeper and the vendor actions that share the
// same status guards.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.  Callers test for them with errors.Is; handlers translate
// them into HTTP status codes.
var (
	// ErrValidation signals missing or malformed input.  Nothing has been
	// mutated when it is returned.
	ErrValidation = errors.New("validation error")
	// ErrNotFound signals that a booking, voucher, slot or other record
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict signals an action on a booking that is no longer
	// in the expected status, including losing a race to another resolver.
	ErrStateConflict = errors.New("state conflict")
	// ErrInsufficientInventory is returned when a reserve asks for more
	// units than the slot has left.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrVoucherInvalid covers disabled, expired and wrong-experience vouchers.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// ErrGateway signals a failed payment gateway call.
	ErrGateway = errors.New("payment gateway error")
	// ErrSignatureVerification rejects a webhook outright.
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	// ErrForbidden is returned when a vendor acts on another vendor's booking.
	ErrForbidden = errors.New("forbidden")
	// ErrDataIntegrity marks a webhook that references data we do not
	// have.  It is logged loudly and acknowledged so it is not redelivered.
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrDuplicate is returned by stores when a unique key already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Voucher rejection reasons.  Each one matches ErrVoucherInvalid.
var (
	ErrVoucherDisabled      = fmt.Errorf("%w: voucher is disabled", ErrVoucherInvalid)
	ErrVoucherExpired       = fmt.Errorf("%w: voucher has expired", ErrVoucherInvalid)
	ErrVoucherNotApplicable = fmt.Errorf("%w: voucher does not apply to this experience", ErrVoucherInvalid)
)

// Error carries the failing operation and a human readable reason next to
// the error kind.  errors.Is matches both the kind and the wrapped cause.
type Error struct {
	Op   string // operation, e.g. "ApplyVoucher"
	Kind error  // one of the Err* kinds above
	Msg  string // reason safe to show to callers
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

func wrapError(op string, kind error, msg string, err error) error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: err}
}

// Reason returns the caller-facing message of err.  For an *Error it is
// Msg (falling back to the kind); otherwise err.Error().
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Kind != nil {
			return e.Kind.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

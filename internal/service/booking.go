package service

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
)

// RoleSystem identifies the sweeper and reconciler when they resolve a
// booking.  It is never issued in a token.
const RoleSystem = "SYSTEM"

// Actor is who is asking for a booking change.
type Actor struct {
	UserID uint64
	Role   string
}

// SystemActor is used by the sweeper and the reconciler.
var SystemActor = Actor{Role: RoleSystem}

// Resolution is a booking after an action plus the side effects that
// action triggered.
type Resolution struct {
	Booking  model.Booking
	Outcomes []Outcome
}

// CreateBookingInput is the checkout request.
type CreateBookingInput struct {
	ExperienceID   uint64
	AvailabilityID uint64
	Quantity       int
	CustomerName   string
	CustomerEmail  string
}

// Checkout is a booking together with what the customer needs to pay
// for it.  ClientSecret is empty when no gateway payment is needed or
// when intent creation failed; in the latter case Payment carries the
// failure and the customer can retry through StartPayment.
type Checkout struct {
	Booking      model.Booking
	ClientSecret string
	Payment      Outcome
}

func (in CreateBookingInput) validate() error {
	const op = "CreateBooking"
	switch {
	case in.ExperienceID == 0:
		return newError(op, ErrValidation, "experience_id is required")
	case in.AvailabilityID == 0:
		return newError(op, ErrValidation, "availability_id is required")
	case in.Quantity <= 0:
		return newError(op, ErrValidation, "quantity must be positive")
	case strings.TrimSpace(in.CustomerName) == "":
		return newError(op, ErrValidation, "customer_name is required")
	}
	if _, err := mail.ParseAddress(in.CustomerEmail); err != nil {
		return newError(op, ErrValidation, "customer_email is invalid")
	}
	return nil
}

// CreateBooking prices and inserts a pending booking, then opens a
// gateway payment intent for it.  A free booking is settled straight
// away.  Slots are only checked here; they are consumed when payment
// succeeds.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (Checkout, error) {
	const op = "CreateBooking"
	ctx, span := tracer.Start(ctx, "booking.create")
	var err error
	defer func() { spanEnd(span, err) }()

	if err = in.validate(); err != nil {
		return Checkout{}, err
	}
	exp, err := s.store.GetExperience(ctx, in.ExperienceID)
	if err != nil {
		err = lookupErr(op, "experience", err)
		return Checkout{}, err
	}
	slot, err := s.store.GetSlot(ctx, in.AvailabilityID)
	if err != nil {
		err = lookupErr(op, "availability slot", err)
		return Checkout{}, err
	}
	if slot.ExperienceID != exp.ID {
		err = newError(op, ErrValidation, "availability slot does not belong to this experience")
		return Checkout{}, err
	}
	if slot.AvailableSlots < in.Quantity {
		err = newError(op, ErrInsufficientInventory, "not enough places left in this slot")
		return Checkout{}, err
	}

	b := model.Booking{
		ExperienceID:    exp.ID,
		AvailabilityID:  slot.ID,
		Quantity:        in.Quantity,
		TotalPriceCents: exp.PriceCents * int64(in.Quantity),
		Currency:        exp.Currency,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(in.CustomerEmail)),
	}
	if b.TotalPriceCents == 0 {
		var res Resolution
		if res, err = s.createFree(ctx, b, exp); err != nil {
			return Checkout{}, err
		}
		span.SetAttributes(attribute.Int64("booking.id", int64(res.Booking.ID)))
		return Checkout{Booking: res.Booking}, nil
	}
	if err = s.store.CreateBooking(ctx, &b); err != nil {
		err = wrapError(op, nil, "create booking", err)
		return Checkout{}, err
	}
	span.SetAttributes(attribute.Int64("booking.id", int64(b.ID)))
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "experience_id": exp.ID, "quantity": b.Quantity}).Info("booking created")
	return s.openIntent(ctx, b), nil
}

// createFree inserts a zero priced booking, marks it paid and runs the
// settlement step exactly as a gateway payment would, all in one
// transaction.  If the slot filled up since it was checked nothing is
// written.
func (s *Service) createFree(ctx context.Context, b model.Booking, exp model.Experience) (Resolution, error) {
	const op = "CreateBooking"
	var st settlement
	err := s.store.InTx(ctx, func(q Queries) error {
		if err := q.CreateBooking(ctx, &b); err != nil {
			return wrapError(op, nil, "create booking", err)
		}
		paid, err := q.MarkBookingPaid(ctx, b.ID)
		if err != nil {
			return wrapError(op, nil, "mark paid", err)
		}
		if !paid {
			return newError(op, ErrStateConflict, "booking is already paid")
		}
		b.PaymentStatus = model.PaymentSucceeded
		st, err = s.settleTx(ctx, q, &b, exp, false)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "experience_id": exp.ID, "quantity": b.Quantity}).Info("free booking created")
	return s.afterSettle(ctx, b, exp, st), nil
}

// openIntent creates the gateway intent for b and stores its id.  A
// gateway failure leaves the booking pending without an intent.
func (s *Service) openIntent(ctx context.Context, b model.Booking) Checkout {
	out := Checkout{Booking: b, Payment: Outcome{Op: "intent.create", Kind: OutcomeOK, BookingID: b.ID}}
	cctx, cancel := context.WithTimeout(ctx, s.effectTimeout)
	defer cancel()
	meta := map[string]string{
		"bookingId":    strconv.FormatUint(b.ID, 10),
		"experienceId": strconv.FormatUint(b.ExperienceID, 10),
	}
	key := fmt.Sprintf("booking-%d-%d", b.ID, b.TotalPriceCents)
	intent, err := s.gateway.CreateIntent(cctx, b.TotalPriceCents, b.Currency, meta, key)
	if err != nil {
		out.Payment.Kind, out.Payment.Err = OutcomeGatewayError, err
		s.record(out.Payment)
		return out
	}
	set, err := s.store.SetPaymentIntent(ctx, b.ID, intent.ID)
	if err != nil {
		out.Payment.Kind, out.Payment.Err = OutcomeGatewayError, fmt.Errorf("store intent %s: %w", intent.ID, err)
		s.record(out.Payment)
		return out
	}
	if !set {
		// another request stored an intent first; hand out that one
		cur, err := s.store.GetBooking(ctx, b.ID)
		if err == nil && cur.PaymentIntentID != "" && cur.PaymentIntentID != intent.ID {
			if existing, gerr := s.gateway.GetIntent(cctx, cur.PaymentIntentID); gerr == nil {
				intent = existing
			}
		}
	}
	out.Booking.PaymentIntentID = intent.ID
	out.ClientSecret = intent.ClientSecret
	s.record(out.Payment)
	return out
}

// StartPayment returns the client secret for an unpaid booking, creating
// the intent if an earlier attempt failed.  email must match the
// booking's customer.
func (s *Service) StartPayment(ctx context.Context, id uint64, email string) (Checkout, error) {
	const op = "StartPayment"
	b, err := s.GetBooking(ctx, id, email)
	if err != nil {
		return Checkout{}, err
	}
	if b.Status != model.BookingPending {
		return Checkout{}, newError(op, ErrStateConflict, "booking is "+string(b.Status))
	}
	if b.IsPaid() {
		return Checkout{}, newError(op, ErrStateConflict, "booking is already paid")
	}
	if b.TotalPriceCents == 0 {
		return Checkout{}, newError(op, ErrValidation, "nothing left to pay")
	}
	if b.PaymentIntentID == "" {
		return s.openIntent(ctx, b), nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.effectTimeout)
	defer cancel()
	intent, err := s.gateway.GetIntent(cctx, b.PaymentIntentID)
	if err != nil {
		return Checkout{}, wrapError(op, ErrGateway, "could not load payment", err)
	}
	// A voucher may have lowered the total while the amount update failed;
	// never hand out an intent that charges more than is owed.
	if intent.AmountCents != b.TotalPriceCents {
		if o := s.updateIntentAmount(ctx, b.ID, intent.ID, b.TotalPriceCents); !o.OK() {
			return Checkout{}, wrapError(op, ErrGateway, "could not update payment amount", o.Err)
		}
	}
	return Checkout{Booking: b, ClientSecret: intent.ClientSecret, Payment: Outcome{Op: "intent.get", Kind: OutcomeOK, BookingID: b.ID}}, nil
}

// GetBooking returns a booking to its customer.  A wrong email looks the
// same as a missing booking.
func (s *Service) GetBooking(ctx context.Context, id uint64, email string) (model.Booking, error) {
	const op = "GetBooking"
	if id == 0 || strings.TrimSpace(email) == "" {
		return model.Booking{}, newError(op, ErrValidation, "booking id and email are required")
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return model.Booking{}, lookupErr(op, "booking", err)
	}
	if !strings.EqualFold(b.CustomerEmail, strings.TrimSpace(email)) {
		return model.Booking{}, newError(op, ErrNotFound, "booking not found")
	}
	return b, nil
}

// authorize lets admins and the system act on any booking and vendors
// only on bookings of their own experiences.
func authorize(op string, actor Actor, exp model.Experience) error {
	switch actor.Role {
	case model.RoleAdmin, RoleSystem:
		return nil
	case model.RoleVendor:
		if actor.UserID != 0 && actor.UserID == exp.VendorID {
			return nil
		}
	}
	return newError(op, ErrForbidden, "not allowed to act on this booking")
}

// ConfirmBooking moves a paid pending booking to confirmed and tells the
// customer.  It fails with ErrStateConflict if anything else resolved
// the booking first.
func (s *Service) ConfirmBooking(ctx context.Context, actor Actor, id uint64) (Resolution, error) {
	const op = "ConfirmBooking"
	ctx, span := tracer.Start(ctx, "booking.confirm", trace.WithAttributes(attribute.Int64("booking.id", int64(id))))
	var err error
	defer func() { spanEnd(span, err) }()

	var (
		b   model.Booking
		exp model.Experience
	)
	err = s.store.InTx(ctx, func(q Queries) error {
		var err error
		if b, err = q.LockBooking(ctx, id); err != nil {
			return lookupErr(op, "booking", err)
		}
		if exp, err = q.GetExperience(ctx, b.ExperienceID); err != nil {
			return lookupErr(op, "experience", err)
		}
		if err := authorize(op, actor, exp); err != nil {
			return err
		}
		if b.Status != model.BookingPending {
			return newError(op, ErrStateConflict, "booking is already "+string(b.Status))
		}
		if !b.IsPaid() {
			return newError(op, ErrStateConflict, "booking is not paid yet")
		}
		return s.confirmTx(ctx, q, &b)
	})
	if err != nil {
		return Resolution{}, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": id, "actor": actor.Role, "actor_id": actor.UserID}).Info("booking confirmed")
	return Resolution{
		Booking:  b,
		Outcomes: []Outcome{s.notify(ctx, b.ID, bookingMessage(notify.KindBookingConfirmed, b, exp))},
	}, nil
}

// confirmTx is the guarded pending to confirmed transition.
func (s *Service) confirmTx(ctx context.Context, q Queries, b *model.Booking) error {
	ok, err := q.TransitionBooking(ctx, b.ID, model.BookingPending, model.BookingConfirmed, "")
	if err != nil {
		return wrapError("ConfirmBooking", nil, "update booking", err)
	}
	if !ok {
		return newError("ConfirmBooking", ErrStateConflict, "booking was resolved concurrently")
	}
	b.Status = model.BookingConfirmed
	return nil
}

// DeclineBooking is the one decline path shared by vendors, admins, the
// sweeper and the reconciler.  It moves a pending booking to declined
// and releases its units in one transaction, then refunds the payment
// (best effort) and tells the customer.
func (s *Service) DeclineBooking(ctx context.Context, actor Actor, id uint64, reason model.DeclineReason) (Resolution, error) {
	const op = "DeclineBooking"
	ctx, span := tracer.Start(ctx, "booking.decline", trace.WithAttributes(
		attribute.Int64("booking.id", int64(id)),
		attribute.String("decline.reason", string(reason)),
	))
	var err error
	defer func() { spanEnd(span, err) }()

	if !reason.Valid() {
		err = newError(op, ErrValidation, "unknown decline reason")
		return Resolution{}, err
	}
	var (
		b   model.Booking
		exp model.Experience
	)
	err = s.store.InTx(ctx, func(q Queries) error {
		var err error
		if b, err = q.LockBooking(ctx, id); err != nil {
			return lookupErr(op, "booking", err)
		}
		if exp, err = q.GetExperience(ctx, b.ExperienceID); err != nil {
			return lookupErr(op, "experience", err)
		}
		if err := authorize(op, actor, exp); err != nil {
			return err
		}
		if b.Status != model.BookingPending {
			return newError(op, ErrStateConflict, "booking is already "+string(b.Status))
		}
		return s.declineTx(ctx, q, &b, reason)
	})
	if err != nil {
		return Resolution{}, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": id, "reason": reason, "actor": actor.Role, "actor_id": actor.UserID}).Info("booking declined")
	return s.afterDecline(ctx, b, exp), nil
}

// declineTx is the guarded pending to declined transition plus the
// release of any units the booking holds.
func (s *Service) declineTx(ctx context.Context, q Queries, b *model.Booking, reason model.DeclineReason) error {
	ok, err := q.TransitionBooking(ctx, b.ID, model.BookingPending, model.BookingDeclined, reason)
	if err != nil {
		return wrapError("DeclineBooking", nil, "update booking", err)
	}
	if !ok {
		return newError("DeclineBooking", ErrStateConflict, "booking was resolved concurrently")
	}
	b.Status = model.BookingDeclined
	b.DeclineReason = reason
	return s.inventory.Unhold(ctx, q, b)
}

// afterDecline runs the post-commit side effects of a decline.
func (s *Service) afterDecline(ctx context.Context, b model.Booking, exp model.Experience) Resolution {
	res := Resolution{Booking: b}
	msg := bookingMessage(notify.KindBookingDeclined, b, exp)
	msg.Reason = string(b.DeclineReason)
	if refundable(b) {
		o := s.refund(ctx, b.ID, b.PaymentIntentID)
		res.Outcomes = append(res.Outcomes, o)
		msg.Refunded = o.OK()
		if o.OK() {
			res.Booking.RefundStatus = model.RefundRefunded
		} else {
			res.Booking.RefundStatus = model.RefundFailed
		}
	}
	res.Outcomes = append(res.Outcomes, s.notify(ctx, b.ID, msg))
	return res
}

// refundable reports whether gateway money was taken for b.
func refundable(b model.Booking) bool {
	return b.IsPaid() && b.PaymentIntentID != "" && b.TotalPriceCents > 0
}

// CancelBooking lets a customer withdraw a booking they have not paid
// for.  Paid bookings are resolved by the vendor or the sweeper.
func (s *Service) CancelBooking(ctx context.Context, id uint64, email string) (model.Booking, error) {
	const op = "CancelBooking"
	if id == 0 || strings.TrimSpace(email) == "" {
		return model.Booking{}, newError(op, ErrValidation, "booking id and email are required")
	}
	var b model.Booking
	err := s.store.InTx(ctx, func(q Queries) error {
		var err error
		if b, err = q.LockBooking(ctx, id); err != nil {
			return lookupErr(op, "booking", err)
		}
		if !strings.EqualFold(b.CustomerEmail, strings.TrimSpace(email)) {
			return newError(op, ErrNotFound, "booking not found")
		}
		if b.Status != model.BookingPending {
			return newError(op, ErrStateConflict, "booking is already "+string(b.Status))
		}
		if b.IsPaid() {
			return newError(op, ErrStateConflict, "paid bookings cannot be cancelled")
		}
		ok, err := q.TransitionBooking(ctx, b.ID, model.BookingPending, model.BookingCancelled, "")
		if err != nil {
			return wrapError(op, nil, "update booking", err)
		}
		if !ok {
			return newError(op, ErrStateConflict, "booking was resolved concurrently")
		}
		b.Status = model.BookingCancelled
		return s.inventory.Unhold(ctx, q, &b)
	})
	if err != nil {
		return model.Booking{}, err
	}
	s.log.WithField("booking_id", id).Info("booking cancelled by customer")
	return b, nil
}

// RetryRefund re-attempts a refund that previously failed.
func (s *Service) RetryRefund(ctx context.Context, id uint64) (Resolution, error) {
	const op = "RetryRefund"
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return Resolution{}, lookupErr(op, "booking", err)
	}
	if b.RefundStatus != model.RefundFailed {
		return Resolution{}, newError(op, ErrStateConflict, "no failed refund on this booking")
	}
	if b.PaymentIntentID == "" {
		return Resolution{}, newError(op, ErrStateConflict, "booking has no payment to refund")
	}
	o := s.refund(ctx, b.ID, b.PaymentIntentID)
	if o.OK() {
		b.RefundStatus = model.RefundRefunded
	}
	return Resolution{Booking: b, Outcomes: []Outcome{o}}, nil
}

// ListVendorBookings lists a vendor's bookings in status, newest first.
func (s *Service) ListVendorBookings(ctx context.Context, vendorID uint64, status model.BookingStatus, limit int) ([]model.Booking, error) {
	if !status.Valid() {
		return nil, newError("ListVendorBookings", ErrValidation, "unknown status")
	}
	return s.store.ListVendorBookings(ctx, vendorID, status, clampLimit(limit))
}

// ListEscalated lists bookings waiting for an admin decision.
func (s *Service) ListEscalated(ctx context.Context, limit int) ([]model.Booking, error) {
	return s.store.ListEscalated(ctx, clampLimit(limit))
}

// ListRefundFailures lists bookings whose refund needs manual follow-up.
func (s *Service) ListRefundFailures(ctx context.Context, limit int) ([]model.Booking, error) {
	return s.store.ListRefundFailures(ctx, clampLimit(limit))
}

func clampLimit(n int) int {
	if n <= 0 || n > 200 {
		return 50
	}
	return n
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
)

var tracer = otel.Tracer("github.com/iliyamo/experience-booking/internal/service")

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store    Store
	Gateway  Gateway
	Verifier EventVerifier
	Notifier Notifier
	Secrets  SecretProvider
	Log      logrus.FieldLogger
	Clock    Clock

	// Location is where business hours are evaluated.  Defaults to
	// time.Local.
	Location *time.Location
	// SideEffectTimeout bounds every gateway and notification call.
	SideEffectTimeout time.Duration
	// VoucherValidity is how long a purchased voucher stays valid.
	VoucherValidity time.Duration
	// SweepBatch caps how many candidates one sweep looks at.
	SweepBatch int
	// Admin receives escalations.
	Admin notify.Recipient
}

// Service is the booking reconciliation core.  It is safe for
// concurrent use; every booking mutation is guarded in the store.
type Service struct {
	store     Store
	gateway   Gateway
	verifier  EventVerifier
	notifier  Notifier
	secrets   SecretProvider
	inventory *Inventory
	log       logrus.FieldLogger
	clock     Clock

	loc             *time.Location
	effectTimeout   time.Duration
	voucherValidity time.Duration
	sweepBatch      int
	admin           notify.Recipient

	sweeping atomic.Bool
}

// New builds a Service, filling in defaults for zero values.
func New(d Deps) *Service {
	s := &Service{
		store:           d.Store,
		gateway:         d.Gateway,
		verifier:        d.Verifier,
		notifier:        d.Notifier,
		secrets:         d.Secrets,
		log:             d.Log,
		clock:           d.Clock,
		loc:             d.Location,
		effectTimeout:   d.SideEffectTimeout,
		voucherValidity: d.VoucherValidity,
		sweepBatch:      d.SweepBatch,
		admin:           d.Admin,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.effectTimeout <= 0 {
		s.effectTimeout = 10 * time.Second
	}
	if s.voucherValidity <= 0 {
		s.voucherValidity = 365 * 24 * time.Hour
	}
	if s.sweepBatch <= 0 {
		s.sweepBatch = 500
	}
	s.inventory = NewInventory(s.log)
	return s
}

func (s *Service) now() time.Time { return s.clock().In(s.loc) }

// notify hands msg to the dispatcher with a bounded context.  The
// result is recorded, never returned as an error.
func (s *Service) notify(ctx context.Context, bookingID uint64, msg notify.Message) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectTimeout)
	defer cancel()
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = s.clock().UTC()
	}
	if msg.BookingID == 0 {
		msg.BookingID = bookingID
	}
	o := Outcome{Op: "notify." + string(msg.Kind), Kind: OutcomeOK, BookingID: bookingID}
	if err := s.notifier.Notify(ctx, msg.Kind, msg); err != nil {
		o.Kind, o.Err = OutcomeNotifyError, err
	}
	return s.record(o)
}

// refund asks the gateway to refund the booking's own payment and stores
// the result on the booking so failures can be found and retried by an
// admin.  Each attempt is numbered on the booking and sent under its own
// idempotency key.
func (s *Service) refund(ctx context.Context, bookingID uint64, intentID string) Outcome {
	ctx = context.WithoutCancel(ctx)
	o := Outcome{Op: "refund", Kind: OutcomeOK, BookingID: bookingID}
	attempt, err := s.store.NextRefundAttempt(ctx, bookingID)
	if err != nil {
		o.Kind, o.Err = OutcomeGatewayError, fmt.Errorf("number refund attempt: %w", err)
	} else {
		o = s.gatewayRefund(ctx, o, intentID, refundKey(intentID, attempt))
	}
	status := model.RefundRefunded
	if !o.OK() {
		status = model.RefundFailed
	}
	if err := s.store.SetRefundStatus(ctx, bookingID, status); err != nil {
		s.log.WithFields(logrus.Fields{"booking_id": bookingID, "refund_status": status}).
			WithError(err).Error("could not record refund status")
	}
	return s.record(o)
}

// refundExtraCharge returns a charge that is not the booking's payment,
// such as a second payment for an already settled booking.  The booking's
// refund status describes its own payment and is left alone; a failure
// is logged with the intent and counted for manual follow-up.
func (s *Service) refundExtraCharge(ctx context.Context, bookingID uint64, intentID string) Outcome {
	ctx = context.WithoutCancel(ctx)
	o := s.gatewayRefund(ctx, Outcome{Op: "refund.extra_charge", Kind: OutcomeOK, BookingID: bookingID}, intentID, "refund-"+intentID+"-extra")
	if !o.OK() {
		obs.LedgerAnomalies.WithLabelValues("extra_charge_refund_failed").Inc()
		s.log.WithFields(logrus.Fields{"booking_id": bookingID, "intent_id": intentID}).
			WithError(o.Err).Error("extra charge could not be refunded; refund it by hand")
	}
	return s.record(o)
}

func (s *Service) gatewayRefund(ctx context.Context, o Outcome, intentID, key string) Outcome {
	cctx, cancel := context.WithTimeout(ctx, s.effectTimeout)
	defer cancel()
	if err := s.gateway.Refund(cctx, intentID, key); err != nil {
		o.Kind, o.Err = OutcomeGatewayError, err
	}
	return o
}

// refundKey is the idempotency key of one refund attempt.
func refundKey(intentID string, attempt int) string {
	return fmt.Sprintf("refund-%s-%d", intentID, attempt)
}

// updateIntentAmount keeps an open intent in step with the booking total.
func (s *Service) updateIntentAmount(ctx context.Context, bookingID uint64, intentID string, amount int64) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectTimeout)
	defer cancel()
	o := Outcome{Op: "intent.update_amount", Kind: OutcomeOK, BookingID: bookingID}
	if err := s.gateway.UpdateIntentAmount(ctx, intentID, amount); err != nil {
		o.Kind, o.Err = OutcomeGatewayError, err
	}
	return s.record(o)
}

// customer builds the customer recipient of a booking.  Customers are
// only reachable by email.
func customer(b model.Booking) notify.Recipient {
	return notify.Recipient{Name: b.CustomerName, Email: b.CustomerEmail}
}

func bookingMessage(kind notify.Kind, b model.Booking, exp model.Experience) notify.Message {
	return notify.Message{
		Kind:            kind,
		To:              customer(b),
		ViaEmail:        true,
		BookingID:       b.ID,
		ExperienceTitle: exp.Title,
		Quantity:        b.Quantity,
		AmountCents:     b.TotalPriceCents,
		Currency:        b.Currency,
	}
}

// lookupErr maps a store lookup error onto the service taxonomy.
func lookupErr(op, what string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return wrapError(op, ErrNotFound, what+" not found", err)
	}
	return wrapError(op, nil, "load "+what, err)
}

func spanEnd(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

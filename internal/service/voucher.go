package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/experience-booking/internal/model"
)

// VoucherResult reports a redemption.
type VoucherResult struct {
	Booking       model.Booking
	Voucher       model.Voucher
	ConsumedCents int64 // value taken from the voucher; the full price for experience vouchers
	Outcomes      []Outcome
}

// redemption is the pure arithmetic of applying v to b.
type redemption struct {
	balance  int64
	enabled  bool
	total    int64
	settled  bool
	consumed int64
}

// redeem applies the voucher rules without touching storage.  It only
// returns ErrVoucherNotApplicable; earlier checks belong to the caller.
func redeem(v model.Voucher, b model.Booking) (redemption, error) {
	switch v.Type {
	case model.VoucherFixedAmount:
		if v.Currency != "" && !strings.EqualFold(v.Currency, b.Currency) {
			return redemption{}, ErrVoucherNotApplicable
		}
		price, bal := b.TotalPriceCents, v.CurrentBalanceCents
		if price <= bal {
			left := bal - price
			return redemption{balance: left, enabled: left != 0, total: 0, settled: true, consumed: price}, nil
		}
		return redemption{balance: 0, enabled: false, total: price - bal, settled: false, consumed: bal}, nil
	case model.VoucherExperience:
		if v.ExperienceID == nil || *v.ExperienceID != b.ExperienceID {
			return redemption{}, ErrVoucherNotApplicable
		}
		return redemption{balance: v.CurrentBalanceCents, enabled: false, total: 0, settled: true, consumed: b.TotalPriceCents}, nil
	}
	return redemption{}, ErrVoucherNotApplicable
}

// ApplyVoucher redeems code against a booking.  Checks run in this
// order: the voucher exists, is enabled, has not expired, and the
// booking is not paid yet.  When the voucher covers the whole price the
// booking is settled in the same transaction, exactly as if the gateway
// had been paid; otherwise an open intent is resized to the remainder
// after commit.
func (s *Service) ApplyVoucher(ctx context.Context, code string, bookingID uint64) (VoucherResult, error) {
	const op = "ApplyVoucher"
	ctx, span := tracer.Start(ctx, "voucher.apply", trace.WithAttributes(attribute.Int64("booking.id", int64(bookingID))))
	var err error
	defer func() { spanEnd(span, err) }()

	code = strings.TrimSpace(code)
	if code == "" {
		err = newError(op, ErrValidation, "voucher code is required")
		return VoucherResult{}, err
	}
	if bookingID == 0 {
		err = newError(op, ErrValidation, "booking id is required")
		return VoucherResult{}, err
	}

	var (
		res VoucherResult
		exp model.Experience
		st  settlement
		r   redemption
	)
	now := s.clock()
	err = s.store.InTx(ctx, func(q Queries) error {
		v, err := q.LockVoucherByCode(ctx, code)
		if err != nil {
			return lookupErr(op, "voucher", err)
		}
		if !v.IsEnabled {
			return wrapError(op, ErrVoucherInvalid, "voucher is disabled", ErrVoucherDisabled)
		}
		if v.Expired(now) {
			return wrapError(op, ErrVoucherInvalid, "voucher has expired", ErrVoucherExpired)
		}
		b, err := q.LockBooking(ctx, bookingID)
		if err != nil {
			return lookupErr(op, "booking", err)
		}
		if b.IsPaid() {
			return newError(op, ErrStateConflict, "booking is already paid")
		}
		if b.Status != model.BookingPending {
			return newError(op, ErrStateConflict, "booking is already "+string(b.Status))
		}
		r, err = redeem(v, b)
		if err != nil {
			return wrapError(op, ErrVoucherInvalid, "voucher does not apply to this booking", err)
		}

		if err := q.UpdateVoucher(ctx, v.ID, r.balance, r.enabled); err != nil {
			return wrapError(op, nil, "update voucher", err)
		}
		if err := q.UpdateBookingTotal(ctx, b.ID, r.total); err != nil {
			return wrapError(op, nil, "update booking total", err)
		}
		v.CurrentBalanceCents, v.IsEnabled = r.balance, r.enabled
		b.TotalPriceCents = r.total

		if r.settled {
			paid, err := q.MarkBookingPaid(ctx, b.ID)
			if err != nil {
				return wrapError(op, nil, "mark paid", err)
			}
			if !paid {
				return newError(op, ErrStateConflict, "booking is already paid")
			}
			b.PaymentStatus = model.PaymentSucceeded
			if exp, err = q.GetExperience(ctx, b.ExperienceID); err != nil {
				return lookupErr(op, "experience", err)
			}
			if st, err = s.settleTx(ctx, q, &b, exp, false); err != nil {
				return err
			}
		}
		res.Booking, res.Voucher, res.ConsumedCents = b, v, r.consumed
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVoucherInvalid) {
			s.log.WithFields(logrus.Fields{"booking_id": bookingID, "reason": Reason(err)}).Info("voucher rejected")
		}
		return VoucherResult{}, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"voucher_id": res.Voucher.ID,
		"consumed":   res.ConsumedCents,
		"remaining":  res.Booking.TotalPriceCents,
	}).Info("voucher applied")

	b := res.Booking
	switch {
	case r.settled:
		after := s.afterSettle(ctx, b, exp, st)
		res.Booking = after.Booking
		res.Outcomes = after.Outcomes
	case b.TotalPriceCents > 0 && b.PaymentIntentID != "":
		res.Outcomes = append(res.Outcomes, s.updateIntentAmount(ctx, b.ID, b.PaymentIntentID, b.TotalPriceCents))
	}
	return res, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
)

// EventPaymentSucceeded is the only gateway event type acted upon.
const EventPaymentSucceeded = "payment_intent.succeeded"

// Metadata keys carried on payment intents.
const (
	MetaBookingID      = "bookingId"
	MetaVoucherType    = "voucherType"
	MetaExperienceID   = "experienceId"
	MetaSenderName     = "senderName"
	MetaSenderEmail    = "senderEmail"
	MetaRecipientName  = "recipientName"
	MetaRecipientEmail = "recipientEmail"
	MetaMessage        = "message"
)

// WebhookStatus says what happened to a verified event.
type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookIgnored   WebhookStatus = "ignored"
)

// WebhookResult is returned for every event that passed signature
// verification.
type WebhookResult struct {
	EventID   string
	Status    WebhookStatus
	BookingID uint64
	VoucherID uint64
	Outcomes  []Outcome
}

// settlement is what the settle step decided inside the transaction; the
// matching side effects run after commit.
type settlement struct {
	confirmed   bool // auto-confirmed
	awaitVendor bool // manual mode, the vendor decides
	soldOut     bool // declined because the slot filled up
	refundOnly  bool // money arrived for an already resolved booking
}

// HandleWebhook verifies and applies one gateway event.  Every state
// change for the event happens in a single transaction that also records
// the event id, so a redelivered event is a no-op and a crash cannot
// leave a booking paid without its inventory.  Refunds and notifications
// run after commit.
//
// A bad signature returns ErrSignatureVerification.  An event that
// points at data we do not have returns ErrDataIntegrity; it should be
// acknowledged anyway since redelivery cannot fix it.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookResult, error) {
	const op = "HandleWebhook"
	ctx, span := tracer.Start(ctx, "payment.reconcile")
	var err error
	defer func() { spanEnd(span, err) }()

	secret, err := s.secrets.Get(SecretWebhookSigning)
	if err != nil {
		err = fmt.Errorf("%s: webhook secret: %w", op, err)
		return WebhookResult{}, err
	}
	ev, verr := s.verifier.VerifyEvent(payload, signatureHeader, secret)
	if verr != nil {
		obs.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		err = wrapError(op, ErrSignatureVerification, "invalid webhook signature", verr)
		return WebhookResult{}, err
	}
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))
	log := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type, "intent_id": ev.IntentID})

	if ev.Type != EventPaymentSucceeded {
		obs.WebhookEvents.WithLabelValues(ev.Type, string(WebhookIgnored)).Inc()
		log.Debug("webhook event ignored")
		return WebhookResult{EventID: ev.ID, Status: WebhookIgnored}, nil
	}

	var res WebhookResult
	switch {
	case ev.Metadata[MetaVoucherType] != "":
		res, err = s.reconcileVoucherPurchase(ctx, ev)
	case ev.Metadata[MetaBookingID] != "":
		res, err = s.reconcileBookingPayment(ctx, ev)
	default:
		err = newError(op, ErrDataIntegrity, "event carries neither bookingId nor voucherType")
	}
	if errors.Is(err, ErrDataIntegrity) {
		obs.WebhookEvents.WithLabelValues(ev.Type, "data_integrity").Inc()
		obs.LedgerAnomalies.WithLabelValues("webhook_data_integrity").Inc()
		log.WithError(err).Error("webhook references unknown or inconsistent data")
		return WebhookResult{EventID: ev.ID}, err
	}
	if err != nil {
		obs.WebhookEvents.WithLabelValues(ev.Type, "error").Inc()
		log.WithError(err).Error("webhook processing failed")
		return WebhookResult{EventID: ev.ID}, err
	}
	obs.WebhookEvents.WithLabelValues(ev.Type, string(res.Status)).Inc()
	log.WithFields(logrus.Fields{"status": res.Status, "booking_id": res.BookingID, "voucher_id": res.VoucherID}).Info("webhook event handled")
	return res, nil
}

func (s *Service) reconcileBookingPayment(ctx context.Context, ev PaymentEvent) (WebhookResult, error) {
	const op = "HandleWebhook.booking"
	res := WebhookResult{EventID: ev.ID, Status: WebhookProcessed}
	id, perr := strconv.ParseUint(strings.TrimSpace(ev.Metadata[MetaBookingID]), 10, 64)
	if perr != nil || id == 0 {
		return res, wrapError(op, ErrDataIntegrity, "malformed bookingId "+strconv.Quote(ev.Metadata[MetaBookingID]), perr)
	}
	res.BookingID = id

	var (
		b            model.Booking
		exp          model.Experience
		st           settlement
		paidNow      bool
		doubleCharge bool
	)
	err := s.store.InTx(ctx, func(q Queries) error {
		fresh, err := q.RecordWebhookEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return wrapError(op, nil, "record event", err)
		}
		if !fresh {
			res.Status = WebhookDuplicate
			return nil
		}
		if b, err = q.LockBooking(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return wrapError(op, ErrDataIntegrity, fmt.Sprintf("booking %d does not exist", id), err)
			}
			return err
		}
		if exp, err = q.GetExperience(ctx, b.ExperienceID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return wrapError(op, ErrDataIntegrity, fmt.Sprintf("experience %d does not exist", b.ExperienceID), err)
			}
			return err
		}
		if b.PaymentIntentID != "" && ev.IntentID != "" && b.PaymentIntentID != ev.IntentID {
			return newError(op, ErrDataIntegrity, fmt.Sprintf("booking %d is tied to intent %s, event paid %s", id, b.PaymentIntentID, ev.IntentID))
		}
		if b.PaymentIntentID == "" && ev.IntentID != "" {
			if _, err := q.SetPaymentIntent(ctx, b.ID, ev.IntentID); err != nil {
				return wrapError(op, nil, "store intent", err)
			}
			b.PaymentIntentID = ev.IntentID
		}
		if ev.AmountCents != b.TotalPriceCents {
			obs.LedgerAnomalies.WithLabelValues("amount_mismatch").Inc()
			s.log.WithFields(logrus.Fields{"booking_id": id, "paid": ev.AmountCents, "owed": b.TotalPriceCents}).
				Warn("paid amount differs from booking total")
		}

		if paidNow, err = q.MarkBookingPaid(ctx, b.ID); err != nil {
			return wrapError(op, nil, "mark paid", err)
		}
		if !paidNow {
			// A booking settled by a voucher has nothing left to charge,
			// so money arriving for it is a second payment.  Otherwise
			// this is the same payment reported under another event id.
			doubleCharge = b.TotalPriceCents == 0 && ev.IntentID != ""
			res.Status = WebhookDuplicate
			return nil
		}
		b.PaymentStatus = model.PaymentSucceeded
		if ev.AmountCents > b.TotalPriceCents {
			// Typically an intent whose amount could not be lowered after
			// a voucher.  Flag it so the difference is returned by hand.
			if err := q.SetRefundStatus(ctx, b.ID, model.RefundOverpaid); err != nil {
				return wrapError(op, nil, "flag overpayment", err)
			}
			b.RefundStatus = model.RefundOverpaid
		}
		st, err = s.settleTx(ctx, q, &b, exp, true)
		return err
	})
	if errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDataIntegrity) {
		return res, wrapError(op, ErrDataIntegrity, "booking references a missing record", err)
	}
	if err != nil {
		return res, err
	}
	if doubleCharge {
		obs.LedgerAnomalies.WithLabelValues("double_payment").Inc()
		s.log.WithFields(logrus.Fields{"booking_id": id, "intent_id": ev.IntentID}).Warn("payment for an already paid booking; refunding")
		res.Outcomes = append(res.Outcomes, s.refundExtraCharge(ctx, id, ev.IntentID))
		return res, nil
	}
	if res.Status == WebhookDuplicate {
		return res, nil
	}
	r := s.afterSettle(ctx, b, exp, st)
	res.Outcomes = r.Outcomes
	return res, nil
}

// settleTx runs after a booking became paid, inside the same
// transaction.  It consumes the booking's units and applies the
// experience's confirmation mode.  With declineOnSoldOut a full slot
// declines the booking instead of failing.
func (s *Service) settleTx(ctx context.Context, q Queries, b *model.Booking, exp model.Experience, declineOnSoldOut bool) (settlement, error) {
	if b.Status != model.BookingPending {
		return settlement{refundOnly: true}, nil
	}
	err := s.inventory.Hold(ctx, q, b)
	if isSoldOut(err) && declineOnSoldOut {
		if err := s.declineTx(ctx, q, b, model.DeclineSoldOut); err != nil {
			return settlement{}, err
		}
		return settlement{soldOut: true}, nil
	}
	if err != nil {
		return settlement{}, err
	}
	if exp.ConfirmationMode == model.ConfirmAuto {
		if err := s.confirmTx(ctx, q, b); err != nil {
			return settlement{}, err
		}
		return settlement{confirmed: true}, nil
	}
	return settlement{awaitVendor: true}, nil
}

// afterSettle sends the receipt and whatever the settlement decided.
func (s *Service) afterSettle(ctx context.Context, b model.Booking, exp model.Experience, st settlement) Resolution {
	res := Resolution{Booking: b}
	res.Outcomes = append(res.Outcomes, s.notify(ctx, b.ID, bookingMessage(notify.KindPaymentReceipt, b, exp)))
	switch {
	case st.soldOut:
		d := s.afterDecline(ctx, b, exp)
		res.Booking = d.Booking
		res.Outcomes = append(res.Outcomes, d.Outcomes...)
	case st.refundOnly:
		s.log.WithFields(logrus.Fields{"booking_id": b.ID, "status": b.Status}).Warn("payment for a resolved booking; refunding")
		if refundable(b) {
			o := s.refund(ctx, b.ID, b.PaymentIntentID)
			res.Outcomes = append(res.Outcomes, o)
		}
	case st.confirmed:
		res.Outcomes = append(res.Outcomes, s.notify(ctx, b.ID, bookingMessage(notify.KindBookingConfirmed, b, exp)))
	case st.awaitVendor:
		res.Outcomes = append(res.Outcomes, s.notifyVendor(ctx, b, exp))
	}
	return res
}

// notifyVendor tells the experience's vendor about a paid request on
// the channels they chose.
func (s *Service) notifyVendor(ctx context.Context, b model.Booking, exp model.Experience) Outcome {
	vendor, err := s.store.GetUser(ctx, exp.VendorID)
	if err != nil {
		return s.record(Outcome{
			Op:        "notify." + string(notify.KindVendorNewRequest),
			Kind:      OutcomeNotifyError,
			BookingID: b.ID,
			Err:       fmt.Errorf("load vendor %d: %w", exp.VendorID, err),
		})
	}
	msg := bookingMessage(notify.KindVendorNewRequest, b, exp)
	msg.To = notify.Recipient{Name: vendor.Name, Email: vendor.Email, Phone: vendor.Phone}
	msg.ViaEmail = vendor.NotifyChannel.WantsEmail() && vendor.Email != ""
	msg.ViaSMS = vendor.NotifyChannel.WantsSMS() && vendor.Phone != ""
	msg.Note = b.CustomerName
	return s.notify(ctx, b.ID, msg)
}

func (s *Service) reconcileVoucherPurchase(ctx context.Context, ev PaymentEvent) (WebhookResult, error) {
	const op = "HandleWebhook.voucher"
	res := WebhookResult{EventID: ev.ID, Status: WebhookProcessed}
	md := ev.Metadata
	v := model.Voucher{
		Code:           NewVoucherCode(),
		Type:           model.VoucherType(md[MetaVoucherType]),
		Currency:       strings.ToLower(ev.Currency),
		IsEnabled:      true,
		SourceIntentID: ev.IntentID,
		SenderName:     md[MetaSenderName],
		SenderEmail:    md[MetaSenderEmail],
		RecipientName:  md[MetaRecipientName],
		RecipientEmail: md[MetaRecipientEmail],
		Message:        md[MetaMessage],
	}
	if !v.Type.Valid() {
		return res, newError(op, ErrDataIntegrity, "unknown voucherType "+strconv.Quote(md[MetaVoucherType]))
	}
	expiry := s.clock().UTC().Add(s.voucherValidity)
	v.ExpiryDate = &expiry

	var exp model.Experience
	err := s.store.InTx(ctx, func(q Queries) error {
		fresh, err := q.RecordWebhookEvent(ctx, ev.ID, ev.Type)
		if err != nil {
			return wrapError(op, nil, "record event", err)
		}
		if !fresh {
			res.Status = WebhookDuplicate
			return nil
		}
		switch v.Type {
		case model.VoucherFixedAmount:
			if ev.AmountCents <= 0 {
				return newError(op, ErrDataIntegrity, "voucher purchase without an amount")
			}
			v.CurrentBalanceCents = ev.AmountCents
		case model.VoucherExperience:
			expID, perr := strconv.ParseUint(md[MetaExperienceID], 10, 64)
			if perr != nil || expID == 0 {
				return wrapError(op, ErrDataIntegrity, "experience voucher without a valid experienceId", perr)
			}
			if exp, err = q.GetExperience(ctx, expID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return wrapError(op, ErrDataIntegrity, fmt.Sprintf("experience %d does not exist", expID), err)
				}
				return err
			}
			v.ExperienceID = &expID
		}
		err = q.CreateVoucher(ctx, &v)
		if errors.Is(err, ErrDuplicate) {
			// this intent already minted its voucher under another event id
			res.Status = WebhookDuplicate
			return nil
		}
		return err
	})
	if err != nil || res.Status == WebhookDuplicate {
		return res, err
	}
	res.VoucherID = v.ID

	to := notify.Recipient{Name: v.RecipientName, Email: v.RecipientEmail}
	if to.Email == "" {
		to = notify.Recipient{Name: v.SenderName, Email: v.SenderEmail}
	}
	msg := notify.Message{
		Kind:            notify.KindVoucherDelivery,
		To:              to,
		ViaEmail:        true,
		VoucherCode:     v.Code,
		AmountCents:     v.CurrentBalanceCents,
		Currency:        v.Currency,
		ExperienceTitle: exp.Title,
		SenderName:      v.SenderName,
		Note:            v.Message,
	}
	res.Outcomes = append(res.Outcomes, s.notify(ctx, 0, msg))
	return res, nil
}

// NewVoucherCode returns a random 12 character upper case code.
func NewVoucherCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

package service

import (
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/obs"
)

// OutcomeKind classifies the result of a side effect that must not undo
// the booking transition that triggered it.
type OutcomeKind string

const (
	OutcomeOK           OutcomeKind = "ok"
	OutcomeGatewayError OutcomeKind = "gateway_error"
	OutcomeNotifyError  OutcomeKind = "notify_error"
)

// Outcome is the explicit result of a refund, intent update or
// notification.  Failures are logged and counted, never returned as the
// operation's error.
type Outcome struct {
	Op        string      // e.g. "refund", "notify.booking.declined"
	Kind      OutcomeKind // OutcomeOK on success
	BookingID uint64      // zero for voucher-only effects
	Err       error
}

// OK reports whether the side effect succeeded.
func (o Outcome) OK() bool { return o.Kind == OutcomeOK }

// record logs and counts o, then hands it back.
func (s *Service) record(o Outcome) Outcome {
	obs.SideEffects.WithLabelValues(o.Op, string(o.Kind)).Inc()
	if o.OK() {
		s.log.WithFields(logrus.Fields{"op": o.Op, "booking_id": o.BookingID}).Debug("side effect ok")
		return o
	}
	s.log.WithFields(logrus.Fields{
		"op":         o.Op,
		"result":     o.Kind,
		"booking_id": o.BookingID,
	}).WithError(o.Err).Error("side effect failed; needs manual follow-up")
	return o
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
)

// SweepAction is what the sweep did with one candidate.
type SweepAction string

const (
	SweepConfirmed SweepAction = "confirmed"
	SweepDeclined  SweepAction = "declined"
	SweepEscalated SweepAction = "escalated"
	SweepSkipped   SweepAction = "skipped" // resolved by someone else meanwhile
	SweepFailed    SweepAction = "failed"
)

// SweepReport summarises one run of the timeout sweep.
type SweepReport struct {
	StartedAt      time.Time
	BusinessHours  bool
	Threshold      time.Duration
	AlreadyRunning bool // another sweep was in flight; nothing was done
	Candidates     int
	Actions        map[SweepAction]int
	Failures       map[uint64]string
}

func (r *SweepReport) add(id uint64, a SweepAction, err error) {
	r.Actions[a]++
	obs.SweepBookings.WithLabelValues(string(a)).Inc()
	if err != nil {
		r.Failures[id] = err.Error()
	}
}

// RunTimeoutSweep resolves paid pending bookings that their vendor has
// not acted on in time, following each experience's timeout behaviour.
// It is safe to call repeatedly; a call made while a sweep is running
// returns immediately with AlreadyRunning set.  One failing booking
// never stops the rest.
func (s *Service) RunTimeoutSweep(ctx context.Context) (SweepReport, error) {
	now := s.now()
	rep := SweepReport{
		StartedAt:     now,
		BusinessHours: IsBusinessHours(now),
		Threshold:     TimeoutThreshold(now),
		Actions:       map[SweepAction]int{},
		Failures:      map[uint64]string{},
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		obs.SweepRuns.WithLabelValues("overlap").Inc()
		rep.AlreadyRunning = true
		return rep, nil
	}
	defer s.sweeping.Store(false)

	ctx, span := tracer.Start(ctx, "sweep.timeout")
	var err error
	defer func() { spanEnd(span, err) }()

	cutoff := now.Add(-rep.Threshold)
	candidates, err := s.store.ListTimeoutCandidates(ctx, cutoff, s.sweepBatch)
	if err != nil {
		obs.SweepRuns.WithLabelValues("error").Inc()
		err = fmt.Errorf("list timeout candidates: %w", err)
		return rep, err
	}
	rep.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("sweep.candidates", len(candidates)))

	for _, b := range candidates {
		if ctx.Err() != nil {
			break
		}
		// the store filters by created_at already; this keeps the rule
		// strict even if its clock disagrees with ours
		if now.Sub(b.CreatedAt) <= rep.Threshold {
			continue
		}
		a, perr := s.sweepOne(ctx, b)
		rep.add(b.ID, a, perr)
	}

	obs.SweepRuns.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{
		"candidates":     rep.Candidates,
		"business_hours": rep.BusinessHours,
		"threshold":      rep.Threshold.String(),
		"confirmed":      rep.Actions[SweepConfirmed],
		"declined":       rep.Actions[SweepDeclined],
		"escalated":      rep.Actions[SweepEscalated],
		"skipped":        rep.Actions[SweepSkipped],
		"failed":         rep.Actions[SweepFailed],
	}).Info("timeout sweep finished")
	return rep, ctx.Err()
}

// sweepOne isolates one candidate: errors and panics are turned into a
// failed action.
func (s *Service) sweepOne(ctx context.Context, b model.Booking) (a SweepAction, err error) {
	log := s.log.WithField("booking_id", b.ID)
	defer func() {
		if p := recover(); p != nil {
			a, err = SweepFailed, fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			log.WithError(err).Error("timeout sweep could not resolve booking")
		}
	}()

	exp, err := s.store.GetExperience(ctx, b.ExperienceID)
	if err != nil {
		return SweepFailed, err
	}
	switch exp.TimeoutBehavior {
	case model.TimeoutAutoConfirm:
		a, err = s.timeoutAutoConfirm(ctx, b.ID, exp)
	case model.TimeoutEscalate:
		a, err = s.timeoutEscalate(ctx, b, exp)
	default:
		// auto-decline, and the fallback for unknown policies
		_, err = s.DeclineBooking(ctx, SystemActor, b.ID, model.DeclineTimeout)
		a = SweepDeclined
	}
	if errors.Is(err, ErrStateConflict) {
		return SweepSkipped, nil
	}
	if err != nil {
		return SweepFailed, err
	}
	return a, nil
}

// timeoutAutoConfirm confirms the booking when its slot still shows room
// and otherwise declines it, so it never stays pending.
func (s *Service) timeoutAutoConfirm(ctx context.Context, id uint64, exp model.Experience) (SweepAction, error) {
	const op = "Sweep.autoConfirm"
	var (
		b      model.Booking
		action SweepAction
	)
	err := s.store.InTx(ctx, func(q Queries) error {
		var err error
		if b, err = q.LockBooking(ctx, id); err != nil {
			return lookupErr(op, "booking", err)
		}
		if b.Status != model.BookingPending || !b.IsPaid() || b.IsEscalated {
			return newError(op, ErrStateConflict, "booking no longer awaits a decision")
		}
		slot, err := q.GetSlot(ctx, b.AvailabilityID)
		if err != nil {
			return lookupErr(op, "availability slot", err)
		}
		if slot.AvailableSlots > 0 {
			action = SweepConfirmed
			return s.confirmTx(ctx, q, &b)
		}
		action = SweepDeclined
		return s.declineTx(ctx, q, &b, model.DeclineTimeout)
	})
	if err != nil {
		return SweepFailed, err
	}
	if action == SweepConfirmed {
		s.notify(ctx, b.ID, bookingMessage(notify.KindBookingConfirmed, b, exp))
		return action, nil
	}
	s.afterDecline(ctx, b, exp)
	return action, nil
}

// timeoutEscalate flags the booking for an admin.  The booking stays
// pending but is no longer a sweep candidate.
func (s *Service) timeoutEscalate(ctx context.Context, b model.Booking, exp model.Experience) (SweepAction, error) {
	ok, err := s.store.MarkBookingEscalated(ctx, b.ID)
	if err != nil {
		return SweepFailed, err
	}
	if !ok {
		return SweepSkipped, nil
	}
	msg := bookingMessage(notify.KindBookingEscalated, b, exp)
	msg.To = s.admin
	msg.ViaEmail = s.admin.Email != ""
	msg.ViaSMS = s.admin.Phone != ""
	msg.Note = fmt.Sprintf("booking %d for %q has waited since %s", b.ID, exp.Title, b.CreatedAt.UTC().Format(time.RFC3339))
	s.notify(ctx, b.ID, msg)
	return SweepEscalated, nil
}

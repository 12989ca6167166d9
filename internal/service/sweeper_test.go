package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
)

func TestRunTimeoutSweep_SelectsStrictlyOlderThanThreshold(t *testing.T) {
	f := newFixture(t)
	old := f.paidHeldBooking(1, manualExp, slotManual, 1, f.now.Add(-(2*time.Hour + time.Minute)))
	young := f.paidHeldBooking(2, manualExp, slotManual, 1, f.now.Add(-(time.Hour + 59*time.Minute)))
	f.gateway.On("Refund", "pi_1").Return(nil).Once()

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.BusinessHours)
	assert.Equal(t, 2*time.Hour, rep.Threshold)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Actions[SweepDeclined])

	got := f.store.booking(old.ID)
	assert.Equal(t, model.BookingDeclined, got.Status)
	assert.Equal(t, model.DeclineTimeout, got.DeclineReason)
	assert.Equal(t, model.RefundRefunded, got.RefundStatus)
	assert.Equal(t, model.BookingPending, f.store.booking(young.ID).Status)
	// one of the two held units came back
	assert.Equal(t, 3, f.store.slot(slotManual).AvailableSlots)
}

func TestRunTimeoutSweep_OffHoursThreshold(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2026, time.March, 3, 20, 0, 0, 0, time.UTC)
	f.paidHeldBooking(1, manualExp, slotManual, 1, f.now.Add(-3*time.Hour))

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.BusinessHours)
	assert.Equal(t, 12*time.Hour, rep.Threshold)
	assert.Zero(t, rep.Candidates)
}

func TestRunTimeoutSweep_AutoConfirm(t *testing.T) {
	f := newFixture(t)
	f.store.putExperience(model.Experience{ID: 3, VendorID: vendorID, Title: "Zipline", PriceCents: 5000, Currency: "usd",
		ConfirmationMode: model.ConfirmManual, TimeoutBehavior: model.TimeoutAutoConfirm})
	f.store.putSlot(model.AvailabilitySlot{ID: 23, ExperienceID: 3, TotalSlots: 3, AvailableSlots: 3})
	b := f.paidHeldBooking(1, 3, 23, 1, f.now.Add(-3*time.Hour))

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Actions[SweepConfirmed])
	assert.Equal(t, model.BookingConfirmed, f.store.booking(b.ID).Status)
	assert.Equal(t, 2, f.store.slot(23).AvailableSlots)
	_, ok := f.notifier.last(notify.KindBookingConfirmed)
	assert.True(t, ok)
}

func TestRunTimeoutSweep_AutoConfirmWithoutRoomDeclines(t *testing.T) {
	f := newFixture(t)
	f.store.putExperience(model.Experience{ID: 3, VendorID: vendorID, Title: "Zipline", PriceCents: 5000, Currency: "usd",
		ConfirmationMode: model.ConfirmManual, TimeoutBehavior: model.TimeoutAutoConfirm})
	f.store.putSlot(model.AvailabilitySlot{ID: 23, ExperienceID: 3, TotalSlots: 2, AvailableSlots: 2})
	b := f.paidHeldBooking(1, 3, 23, 2, f.now.Add(-3*time.Hour))
	require.Equal(t, 0, f.store.slot(23).AvailableSlots)
	f.gateway.On("Refund", "pi_1").Return(ErrGateway).Once()

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Actions[SweepDeclined])

	got := f.store.booking(b.ID)
	assert.Equal(t, model.BookingDeclined, got.Status)
	assert.Equal(t, model.RefundFailed, got.RefundStatus, "failed refund is surfaced")
	assert.Equal(t, 2, f.store.slot(23).AvailableSlots)

	failed, err := f.svc.ListRefundFailures(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)
}

func TestRunTimeoutSweep_Escalate(t *testing.T) {
	f := newFixture(t)
	f.store.putExperience(model.Experience{ID: 4, VendorID: vendorID, Title: "Glacier", PriceCents: 5000, Currency: "usd",
		ConfirmationMode: model.ConfirmManual, TimeoutBehavior: model.TimeoutEscalate})
	f.store.putSlot(model.AvailabilitySlot{ID: 24, ExperienceID: 4, TotalSlots: 5, AvailableSlots: 5})
	b := f.paidHeldBooking(1, 4, 24, 1, f.now.Add(-5*time.Hour))

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Actions[SweepEscalated])

	got := f.store.booking(b.ID)
	assert.True(t, got.IsEscalated)
	assert.Equal(t, model.BookingPending, got.Status)
	assert.Equal(t, 4, f.store.slot(24).AvailableSlots)
	msg, ok := f.notifier.last(notify.KindBookingEscalated)
	require.True(t, ok)
	assert.Equal(t, "ops@example.com", msg.To.Email)

	// escalated bookings are no longer candidates
	rep, err = f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Candidates)

	escalated, err := f.svc.ListEscalated(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, escalated, 1)
}

func TestRunTimeoutSweep_IdempotentOnResolvedBookings(t *testing.T) {
	f := newFixture(t)
	b := f.paidHeldBooking(1, manualExp, slotManual, 1, f.now.Add(-3*time.Hour))
	f.gateway.On("Refund", "pi_1").Return(nil).Once()

	_, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	after := f.store.booking(b.ID)
	slots := f.store.slot(slotManual).AvailableSlots

	for i := 0; i < 2; i++ {
		rep, err := f.svc.RunTimeoutSweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, rep.Candidates)
		assert.Equal(t, after, f.store.booking(b.ID))
		assert.Equal(t, slots, f.store.slot(slotManual).AvailableSlots)
	}

	// a stale candidate read before someone else resolved it is skipped
	a, err := f.svc.sweepOne(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, SweepSkipped, a)
	assert.Equal(t, slots, f.store.slot(slotManual).AvailableSlots)
}

func TestRunTimeoutSweep_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	orphan := f.paidHeldBooking(1, manualExp, slotManual, 1, f.now.Add(-4*time.Hour))
	orphan.ExperienceID = 77
	f.store.putBooking(orphan)
	good := f.paidHeldBooking(2, manualExp, slotManual, 1, f.now.Add(-3*time.Hour))
	f.gateway.On("Refund", "pi_2").Return(nil).Once()

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Candidates)
	assert.Equal(t, 1, rep.Actions[SweepFailed])
	assert.Equal(t, 1, rep.Actions[SweepDeclined])
	assert.Contains(t, rep.Failures, orphan.ID)
	assert.Equal(t, model.BookingDeclined, f.store.booking(good.ID).Status)
}

func TestRunTimeoutSweep_NoOverlap(t *testing.T) {
	f := newFixture(t)
	f.paidHeldBooking(1, manualExp, slotManual, 1, f.now.Add(-3*time.Hour))
	f.svc.sweeping.Store(true)

	rep, err := f.svc.RunTimeoutSweep(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.AlreadyRunning)
	assert.Equal(t, model.BookingPending, f.store.booking(1).Status)
}

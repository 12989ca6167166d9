package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingTransitions(t *testing.T) {
	for _, next := range []BookingStatus{BookingConfirmed, BookingDeclined, BookingCancelled} {
		assert.True(t, BookingPending.CanTransitionTo(next), next)
		assert.True(t, next.IsTerminal())
		for _, other := range []BookingStatus{BookingPending, BookingConfirmed, BookingDeclined, BookingCancelled} {
			assert.False(t, next.CanTransitionTo(other), "%s -> %s", next, other)
		}
	}
	assert.False(t, BookingPending.CanTransitionTo(BookingPending))
	assert.False(t, BookingPending.IsTerminal())
	assert.False(t, BookingStatus("paid").Valid())
}

func TestDeclineReasonValid(t *testing.T) {
	assert.True(t, DeclineSoldOut.Valid())
	assert.False(t, DeclineReason("customer").Valid())
}

func TestNotifyChannel(t *testing.T) {
	assert.True(t, ChannelEmail.WantsEmail())
	assert.False(t, ChannelEmail.WantsSMS())
	assert.True(t, ChannelBoth.WantsEmail())
	assert.True(t, ChannelBoth.WantsSMS())
	assert.True(t, NotifyChannel("").WantsEmail())
}

func TestVoucherExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, Voucher{}.Expired(now))

	at := now
	assert.True(t, Voucher{ExpiryDate: &at}.Expired(now))
	later := now.Add(time.Minute)
	assert.False(t, Voucher{ExpiryDate: &later}.Expired(now))
	assert.False(t, VoucherType("gift").Valid())
}

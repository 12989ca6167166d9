package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go"

	"github.com/iliyamo/experience-booking/internal/obs"
	"github.com/iliyamo/experience-booking/internal/service"
)

type MockIntents struct {
	mock.Mock
}

func (m *MockIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	args := m.Called(params)
	pi, _ := args.Get(0).(*stripe.PaymentIntent)
	return pi, args.Error(1)
}

func (m *MockIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	args := m.Called(id, params)
	pi, _ := args.Get(0).(*stripe.PaymentIntent)
	return pi, args.Error(1)
}

func (m *MockIntents) Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	args := m.Called(id, params)
	pi, _ := args.Get(0).(*stripe.PaymentIntent)
	return pi, args.Error(1)
}

type MockRefunds struct {
	mock.Mock
}

func (m *MockRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	args := m.Called(params)
	r, _ := args.Get(0).(*stripe.Refund)
	return r, args.Error(1)
}

func newTestStripe(t *testing.T, failures uint32) (*Stripe, *MockIntents, *MockRefunds) {
	t.Helper()
	pi, rf := &MockIntents{}, &MockRefunds{}
	s := newStripe(pi, rf, Config{Timeout: time.Second, Failures: failures, OpenFor: time.Minute}, obs.Discard())
	t.Cleanup(func() {
		pi.AssertExpectations(t)
		rf.AssertExpectations(t)
	})
	return s, pi, rf
}

func TestCreateIntent(t *testing.T) {
	s, pi, _ := newTestStripe(t, 3)
	pi.On("New", mock.MatchedBy(func(p *stripe.PaymentIntentParams) bool {
		_, hasDeadline := p.Context.Deadline()
		return *p.Amount == 5000 && *p.Currency == "usd" &&
			p.Metadata["bookingId"] == "7" &&
			*p.IdempotencyKey == "booking-7-5000" && hasDeadline
	})).Return(&stripe.PaymentIntent{ID: "pi_1", ClientSecret: "sec"}, nil).Once()

	intent, err := s.CreateIntent(context.Background(), 5000, "usd", map[string]string{"bookingId": "7"}, "booking-7-5000")
	require.NoError(t, err)
	assert.Equal(t, service.Intent{ID: "pi_1", ClientSecret: "sec"}, intent)
}

func TestRefundUsesIntentAndKey(t *testing.T) {
	s, _, rf := newTestStripe(t, 3)
	rf.On("New", mock.MatchedBy(func(p *stripe.RefundParams) bool {
		return *p.PaymentIntent == "pi_9" && *p.IdempotencyKey == "refund-pi_9-1"
	})).Return(&stripe.Refund{ID: "re_1"}, nil).Once()

	require.NoError(t, s.Refund(context.Background(), "pi_9", "refund-pi_9-1"))
}

func TestRefundRetrySendsNewKey(t *testing.T) {
	s, _, rf := newTestStripe(t, 3)
	var keys []string
	rf.On("New", mock.Anything).Run(func(args mock.Arguments) {
		keys = append(keys, *args.Get(0).(*stripe.RefundParams).IdempotencyKey)
	}).Return(nil, &stripe.Error{HTTPStatusCode: 500, Msg: "api error"}).Once()
	rf.On("New", mock.Anything).Run(func(args mock.Arguments) {
		keys = append(keys, *args.Get(0).(*stripe.RefundParams).IdempotencyKey)
	}).Return(&stripe.Refund{ID: "re_2"}, nil).Once()

	assert.ErrorIs(t, s.Refund(context.Background(), "pi_1", "refund-pi_1-1"), service.ErrGateway)
	require.NoError(t, s.Refund(context.Background(), "pi_1", "refund-pi_1-2"))
	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}

func TestRefundAlreadyRefundedSucceeds(t *testing.T) {
	s, _, rf := newTestStripe(t, 3)
	rf.On("New", mock.Anything).Return(nil, &stripe.Error{
		HTTPStatusCode: 400,
		Code:           stripe.ErrorCodeChargeAlreadyRefunded,
		Msg:            "Charge ch_1 has already been refunded.",
	}).Once()

	assert.NoError(t, s.Refund(context.Background(), "pi_1", "refund-pi_1-2"))
}

func TestGetIntentReportsAmount(t *testing.T) {
	s, pi, _ := newTestStripe(t, 3)
	pi.On("Get", "pi_1", mock.Anything).Return(&stripe.PaymentIntent{ID: "pi_1", ClientSecret: "sec", Amount: 5000}, nil).Once()

	intent, err := s.GetIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), intent.AmountCents)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	s, pi, _ := newTestStripe(t, 2)
	pi.On("Update", "pi_1", mock.Anything).Return(nil, &stripe.Error{HTTPStatusCode: 502, Msg: "bad gateway"}).Twice()

	for i := 0; i < 2; i++ {
		err := s.UpdateIntentAmount(context.Background(), "pi_1", 100)
		assert.ErrorIs(t, err, service.ErrGateway)
	}
	// open: the API is not called again
	err := s.UpdateIntentAmount(context.Background(), "pi_1", 100)
	assert.ErrorIs(t, err, service.ErrGateway)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	s, pi, _ := newTestStripe(t, 1)
	pi.On("Get", "pi_missing", mock.Anything).Return(nil, &stripe.Error{HTTPStatusCode: 404, Msg: "no such intent"}).Twice()

	for i := 0; i < 2; i++ {
		_, err := s.GetIntent(context.Background(), "pi_missing")
		assert.ErrorIs(t, err, service.ErrGateway)
		assert.NotContains(t, err.Error(), "unavailable")
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, isClientError(&stripe.Error{HTTPStatusCode: 402}))
	assert.False(t, isClientError(&stripe.Error{HTTPStatusCode: 429}))
	assert.False(t, isClientError(&stripe.Error{HTTPStatusCode: 500}))
	assert.False(t, isClientError(errors.New("dial tcp: timeout")))
}

func sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

const eventJSON = `{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "data": {"object": {
    "id": "pi_1",
    "object": "payment_intent",
    "amount": 5000,
    "amount_received": 5000,
    "currency": "usd",
    "metadata": {"bookingId": "7"}
  }}
}`

func TestWebhookVerifier(t *testing.T) {
	payload := []byte(eventJSON)
	secret := "whsec_test"

	ev, err := WebhookVerifier{}.VerifyEvent(payload, sign(payload, secret, time.Now()), secret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "payment_intent.succeeded", ev.Type)
	assert.Equal(t, "pi_1", ev.IntentID)
	assert.Equal(t, int64(5000), ev.AmountCents)
	assert.Equal(t, "usd", ev.Currency)
	assert.Equal(t, "7", ev.Metadata["bookingId"])
}

func TestWebhookVerifier_Rejects(t *testing.T) {
	payload := []byte(eventJSON)
	secret := "whsec_test"

	_, err := WebhookVerifier{}.VerifyEvent(payload, sign(payload, "whsec_other", time.Now()), secret)
	assert.ErrorIs(t, err, service.ErrSignatureVerification)

	_, err = WebhookVerifier{}.VerifyEvent(payload, sign(payload, secret, time.Now().Add(-time.Hour)), secret)
	assert.ErrorIs(t, err, service.ErrSignatureVerification, "stale timestamp")

	_, err = WebhookVerifier{}.VerifyEvent(payload, "", secret)
	assert.ErrorIs(t, err, service.ErrSignatureVerification)
}

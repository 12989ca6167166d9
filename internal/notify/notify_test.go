package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	failNext  error
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	c.keys = append(c.keys, exchange+":"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func newTestPublisher(chans ...*fakeChannel) (*Publisher, *int) {
	p, dials, _ := newTimedPublisher(chans...)
	return p, dials
}

// newTimedPublisher also records the timeout of every dial.
func newTimedPublisher(chans ...*fakeChannel) (*Publisher, *int, *[]time.Duration) {
	dials := 0
	var timeouts []time.Duration
	p := NewPublisher("amqp://test", quietLog())
	p.dial = func(_ string, timeout time.Duration) (*amqp.Connection, channel, error) {
		timeouts = append(timeouts, timeout)
		if dials >= len(chans) {
			return nil, nil, errors.New("broker down")
		}
		ch := chans[dials]
		dials++
		return nil, ch, nil
	}
	return p, &dials, &timeouts
}

func confirmedMessage() Message {
	return Message{
		To:              Recipient{Name: "Ana", Email: "ana@example.com"},
		ViaEmail:        true,
		BookingID:       7,
		ExperienceTitle: "Kayak tour",
		Quantity:        2,
	}
}

func TestPublisherPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, dials := newTestPublisher(ch)

	require.NoError(t, p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage()))
	require.NoError(t, p.Notify(context.Background(), KindPaymentReceipt, confirmedMessage()))

	assert.Equal(t, 1, *dials)
	assert.Equal(t, []string{"notifications/topic"}, ch.declared)
	assert.Equal(t, []string{"notifications:notify.booking.confirmed", "notifications:notify.payment.receipt"}, ch.keys)

	pub := ch.published[0]
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	var got Message
	require.NoError(t, json.Unmarshal(pub.Body, &got))
	assert.Equal(t, KindBookingConfirmed, got.Kind)
	assert.Equal(t, uint64(7), got.BookingID)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestPublisherRedialsAfterPublishFailure(t *testing.T) {
	first := &fakeChannel{failNext: errors.New("channel closed")}
	second := &fakeChannel{}
	p, dials := newTestPublisher(first, second)

	err := p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage())
	require.Error(t, err)
	assert.True(t, first.closed)

	require.NoError(t, p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage()))
	assert.Equal(t, 2, *dials)
	assert.Len(t, second.published, 1)
}

func TestPublisherReportsBrokerDown(t *testing.T) {
	p, _ := newTestPublisher()
	err := p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage())
	assert.ErrorContains(t, err, "broker down")
}

func TestPublisherDialBoundedByCallerDeadline(t *testing.T) {
	p, _, timeouts := newTimedPublisher(&fakeChannel{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, p.Notify(ctx, KindBookingConfirmed, confirmedMessage()))
	require.Len(t, *timeouts, 1)
	assert.LessOrEqual(t, (*timeouts)[0], 2*time.Second)
	assert.Greater(t, (*timeouts)[0], time.Duration(0))
}

func TestPublisherDialDefaultsWithoutDeadline(t *testing.T) {
	p, _, timeouts := newTimedPublisher(&fakeChannel{})

	require.NoError(t, p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage()))
	assert.Equal(t, []time.Duration{maxDialTimeout}, *timeouts)
}

func TestPublisherSkipsDialPastDeadline(t *testing.T) {
	p, dials := newTestPublisher(&fakeChannel{})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := p.Notify(ctx, KindBookingConfirmed, confirmedMessage())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, *dials)
}

func TestPublisherDoesNotHoldLockWhileDialing(t *testing.T) {
	p := NewPublisher("amqp://test", quietLog())
	entered := make(chan struct{})
	release := make(chan struct{})
	p.dial = func(string, time.Duration) (*amqp.Connection, channel, error) {
		close(entered)
		<-release
		return nil, nil, errors.New("broker down")
	}
	done := make(chan error, 1)
	go func() { done <- p.Notify(context.Background(), KindBookingConfirmed, confirmedMessage()) }()
	<-entered

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind an in-flight dial")
	}
	close(release)
	assert.ErrorContains(t, <-done, "broker down")
}

func TestPublisherRejectsUndeliverableMessage(t *testing.T) {
	ch := &fakeChannel{}
	p, dials := newTestPublisher(ch)
	m := confirmedMessage()
	m.To.Email = ""

	err := p.Notify(context.Background(), KindBookingConfirmed, m)
	assert.ErrorIs(t, err, ErrNoChannel)
	assert.Zero(t, *dials)
}

func TestRenderDeclinedMentionsRefund(t *testing.T) {
	m := confirmedMessage()
	m.Kind = KindBookingDeclined
	m.Reason = "sold_out"
	m.Refunded = true
	m.AmountCents = 5050
	m.Currency = "eur"

	subject, body := Render(m)
	assert.Equal(t, "Booking #7 declined", subject)
	assert.Contains(t, body, "(sold out)")
	assert.Contains(t, body, "A refund of 50.50 EUR has been issued.")
}

func TestRenderVoucherDelivery(t *testing.T) {
	_, body := Render(Message{
		Kind:        KindVoucherDelivery,
		To:          Recipient{Name: "Bo"},
		SenderName:  "Ana",
		AmountCents: 2000,
		Currency:    "usd",
		VoucherCode: "ABCDEF123456",
		Note:        "enjoy",
	})
	assert.Equal(t, `Hi Bo, Ana sent you a voucher worth 20.00 USD. Code: ABCDEF123456. Message: "enjoy"`, body)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.05 EUR", FormatAmount(5, "eur"))
	assert.Equal(t, "-1.20 USD", FormatAmount(-120, "USD"))
}

type fakeEmail struct {
	to      []Recipient
	subject string
	err     error
}

func (f *fakeEmail) SendEmail(ctx context.Context, to Recipient, subject, text string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.subject = subject
	return nil
}

type fakeSMS struct {
	phones []string
	texts  []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, phone, text string) error {
	f.phones = append(f.phones, phone)
	f.texts = append(f.texts, text)
	return nil
}

func encode(t *testing.T, m Message) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestWorkerDeliversOnRequestedChannels(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	w := &Worker{Email: email, SMS: sms, Log: quietLog()}

	m := Message{
		Kind:            KindVendorNewRequest,
		To:              Recipient{Name: "Vendor", Email: "v@example.com", Phone: "+15550100"},
		ViaEmail:        true,
		ViaSMS:          true,
		BookingID:       9,
		ExperienceTitle: "Cooking class",
		Quantity:        3,
		Note:            "Ana",
		OccurredAt:      time.Now(),
	}
	require.NoError(t, w.Handle(context.Background(), encode(t, m)))
	assert.Equal(t, "New booking request #9", email.subject)
	assert.Equal(t, []string{"+15550100"}, sms.phones)
	assert.Contains(t, sms.texts[0], "Ana requested 3 places on Cooking class")

	m.ViaSMS = false
	require.NoError(t, w.Handle(context.Background(), encode(t, m)))
	assert.Len(t, email.to, 2)
	assert.Len(t, sms.phones, 1)
}

func TestWorkerReportsFailures(t *testing.T) {
	w := &Worker{Email: &fakeEmail{err: errors.New("quota exceeded")}, Log: quietLog()}
	err := w.Handle(context.Background(), encode(t, Message{
		Kind: KindPaymentReceipt, To: Recipient{Email: "a@example.com"}, ViaEmail: true,
	}))
	assert.ErrorContains(t, err, "email: quota exceeded")

	err = w.Handle(context.Background(), encode(t, Message{
		Kind: KindPaymentReceipt, To: Recipient{Phone: "+1555"}, ViaSMS: true,
	}))
	assert.ErrorContains(t, err, "sms delivery is not configured")

	assert.Error(t, w.Handle(context.Background(), []byte("{")))
}

func TestHTTPSMS(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.To == "+bad" {
			http.Error(w, "invalid number", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewHTTPSMS(srv.URL, "tok", "Bookings")
	require.NoError(t, s.SendSMS(context.Background(), "+15550100", "hello"))
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, smsRequest{To: "+15550100", From: "Bookings", Text: "hello"}, got)

	err := s.SendSMS(context.Background(), "+bad", "hello")
	assert.ErrorContains(t, err, "gateway returned 422: invalid number")
}

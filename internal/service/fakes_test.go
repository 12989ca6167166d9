package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
)

// MockGateway mocks the payment gateway.
type MockGateway struct {
	mock.Mock

	mu   sync.Mutex
	keys []string
}

func (m *MockGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string, key string) (Intent, error) {
	args := m.Called(amountCents, currency, metadata, key)
	return args.Get(0).(Intent), args.Error(1)
}

func (m *MockGateway) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	args := m.Called(intentID)
	return args.Get(0).(Intent), args.Error(1)
}

func (m *MockGateway) UpdateIntentAmount(ctx context.Context, intentID string, amountCents int64) error {
	return m.Called(intentID, amountCents).Error(0)
}

func (m *MockGateway) Refund(ctx context.Context, intentID, idempotencyKey string) error {
	m.mu.Lock()
	m.keys = append(m.keys, idempotencyKey)
	m.mu.Unlock()
	return m.Called(intentID).Error(0)
}

// refundKeys returns the idempotency keys of every refund call so far.
func (m *MockGateway) refundKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// recordingNotifier keeps every message it is handed.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, kind notify.Kind, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

func (n *recordingNotifier) last(kind notify.Kind) (notify.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return notify.Message{}, false
}

// jsonVerifier accepts a payload when the header equals the secret and
// decodes it as a PaymentEvent.
type jsonVerifier struct{}

func (jsonVerifier) VerifyEvent(payload []byte, header, secret string) (PaymentEvent, error) {
	if header != secret {
		return PaymentEvent{}, ErrSignatureVerification
	}
	var ev PaymentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return PaymentEvent{}, err
	}
	return ev, nil
}

type staticSecrets map[string]string

func (s staticSecrets) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errors.New("secret " + name + " not set")
	}
	return v, nil
}

func (staticSecrets) Reload(context.Context) error { return nil }

const testSecret = "whsec_test"

// tuesday10 is a business-hours instant.
var tuesday10 = time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memStore
	gateway  *MockGateway
	notifier *recordingNotifier
	now      time.Time
}

const (
	vendorID   = uint64(11)
	autoExpID  = uint64(1)
	manualExp  = uint64(2)
	slotAuto   = uint64(21)
	slotManual = uint64(22)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{gateway: &MockGateway{}, notifier: &recordingNotifier{}, now: tuesday10}
	f.store = newMemStore(func() time.Time { return f.now })
	f.svc = New(Deps{
		Store:    f.store,
		Gateway:  f.gateway,
		Verifier: jsonVerifier{},
		Notifier: f.notifier,
		Secrets:  staticSecrets{SecretWebhookSigning: testSecret},
		Log:      obs.Discard(),
		Clock:    func() time.Time { return f.now },
		Location: time.UTC,
		Admin:    notify.Recipient{Name: "Ops", Email: "ops@example.com"},
	})
	f.store.putUser(model.User{ID: vendorID, Email: "vendor@example.com", Phone: "+15550001", Role: model.RoleVendor, NotifyChannel: model.ChannelBoth, Name: "Kayak Co"})
	f.store.putExperience(model.Experience{ID: autoExpID, VendorID: vendorID, Title: "Sunset kayak", PriceCents: 2500, Currency: "usd",
		ConfirmationMode: model.ConfirmAuto, TimeoutBehavior: model.TimeoutAutoDecline})
	f.store.putExperience(model.Experience{ID: manualExp, VendorID: vendorID, Title: "Cave dive", PriceCents: 5000, Currency: "usd",
		ConfirmationMode: model.ConfirmManual, TimeoutBehavior: model.TimeoutAutoDecline})
	f.store.putSlot(model.AvailabilitySlot{ID: slotAuto, ExperienceID: autoExpID, TotalSlots: 10, AvailableSlots: 10})
	f.store.putSlot(model.AvailabilitySlot{ID: slotManual, ExperienceID: manualExp, TotalSlots: 4, AvailableSlots: 4})
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

// pendingBooking seeds an unpaid pending booking.
func (f *fixture) pendingBooking(id, expID, slotID uint64, qty int, total int64) model.Booking {
	b := model.Booking{
		ID: id, ExperienceID: expID, AvailabilityID: slotID, Quantity: qty,
		TotalPriceCents: total, Currency: "usd", PaymentIntentID: "pi_" + strconv.FormatUint(id, 10),
		CustomerName: "Ana", CustomerEmail: "ana@example.com", CreatedAt: f.now, UpdatedAt: f.now,
	}
	f.store.putBooking(b)
	return f.store.booking(id)
}

// paidHeldBooking seeds a paid pending booking that already holds its
// units, as the reconciler leaves a manual-mode booking.
func (f *fixture) paidHeldBooking(id, expID, slotID uint64, qty int, createdAt time.Time) model.Booking {
	sl := f.store.slot(slotID)
	sl.AvailableSlots -= qty
	f.store.putSlot(sl)
	b := model.Booking{
		ID: id, ExperienceID: expID, AvailabilityID: slotID, Quantity: qty,
		TotalPriceCents: 5000 * int64(qty), Currency: "usd", PaymentIntentID: "pi_" + strconv.FormatUint(id, 10),
		PaymentStatus: model.PaymentSucceeded, InventoryHeld: true,
		CustomerName: "Ana", CustomerEmail: "ana@example.com", CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	f.store.putBooking(b)
	return f.store.booking(id)
}

func (f *fixture) webhook(t *testing.T, ev PaymentEvent) (WebhookResult, error) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return f.svc.HandleWebhook(context.Background(), payload, testSecret)
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/experience-booking/internal/model"
)

// memState is the in-memory database behind memStore.
type memState struct {
	nextID      uint64
	bookings    map[uint64]model.Booking
	slots       map[uint64]model.AvailabilitySlot
	experiences map[uint64]model.Experience
	users       map[uint64]model.User
	vouchers    map[uint64]model.Voucher
	events      map[string]string
}

func (st *memState) clone() *memState {
	c := &memState{
		nextID:      st.nextID,
		bookings:    make(map[uint64]model.Booking, len(st.bookings)),
		slots:       make(map[uint64]model.AvailabilitySlot, len(st.slots)),
		experiences: make(map[uint64]model.Experience, len(st.experiences)),
		users:       make(map[uint64]model.User, len(st.users)),
		vouchers:    make(map[uint64]model.Voucher, len(st.vouchers)),
		events:      make(map[string]string, len(st.events)),
	}
	for k, v := range st.bookings {
		c.bookings[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.experiences {
		c.experiences[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	return c
}

// memStore is a Store whose transactions are serialised by one mutex
// and rolled back by restoring a snapshot.
type memStore struct {
	*memQueries
	mu  sync.Mutex
	st  *memState
	now func() time.Time

	// failOn makes the named query return an error, to exercise rollback.
	failOn string
}

func newMemStore(now func() time.Time) *memStore {
	s := &memStore{
		st: &memState{
			nextID:      100,
			bookings:    map[uint64]model.Booking{},
			slots:       map[uint64]model.AvailabilitySlot{},
			experiences: map[uint64]model.Experience{},
			users:       map[uint64]model.User{},
			vouchers:    map[uint64]model.Voucher{},
			events:      map[string]string{},
		},
		now: now,
	}
	s.memQueries = &memQueries{store: s, locked: false}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	if err := fn(&memQueries{store: s, locked: true}); err != nil {
		s.st = snap
		return err
	}
	return nil
}

// seed helpers, used outside transactions.

func (s *memStore) putExperience(e model.Experience) { s.mu.Lock(); s.st.experiences[e.ID] = e; s.mu.Unlock() }
func (s *memStore) putSlot(sl model.AvailabilitySlot) { s.mu.Lock(); s.st.slots[sl.ID] = sl; s.mu.Unlock() }
func (s *memStore) putUser(u model.User) { s.mu.Lock(); s.st.users[u.ID] = u; s.mu.Unlock() }
func (s *memStore) putVoucher(v model.Voucher) { s.mu.Lock(); s.st.vouchers[v.ID] = v; s.mu.Unlock() }
func (s *memStore) putBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = model.PaymentPending
	}
	if b.RefundStatus == "" {
		b.RefundStatus = model.RefundNone
	}
	s.st.bookings[b.ID] = b
}

func (s *memStore) booking(id uint64) model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.bookings[id]
}

func (s *memStore) slot(id uint64) model.AvailabilitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.slots[id]
}

func (s *memStore) voucher(id uint64) model.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.vouchers[id]
}

func (s *memStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.bookings)
}

func (s *memStore) voucherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.vouchers)
}

// memQueries implements Queries.  Outside a transaction each call takes
// the store mutex; inside one the caller already holds it.
type memQueries struct {
	store  *memStore
	locked bool
}

func (q *memQueries) begin(name string) (*memState, func(), error) {
	if !q.locked {
		q.store.mu.Lock()
	}
	done := func() {
		if !q.locked {
			q.store.mu.Unlock()
		}
	}
	if q.store.failOn == name {
		done()
		return nil, func() {}, fmt.Errorf("%s: injected failure", name)
	}
	return q.store.st, done, nil
}

func (q *memQueries) GetBooking(ctx context.Context, id uint64) (model.Booking, error) {
	st, done, err := q.begin("GetBooking")
	if err != nil {
		return model.Booking{}, err
	}
	defer done()
	b, ok := st.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return b, nil
}

func (q *memQueries) LockBooking(ctx context.Context, id uint64) (model.Booking, error) {
	return q.GetBooking(ctx, id)
}

func (q *memQueries) CreateBooking(ctx context.Context, b *model.Booking) error {
	st, done, err := q.begin("CreateBooking")
	if err != nil {
		return err
	}
	defer done()
	st.nextID++
	b.ID = st.nextID
	b.Status = model.BookingPending
	b.PaymentStatus = model.PaymentPending
	b.RefundStatus = model.RefundNone
	b.CreatedAt = q.store.now()
	b.UpdatedAt = b.CreatedAt
	st.bookings[b.ID] = *b
	return nil
}

func (q *memQueries) updateBooking(name string, id uint64, fn func(b *model.Booking) bool) (bool, error) {
	st, done, err := q.begin(name)
	if err != nil {
		return false, err
	}
	defer done()
	b, ok := st.bookings[id]
	if !ok || !fn(&b) {
		return false, nil
	}
	st.bookings[id] = b
	return true, nil
}

func (q *memQueries) TransitionBooking(ctx context.Context, id uint64, from, to model.BookingStatus, reason model.DeclineReason) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("booking %d: %s to %s: %w", id, from, to, ErrStateConflict)
	}
	return q.updateBooking("TransitionBooking", id, func(b *model.Booking) bool {
		if b.Status != from {
			return false
		}
		b.Status = to
		if to == model.BookingDeclined {
			b.DeclineReason = reason
		} else {
			b.DeclineReason = ""
		}
		return true
	})
}

func (q *memQueries) MarkBookingPaid(ctx context.Context, id uint64) (bool, error) {
	return q.updateBooking("MarkBookingPaid", id, func(b *model.Booking) bool {
		if b.PaymentStatus != model.PaymentPending {
			return false
		}
		b.PaymentStatus = model.PaymentSucceeded
		return true
	})
}

func (q *memQueries) SetInventoryHeld(ctx context.Context, id uint64, held bool) (bool, error) {
	return q.updateBooking("SetInventoryHeld", id, func(b *model.Booking) bool {
		if b.InventoryHeld == held {
			return false
		}
		b.InventoryHeld = held
		return true
	})
}

func (q *memQueries) MarkBookingEscalated(ctx context.Context, id uint64) (bool, error) {
	return q.updateBooking("MarkBookingEscalated", id, func(b *model.Booking) bool {
		if b.IsEscalated || b.Status != model.BookingPending {
			return false
		}
		b.IsEscalated = true
		return true
	})
}

func (q *memQueries) SetPaymentIntent(ctx context.Context, id uint64, intentID string) (bool, error) {
	return q.updateBooking("SetPaymentIntent", id, func(b *model.Booking) bool {
		if b.PaymentIntentID != "" {
			return false
		}
		b.PaymentIntentID = intentID
		return true
	})
}

func (q *memQueries) UpdateBookingTotal(ctx context.Context, id uint64, totalCents int64) error {
	_, err := q.updateBooking("UpdateBookingTotal", id, func(b *model.Booking) bool {
		b.TotalPriceCents = totalCents
		return true
	})
	return err
}

func (q *memQueries) SetRefundStatus(ctx context.Context, id uint64, status model.RefundStatus) error {
	_, err := q.updateBooking("SetRefundStatus", id, func(b *model.Booking) bool {
		b.RefundStatus = status
		return true
	})
	return err
}

func (q *memQueries) NextRefundAttempt(ctx context.Context, id uint64) (int, error) {
	attempt := 0
	ok, err := q.updateBooking("NextRefundAttempt", id, func(b *model.Booking) bool {
		b.RefundAttempts++
		attempt = b.RefundAttempts
		return true
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return attempt, nil
}

func (q *memQueries) listBookings(name string, keep func(model.Booking) bool, limit int) ([]model.Booking, error) {
	st, done, err := q.begin(name)
	if err != nil {
		return nil, err
	}
	defer done()
	out := []model.Booking{}
	for _, b := range st.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueries) ListTimeoutCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]model.Booking, error) {
	return q.listBookings("ListTimeoutCandidates", func(b model.Booking) bool {
		return b.Status == model.BookingPending && b.PaymentStatus == model.PaymentSucceeded &&
			!b.IsEscalated && b.CreatedAt.Before(createdBefore)
	}, limit)
}

func (q *memQueries) ListEscalated(ctx context.Context, limit int) ([]model.Booking, error) {
	return q.listBookings("ListEscalated", func(b model.Booking) bool {
		return b.IsEscalated && b.Status == model.BookingPending
	}, limit)
}

func (q *memQueries) ListRefundFailures(ctx context.Context, limit int) ([]model.Booking, error) {
	return q.listBookings("ListRefundFailures", func(b model.Booking) bool {
		return b.RefundStatus.NeedsAttention()
	}, limit)
}

func (q *memQueries) ListVendorBookings(ctx context.Context, vendorID uint64, status model.BookingStatus, limit int) ([]model.Booking, error) {
	return q.listBookings("ListVendorBookings", func(b model.Booking) bool {
		// runs with the store mutex held
		return q.store.st.experiences[b.ExperienceID].VendorID == vendorID && b.Status == status
	}, limit)
}

func (q *memQueries) GetSlot(ctx context.Context, id uint64) (model.AvailabilitySlot, error) {
	st, done, err := q.begin("GetSlot")
	if err != nil {
		return model.AvailabilitySlot{}, err
	}
	defer done()
	sl, ok := st.slots[id]
	if !ok {
		return model.AvailabilitySlot{}, fmt.Errorf("slot %d: %w", id, ErrNotFound)
	}
	return sl, nil
}

func (q *memQueries) ReserveSlots(ctx context.Context, id uint64, qty int) (bool, error) {
	st, done, err := q.begin("ReserveSlots")
	if err != nil {
		return false, err
	}
	defer done()
	sl, ok := st.slots[id]
	if !ok || sl.AvailableSlots < qty {
		return false, nil
	}
	sl.AvailableSlots -= qty
	st.slots[id] = sl
	return true, nil
}

func (q *memQueries) ReleaseSlots(ctx context.Context, id uint64, qty int) (bool, error) {
	st, done, err := q.begin("ReleaseSlots")
	if err != nil {
		return false, err
	}
	defer done()
	sl, ok := st.slots[id]
	if !ok || sl.AvailableSlots+qty > sl.TotalSlots {
		return false, nil
	}
	sl.AvailableSlots += qty
	st.slots[id] = sl
	return true, nil
}

func (q *memQueries) GetExperience(ctx context.Context, id uint64) (model.Experience, error) {
	st, done, err := q.begin("GetExperience")
	if err != nil {
		return model.Experience{}, err
	}
	defer done()
	e, ok := st.experiences[id]
	if !ok {
		return model.Experience{}, fmt.Errorf("experience %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func (q *memQueries) GetUser(ctx context.Context, id uint64) (model.User, error) {
	st, done, err := q.begin("GetUser")
	if err != nil {
		return model.User{}, err
	}
	defer done()
	u, ok := st.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (q *memQueries) LockVoucherByCode(ctx context.Context, code string) (model.Voucher, error) {
	st, done, err := q.begin("LockVoucherByCode")
	if err != nil {
		return model.Voucher{}, err
	}
	defer done()
	for _, v := range st.vouchers {
		if strings.EqualFold(v.Code, strings.TrimSpace(code)) {
			return v, nil
		}
	}
	return model.Voucher{}, fmt.Errorf("voucher %s: %w", code, ErrNotFound)
}

func (q *memQueries) UpdateVoucher(ctx context.Context, id uint64, balanceCents int64, enabled bool) error {
	st, done, err := q.begin("UpdateVoucher")
	if err != nil {
		return err
	}
	defer done()
	v := st.vouchers[id]
	v.CurrentBalanceCents, v.IsEnabled = balanceCents, enabled
	st.vouchers[id] = v
	return nil
}

func (q *memQueries) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	st, done, err := q.begin("CreateVoucher")
	if err != nil {
		return err
	}
	defer done()
	for _, ex := range st.vouchers {
		if ex.Code == v.Code || (v.SourceIntentID != "" && ex.SourceIntentID == v.SourceIntentID) {
			return ErrDuplicate
		}
	}
	st.nextID++
	v.ID = st.nextID
	v.CreatedAt = q.store.now()
	st.vouchers[v.ID] = *v
	return nil
}

func (q *memQueries) RecordWebhookEvent(ctx context.Context, eventID, kind string) (bool, error) {
	st, done, err := q.begin("RecordWebhookEvent")
	if err != nil {
		return false, err
	}
	defer done()
	if _, ok := st.events[eventID]; ok {
		return false, nil
	}
	st.events[eventID] = kind
	return true, nil
}

var _ Store = (*memStore)(nil)

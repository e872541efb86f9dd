// Package storagetest provides an in-memory booking.Store for tests. It
// honors the same contract as the Postgres store: mutations of one shop-day
// serialize behind a lock and commit atomically or not at all.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/outbox"
)

type MemStore struct {
	mu       sync.Mutex
	dayLocks map[string]*sync.Mutex
	appts    map[string]model.Appointment
	counters map[string]int
	events   []outbox.Event
}

func NewMemStore() *MemStore {
	return &MemStore{
		dayLocks: make(map[string]*sync.Mutex),
		appts:    make(map[string]model.Appointment),
		counters: make(map[string]int),
	}
}

func dayKey(shopID string, day time.Time) string {
	return shopID + "|" + day.UTC().Format("2006-01-02")
}

func (s *MemStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.dayLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.dayLocks[key] = l
	}
	return l
}

func (s *MemStore) MutateQueue(ctx context.Context, shopID string, day time.Time, fn func(qtx booking.QueueTx) error) error {
	key := dayKey(shopID, day)
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	staged := make(map[string]model.Appointment, len(s.appts))
	for id, a := range s.appts {
		staged[id] = a
	}
	counter := s.counters[key]
	s.mu.Unlock()

	tx := &memTx{
		shopID:  shopID,
		day:     model.DayOf(day),
		staged:  staged,
		dirty:   make(map[string]bool),
		counter: counter,
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Write back only rows this shop-day touched; a parallel commit for a
	// different shop-day must not be clobbered by our stale snapshot.
	s.mu.Lock()
	for id := range tx.dirty {
		s.appts[id] = tx.staged[id]
	}
	s.counters[key] = tx.counter
	s.events = append(s.events, tx.events...)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return a, nil
}

func (s *MemStore) ListByCustomer(_ context.Context, customerID string, status *model.Status) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if a.CustomerID != customerID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListShopDay(_ context.Context, shopID string, day time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := model.DayOf(day)
	var out []model.Appointment
	for _, a := range s.appts {
		if a.ShopID == shopID && a.BookingDate.Equal(d) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

// Events returns every event committed so far, in commit order.
func (s *MemStore) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events))
	copy(out, s.events)
	return out
}

type memTx struct {
	shopID  string
	day     time.Time
	staged  map[string]model.Appointment
	dirty   map[string]bool
	counter int
	events  []outbox.Event
}

func (t *memTx) NextToken(_ context.Context) (int, error) {
	t.counter++
	return t.counter, nil
}

func (t *memTx) Insert(_ context.Context, appt model.Appointment) error {
	t.staged[appt.ID] = appt
	t.dirty[appt.ID] = true
	return nil
}

func (t *memTx) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.staged[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return a, nil
}

func (t *memTx) ListActive(_ context.Context) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.staged {
		if a.ShopID != t.shopID || !a.BookingDate.Equal(t.day) || a.Status.Terminal() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenNumber < out[j].TokenNumber })
	return out, nil
}

func (t *memTx) SetStatus(_ context.Context, id string, status model.Status) error {
	a, ok := t.staged[id]
	if !ok {
		return booking.ErrNotFound
	}
	a.Status = status
	t.staged[id] = a
	t.dirty[id] = true
	return nil
}

func (t *memTx) SetRequestedStart(_ context.Context, id string, start time.Time) error {
	a, ok := t.staged[id]
	if !ok {
		return booking.ErrNotFound
	}
	a.RequestedStart = start
	t.staged[id] = a
	t.dirty[id] = true
	return nil
}

func (t *memTx) SaveProjection(_ context.Context, starts map[string]time.Time) error {
	for id, start := range starts {
		a, ok := t.staged[id]
		if !ok {
			continue
		}
		a.ComputedStart = start
		t.staged[id] = a
		t.dirty[id] = true
	}
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

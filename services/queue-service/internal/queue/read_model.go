package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/catalog"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/projection"
)

// View is the customer-facing picture of one shop-day queue: active turns in
// token order with their projected start times. Completed and cancelled
// turns move to History with their last computed start; their tokens appear
// as gaps in Entries and are never handed out again.
type View struct {
	ShopID      string  `json:"shop_id"`
	ShopName    string  `json:"shop_name,omitempty"`
	BookingDate string  `json:"booking_date"`
	GeneratedAt string  `json:"generated_at"`
	Entries     []Entry `json:"entries"`
	History     []Entry `json:"history,omitempty"`
}

// Entry's Position is the number of turns ahead of this one, so the
// current head of the queue is position 0.
type Entry struct {
	AppointmentID   string `json:"appointment_id"`
	TokenNumber     int    `json:"token_number"`
	Position        int    `json:"position"`
	ServiceID       string `json:"service_id"`
	Status          string `json:"status"`
	ComputedStart   string `json:"computed_start"`
	DurationMinutes int    `json:"duration_minutes"`
}

// ReadModel serves queue views, optionally behind a short Redis TTL. The TTL
// bounds staleness: a cached view may lag a mutation by at most that long,
// and mutators call Invalidate to shrink the window further.
type ReadModel struct {
	store   booking.Store
	catalog catalog.Provider
	cache   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewReadModel(store booking.Store, cat catalog.Provider, cache *redis.Client, ttl time.Duration, logger *slog.Logger, clock func() time.Time) *ReadModel {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &ReadModel{store: store, catalog: cat, cache: cache, ttl: ttl, logger: logger, now: clock}
}

func cacheKey(shopID string, day time.Time) string {
	return "queue:" + shopID + ":" + day.UTC().Format("2006-01-02")
}

func (rm *ReadModel) Queue(ctx context.Context, shopID string, day time.Time) (View, error) {
	day = model.DayOf(day)

	if rm.cache != nil {
		raw, err := rm.cache.Get(ctx, cacheKey(shopID, day)).Bytes()
		if err == nil {
			var view View
			if err := json.Unmarshal(raw, &view); err == nil {
				return view, nil
			}
		} else if err != redis.Nil {
			rm.logger.Warn("queue cache read failed", "err", err, "shop_id", shopID)
		}
	}

	appts, err := rm.store.ListShopDay(ctx, shopID, day)
	if err != nil {
		return View{}, err
	}
	view := rm.build(shopID, day, appts)
	if shop, err := rm.catalog.GetShop(ctx, shopID); err == nil {
		view.ShopName = shop.Name
	} else {
		rm.logger.Warn("shop lookup failed", "err", err, "shop_id", shopID)
	}

	if rm.cache != nil {
		if raw, err := json.Marshal(view); err == nil {
			if err := rm.cache.Set(ctx, cacheKey(shopID, day), raw, rm.ttl).Err(); err != nil {
				rm.logger.Warn("queue cache write failed", "err", err, "shop_id", shopID)
			}
		}
	}
	return view, nil
}

// Invalidate drops the cached view after a mutation. Best effort; a miss
// just means the next read rebuilds from Postgres.
func (rm *ReadModel) Invalidate(ctx context.Context, shopID string, day time.Time) {
	if rm.cache == nil {
		return
	}
	if err := rm.cache.Del(ctx, cacheKey(shopID, model.DayOf(day))).Err(); err != nil {
		rm.logger.Warn("queue cache invalidate failed", "err", err, "shop_id", shopID)
	}
}

func (rm *ReadModel) build(shopID string, day time.Time, appts []model.Appointment) View {
	now := rm.now().UTC()
	projected := projection.Project(appts, now, day)

	view := View{
		ShopID:      shopID,
		BookingDate: day.Format("2006-01-02"),
		GeneratedAt: now.Format(time.RFC3339),
		Entries:     make([]Entry, 0, len(projected)),
	}
	for i, a := range projected {
		view.Entries = append(view.Entries, Entry{
			AppointmentID:   a.ID,
			TokenNumber:     a.TokenNumber,
			Position:        i,
			ServiceID:       a.ServiceID,
			Status:          string(a.Status),
			ComputedStart:   a.ComputedStart.Format(time.RFC3339),
			DurationMinutes: a.DurationMinutes,
		})
	}
	for _, a := range appts {
		if !a.Status.Terminal() {
			continue
		}
		entry := Entry{
			AppointmentID:   a.ID,
			TokenNumber:     a.TokenNumber,
			ServiceID:       a.ServiceID,
			Status:          string(a.Status),
			DurationMinutes: a.DurationMinutes,
		}
		if !a.ComputedStart.IsZero() {
			entry.ComputedStart = a.ComputedStart.Format(time.RFC3339)
		}
		view.History = append(view.History, entry)
	}
	return view
}

// Mine finds the calling customer's turn in a shop-day queue. Active turns
// come back with their live position; a finished turn is reported from
// History. Returns booking.ErrNotFound when the customer has no appointment
// in that shop-day.
func (rm *ReadModel) Mine(ctx context.Context, shopID, customerID string, day time.Time) (Entry, error) {
	day = model.DayOf(day)
	appts, err := rm.store.ListShopDay(ctx, shopID, day)
	if err != nil {
		return Entry{}, err
	}

	var mine []model.Appointment
	for _, a := range appts {
		if a.CustomerID == customerID {
			mine = append(mine, a)
		}
	}
	if len(mine) == 0 {
		return Entry{}, booking.ErrNotFound
	}

	view := rm.build(shopID, day, appts)
	for _, a := range mine {
		for _, e := range view.Entries {
			if e.AppointmentID == a.ID {
				return e, nil
			}
		}
	}
	for _, a := range mine {
		for _, e := range view.History {
			if e.AppointmentID == a.ID {
				return e, nil
			}
		}
	}
	return Entry{}, booking.ErrNotFound
}

package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/catalog"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/queue"
	"github.com/turnbook/turnq/services/queue-service/internal/storage/storagetest"
)

var testNow = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*booking.Service, *queue.ReadModel) {
	t.Helper()
	store := storagetest.NewMemStore()
	cat := catalog.NewStaticProvider([]catalog.Service{
		{ID: "svc-cut", DurationMinutes: 30, PriceCents: 1500},
	}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	svc := booking.New(store, cat, logger, clock)
	rm := queue.NewReadModel(store, cat, nil, 0, logger, clock)
	return svc, rm
}

func TestQueueViewOrdersByToken(t *testing.T) {
	svc, rm := setup(t)
	ctx := context.Background()
	start := testNow.Add(time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, "shop-1", "svc-cut", "cust", start); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	view, err := rm.Queue(ctx, "shop-1", start)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(view.Entries) != 3 {
		t.Fatalf("len(entries) = %d; want 3", len(view.Entries))
	}
	for i, e := range view.Entries {
		if e.TokenNumber != i+1 {
			t.Fatalf("entry[%d].TokenNumber = %d; want %d", i, e.TokenNumber, i+1)
		}
		// Position counts the turns ahead, so the head sits at 0.
		if e.Position != i {
			t.Fatalf("entry[%d].Position = %d; want %d", i, e.Position, i)
		}
	}
	if view.Entries[0].ComputedStart != testNow.Format(time.RFC3339) {
		t.Fatalf("head start = %s; want %s", view.Entries[0].ComputedStart, testNow.Format(time.RFC3339))
	}
}

func TestQueueViewSkipsTerminalKeepsTokenGaps(t *testing.T) {
	svc, rm := setup(t)
	ctx := context.Background()
	start := testNow.Add(time.Hour)

	head, err := svc.Create(ctx, "shop-1", "svc-cut", "cust-1", start)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "shop-1", "svc-cut", "cust-2", start); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, head.ID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	view, err := rm.Queue(ctx, "shop-1", start)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(view.Entries) != 1 {
		t.Fatalf("len(entries) = %d; want 1", len(view.Entries))
	}
	// Token 1 is gone for good; the survivor keeps token 2 but moves to the
	// head of the queue, position 0.
	if view.Entries[0].TokenNumber != 2 || view.Entries[0].Position != 0 {
		t.Fatalf("entry = %+v; want token 2 at position 0", view.Entries[0])
	}
	// The cancelled turn stays visible in history with its last projection.
	if len(view.History) != 1 {
		t.Fatalf("len(history) = %d; want 1", len(view.History))
	}
	if view.History[0].AppointmentID != head.ID || view.History[0].Status != "CANCELLED" {
		t.Fatalf("history entry = %+v; want cancelled %s", view.History[0], head.ID)
	}
	if view.History[0].ComputedStart == "" {
		t.Fatal("history entry lost its computed start")
	}
}

func TestMineFindsActiveAndFinishedTurns(t *testing.T) {
	svc, rm := setup(t)
	ctx := context.Background()
	start := testNow.Add(time.Hour)

	if _, err := svc.Create(ctx, "shop-1", "svc-cut", "cust-1", start); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := svc.Create(ctx, "shop-1", "svc-cut", "cust-2", start)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	entry, err := rm.Mine(ctx, "shop-1", "cust-2", start)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if entry.AppointmentID != second.ID || entry.Position != 1 {
		t.Fatalf("entry = %+v; want %s with one turn ahead", entry, second.ID)
	}

	if _, err := svc.UpdateStatus(ctx, second.ID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	entry, err = rm.Mine(ctx, "shop-1", "cust-2", start)
	if err != nil {
		t.Fatalf("Mine after cancel: %v", err)
	}
	if entry.Status != "CANCELLED" {
		t.Fatalf("status = %s; want CANCELLED", entry.Status)
	}

	if _, err := rm.Mine(ctx, "shop-1", "cust-none", start); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
}

func TestQueueViewEmptyDay(t *testing.T) {
	_, rm := setup(t)
	view, err := rm.Queue(context.Background(), "shop-empty", testNow)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(view.Entries) != 0 {
		t.Fatalf("len(entries) = %d; want 0", len(view.Entries))
	}
	if view.BookingDate != "2026-09-01" {
		t.Fatalf("booking date = %s; want 2026-09-01", view.BookingDate)
	}
}

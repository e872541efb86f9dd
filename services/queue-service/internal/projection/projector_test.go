package projection

import (
	"testing"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/model"
)

func appt(id string, token int, mins int, status model.Status) model.Appointment {
	return model.Appointment{
		ID:              id,
		ShopID:          "shop-1",
		TokenNumber:     token,
		DurationMinutes: mins,
		Status:          status,
	}
}

func TestProjectCumulativeDurations(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Hour)

	appts := []model.Appointment{
		appt("c", 3, 40, model.StatusPending),
		appt("a", 1, 20, model.StatusConfirmed),
		appt("b", 2, 15, model.StatusPending),
	}

	got := Project(appts, now, day)
	if len(got) != 3 {
		t.Fatalf("expected 3 projected, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("wrong order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if !got[0].ComputedStart.Equal(now) {
		t.Errorf("head start = %s, want %s", got[0].ComputedStart, now)
	}
	if !got[1].ComputedStart.Equal(now.Add(20 * time.Minute)) {
		t.Errorf("second start = %s, want now+20m", got[1].ComputedStart)
	}
	if !got[2].ComputedStart.Equal(now.Add(35 * time.Minute)) {
		t.Errorf("third start = %s, want now+35m", got[2].ComputedStart)
	}
}

func TestProjectSkipsTerminal(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	now := day.Add(9 * time.Hour)

	appts := []model.Appointment{
		appt("a", 1, 20, model.StatusCancelled),
		appt("b", 2, 15, model.StatusPending),
		appt("c", 3, 30, model.StatusCompleted),
		appt("d", 4, 10, model.StatusConfirmed),
	}

	got := Project(appts, now, day)
	if len(got) != 2 {
		t.Fatalf("expected 2 projected, got %d", len(got))
	}
	// Token 2 moves to the head once token 1 is cancelled; relative order of
	// the survivors is still token order.
	if got[0].ID != "b" || got[1].ID != "d" {
		t.Fatalf("wrong survivors: %s %s", got[0].ID, got[1].ID)
	}
	if !got[0].ComputedStart.Equal(now) {
		t.Errorf("head not re-based to now: %s", got[0].ComputedStart)
	}
	if !got[1].ComputedStart.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("second start = %s, want now+15m", got[1].ComputedStart)
	}
}

func TestProjectFloorsAtDayStart(t *testing.T) {
	day := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
	now := day.Add(-6 * time.Hour) // booking made the evening before

	got := Project([]model.Appointment{appt("a", 1, 20, model.StatusPending)}, now, day)
	if len(got) != 1 {
		t.Fatalf("expected 1 projected, got %d", len(got))
	}
	if !got[0].ComputedStart.Equal(day) {
		t.Errorf("start = %s, want day start %s", got[0].ComputedStart, day)
	}
}

func TestProjectIdempotent(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	now := day.Add(11 * time.Hour)

	appts := []model.Appointment{
		appt("a", 1, 20, model.StatusPending),
		appt("b", 2, 45, model.StatusConfirmed),
	}

	first := Project(appts, now, day)
	second := Project(first, now, day)
	if len(first) != len(second) {
		t.Fatalf("length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].ComputedStart.Equal(second[i].ComputedStart) {
			t.Errorf("position %d: %s vs %s", i, first[i].ComputedStart, second[i].ComputedStart)
		}
	}
}

func TestProjectEmpty(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if got := Project(nil, day, day); len(got) != 0 {
		t.Fatalf("expected empty projection, got %d", len(got))
	}
}

func TestProjectIgnoresRequestedTime(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	now := day.Add(10 * time.Hour)

	a := appt("a", 1, 20, model.StatusPending)
	a.RequestedStart = day.Add(16 * time.Hour) // customer asked for 16:00

	got := Project([]model.Appointment{a}, now, day)
	if !got[0].ComputedStart.Equal(now) {
		t.Errorf("start = %s, want now %s regardless of requested time", got[0].ComputedStart, now)
	}
}

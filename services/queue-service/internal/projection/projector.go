package projection

import (
	"sort"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/model"
)

// Project walks a shop-day's non-terminal appointments in token order and
// assigns each a computed start time from the cumulative durations ahead of
// it. The running clock starts at max(now, dayStart), so the head of the
// queue is re-based to "now" as real time passes.
//
// Terminal appointments are skipped entirely; their stored ComputedStart is
// left alone for history views. Projection is idempotent: with no intervening
// mutation (and a fixed now), re-running it yields identical times.
func Project(appts []model.Appointment, now, dayStart time.Time) []model.Appointment {
	active := make([]model.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status.Terminal() {
			continue
		}
		active = append(active, a)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].TokenNumber < active[j].TokenNumber
	})

	t := now.UTC()
	if dayStart.After(t) {
		t = dayStart.UTC()
	}
	for i := range active {
		active[i].ComputedStart = t
		t = t.Add(active[i].Duration())
	}
	return active
}

// StartTimes renders a projection as id -> computed start, the shape the
// store persists after each mutation.
func StartTimes(projected []model.Appointment) map[string]time.Time {
	out := make(map[string]time.Time, len(projected))
	for _, a := range projected {
		out[a.ID] = a.ComputedStart
	}
	return out
}

package model

import "time"

// Appointment is one customer's turn in a shop's daily queue. The service the
// customer booked is referenced by value (id, duration, price) so the queue
// stays projectable even if the catalog entry changes later.
type Appointment struct {
	ID         string
	ShopID     string
	ServiceID  string
	CustomerID string

	// TokenNumber is unique within (ShopID, BookingDate), assigned once at
	// creation and never reused, even after cancellation.
	TokenNumber int

	// BookingDate scopes the queue: start of the UTC calendar day the turn
	// belongs to. Fixed at creation; a reschedule does not move it.
	BookingDate time.Time

	// RequestedStart is what the customer asked for. Advisory once a token
	// exists: the projector derives the real start from queue order.
	RequestedStart time.Time

	// ComputedStart is set by the projector only, never by a client.
	ComputedStart time.Time

	DurationMinutes int
	PriceCents      int64

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// DayOf truncates t to the start of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

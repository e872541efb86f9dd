package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/turnbook/turnq/services/queue-service/internal/catalog"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/outbox"
	"github.com/turnbook/turnq/services/queue-service/internal/projection"
)

// Service owns the appointment lifecycle: token allocation, the status
// state machine, rescheduling, and keeping each shop-day's projection
// current after every mutation.
type Service struct {
	store   Store
	catalog catalog.Provider
	logger  *slog.Logger
	now     func() time.Time
}

func New(store Store, cat catalog.Provider, logger *slog.Logger, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, catalog: cat, logger: logger, now: clock}
}

// Create books a turn for the requested start's UTC day. The token is drawn
// under the shop-day lock, so concurrent bookings for the same shop and day
// serialize and every caller gets a distinct number.
func (s *Service) Create(ctx context.Context, shopID, serviceID, customerID string, requestedStart time.Time) (model.Appointment, error) {
	now := s.now().UTC()
	if requestedStart.Before(now) {
		return model.Appointment{}, ErrInvalidTime
	}

	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, catalog.ErrServiceNotFound) {
			return model.Appointment{}, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
		}
		return model.Appointment{}, err
	}
	if svc.ShopID != "" && svc.ShopID != shopID {
		return model.Appointment{}, fmt.Errorf("%w: service %s not offered by shop %s", ErrNotFound, serviceID, shopID)
	}

	day := model.DayOf(requestedStart)
	appt := model.Appointment{
		ID:              uuid.NewString(),
		ShopID:          shopID,
		ServiceID:       serviceID,
		CustomerID:      customerID,
		BookingDate:     day,
		RequestedStart:  requestedStart.UTC(),
		DurationMinutes: svc.DurationMinutes,
		PriceCents:      svc.PriceCents,
		Status:          model.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.MutateQueue(ctx, shopID, day, func(qtx QueueTx) error {
		token, err := qtx.NextToken(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAllocation, err)
		}
		appt.TokenNumber = token
		if err := qtx.Insert(ctx, appt); err != nil {
			return err
		}
		starts, err := s.reproject(ctx, qtx, shopID, day)
		if err != nil {
			return err
		}
		appt.ComputedStart = starts[appt.ID]
		return s.appendEvent(ctx, qtx, outbox.EventAppointmentBooked, appt)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"shop_id", shopID,
		"booking_date", day.Format("2006-01-02"),
		"token", appt.TokenNumber,
	)
	return appt, nil
}

// UpdateStatus applies one edge of the state machine. Illegal edges,
// including any move out of a terminal status, fail with
// ErrInvalidTransition and change nothing.
func (s *Service) UpdateStatus(ctx context.Context, id string, target model.Status) (model.Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	var updated model.Appointment
	err = s.store.MutateQueue(ctx, current.ShopID, current.BookingDate, func(qtx QueueTx) error {
		appt, err := qtx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
		}
		if err := qtx.SetStatus(ctx, id, target); err != nil {
			return err
		}
		appt.Status = target
		appt.UpdatedAt = s.now().UTC()

		starts, err := s.reproject(ctx, qtx, appt.ShopID, appt.BookingDate)
		if err != nil {
			return err
		}
		if cs, ok := starts[appt.ID]; ok {
			appt.ComputedStart = cs
		}
		updated = appt
		return s.appendEvent(ctx, qtx, statusEventType(target), appt)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment status changed",
		"appointment_id", id,
		"from", current.Status,
		"to", target,
	)
	return updated, nil
}

// Reschedule records a new requested start. The token number and booking
// date never move; a queue position is not negotiable after allocation, so
// the new time only has to land on the same day and not in the past.
func (s *Service) Reschedule(ctx context.Context, id string, newStart time.Time) (model.Appointment, error) {
	current, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if current.Status.Terminal() {
		return model.Appointment{}, fmt.Errorf("%w: status %s", ErrNotReschedulable, current.Status)
	}
	now := s.now().UTC()
	if newStart.Before(now) {
		return model.Appointment{}, ErrInvalidTime
	}
	if !model.DayOf(newStart).Equal(current.BookingDate) {
		return model.Appointment{}, ErrOutsideBookingDay
	}

	var updated model.Appointment
	err = s.store.MutateQueue(ctx, current.ShopID, current.BookingDate, func(qtx QueueTx) error {
		appt, err := qtx.Get(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrNotReschedulable, appt.Status)
		}
		if err := qtx.SetRequestedStart(ctx, id, newStart.UTC()); err != nil {
			return err
		}
		appt.RequestedStart = newStart.UTC()
		appt.UpdatedAt = now

		starts, err := s.reproject(ctx, qtx, appt.ShopID, appt.BookingDate)
		if err != nil {
			return err
		}
		if cs, ok := starts[appt.ID]; ok {
			appt.ComputedStart = cs
		}
		updated = appt
		return s.appendEvent(ctx, qtx, outbox.EventAppointmentRescheduled, appt)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment rescheduled",
		"appointment_id", id,
		"requested_start", newStart.UTC().Format(time.RFC3339),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

func (s *Service) ListMine(ctx context.Context, customerID string, status *model.Status) ([]model.Appointment, error) {
	return s.store.ListByCustomer(ctx, customerID, status)
}

// reproject recomputes the locked shop-day's start times, persists them, and
// emits a queue.updated event. Returns the fresh id -> start map so the
// caller can report the mutated appointment's new position.
func (s *Service) reproject(ctx context.Context, qtx QueueTx, shopID string, day time.Time) (map[string]time.Time, error) {
	active, err := qtx.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	projected := projection.Project(active, s.now(), day)
	starts := projection.StartTimes(projected)
	if err := qtx.SaveProjection(ctx, starts); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(queueUpdatedPayload{
		ShopID:      shopID,
		BookingDate: day.Format("2006-01-02"),
		QueueSize:   len(projected),
	})
	if err != nil {
		return nil, err
	}
	if err := qtx.AppendEvent(ctx, outbox.Event{
		AggregateType: "queue",
		AggregateID:   shopID,
		EventType:     outbox.EventQueueUpdated,
		Payload:       payload,
	}); err != nil {
		return nil, err
	}
	return starts, nil
}

func (s *Service) appendEvent(ctx context.Context, qtx QueueTx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(appointmentPayload{
		AppointmentID:  appt.ID,
		ShopID:         appt.ShopID,
		ServiceID:      appt.ServiceID,
		CustomerID:     appt.CustomerID,
		TokenNumber:    appt.TokenNumber,
		BookingDate:    appt.BookingDate.Format("2006-01-02"),
		RequestedStart: appt.RequestedStart.Format(time.RFC3339),
		ComputedStart:  appt.ComputedStart.Format(time.RFC3339),
		Status:         string(appt.Status),
	})
	if err != nil {
		return err
	}
	return qtx.AppendEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func statusEventType(target model.Status) string {
	switch target {
	case model.StatusConfirmed:
		return outbox.EventAppointmentConfirmed
	case model.StatusCompleted:
		return outbox.EventAppointmentCompleted
	case model.StatusCancelled:
		return outbox.EventAppointmentCancelled
	}
	return ""
}

type appointmentPayload struct {
	AppointmentID  string `json:"appointment_id"`
	ShopID         string `json:"shop_id"`
	ServiceID      string `json:"service_id"`
	CustomerID     string `json:"customer_id"`
	TokenNumber    int    `json:"token_number"`
	BookingDate    string `json:"booking_date"`
	RequestedStart string `json:"requested_start"`
	ComputedStart  string `json:"computed_start"`
	Status         string `json:"status"`
}

type queueUpdatedPayload struct {
	ShopID      string `json:"shop_id"`
	BookingDate string `json:"booking_date"`
	QueueSize   int    `json:"queue_size"`
}

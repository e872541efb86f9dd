package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the queue core. Today's clients poll; the stream
// exists so a push notifier can be layered on later without touching the core.
const (
	EventAppointmentBooked      = "turn.appointment.booked.v1"
	EventAppointmentConfirmed   = "turn.appointment.confirmed.v1"
	EventAppointmentCompleted   = "turn.appointment.completed.v1"
	EventAppointmentCancelled   = "turn.appointment.cancelled.v1"
	EventAppointmentRescheduled = "turn.appointment.rescheduled.v1"
	EventQueueUpdated           = "turn.queue.updated.v1"
)

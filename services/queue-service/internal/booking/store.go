package booking

import (
	"context"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/outbox"
)

// Store is the persistence contract for the queue core. Implementations must
// make MutateQueue exclusive per (shopID, day): two mutations of the same
// shop-day never interleave, while different shop-days proceed in parallel.
// Reads outside MutateQueue see a consistent snapshot (pre- or post-mutation,
// never torn).
type Store interface {
	// MutateQueue runs fn holding exclusive access to one shop-day queue.
	// Everything fn does through the QueueTx commits atomically when fn
	// returns nil and is discarded when it returns an error.
	MutateQueue(ctx context.Context, shopID string, day time.Time, fn func(qtx QueueTx) error) error

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListByCustomer(ctx context.Context, customerID string, status *model.Status) ([]model.Appointment, error)
	ListShopDay(ctx context.Context, shopID string, day time.Time) ([]model.Appointment, error)
}

// QueueTx is the mutation surface available inside MutateQueue. Lookups that
// return no row yield ErrNotFound.
type QueueTx interface {
	// NextToken returns the next token for the locked shop-day, starting at 1.
	// Tokens are strictly increasing and never reused.
	NextToken(ctx context.Context) (int, error)

	Insert(ctx context.Context, appt model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)

	// ListActive returns the shop-day's non-terminal appointments in token order.
	ListActive(ctx context.Context) ([]model.Appointment, error)

	SetStatus(ctx context.Context, id string, status model.Status) error
	SetRequestedStart(ctx context.Context, id string, start time.Time) error

	// SaveProjection persists projector output (id -> computed start).
	SaveProjection(ctx context.Context, starts map[string]time.Time) error

	// AppendEvent writes a domain event to the transactional outbox.
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

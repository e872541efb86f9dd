package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/turnbook/turnq/libs/db"
	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/outbox"
)

// AppointmentStore is the Postgres booking.Store. Shop-day exclusivity comes
// from a row lock on shop_day_counters: MutateQueue upserts the counter row
// and SELECTs it FOR UPDATE, so every mutation of one shop-day queues behind
// the same row while other shop-days run in parallel.
type AppointmentStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentStore(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentStore {
	return &AppointmentStore{pool: pool, outbox: outboxRepo}
}

func (s *AppointmentStore) MutateQueue(ctx context.Context, shopID string, day time.Time, fn func(qtx booking.QueueTx) error) error {
	day = model.DayOf(day)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO shop_day_counters (shop_id, day, next_token)
		VALUES ($1, $2, 0)
		ON CONFLICT (shop_id, day) DO NOTHING
	`, shopID, day)
	if err != nil {
		return err
	}

	var current int
	err = tx.QueryRow(ctx, `
		SELECT next_token FROM shop_day_counters
		WHERE shop_id = $1 AND day = $2
		FOR UPDATE
	`, shopID, day).Scan(&current)
	if err != nil {
		return err
	}

	if err := fn(&queueTx{tx: tx, shopID: shopID, day: day, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const appointmentColumns = `
	id, shop_id, service_id, customer_id, token_number, booking_date,
	requested_start, computed_start, duration_minutes, price_cents,
	status, created_at, updated_at`

func (s *AppointmentStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if db.IsNoRows(err) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (s *AppointmentStore) ListByCustomer(ctx context.Context, customerID string, status *model.Status) ([]model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE customer_id = $1
		ORDER BY created_at DESC`
	args := []any{customerID}
	if status != nil {
		query = `
			SELECT ` + appointmentColumns + `
			FROM appointments
			WHERE customer_id = $1 AND status = $2
			ORDER BY created_at DESC`
		args = append(args, string(*status))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (s *AppointmentStore) ListShopDay(ctx context.Context, shopID string, day time.Time) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1 AND booking_date = $2
		ORDER BY token_number ASC
	`, shopID, model.DayOf(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

type queueTx struct {
	tx     pgx.Tx
	shopID string
	day    time.Time
	outbox *outbox.Repository
}

func (q *queueTx) NextToken(ctx context.Context) (int, error) {
	var token int
	err := q.tx.QueryRow(ctx, `
		UPDATE shop_day_counters
		SET next_token = next_token + 1
		WHERE shop_id = $1 AND day = $2
		RETURNING next_token
	`, q.shopID, q.day).Scan(&token)
	if err != nil {
		return 0, err
	}
	return token, nil
}

func (q *queueTx) Insert(ctx context.Context, appt model.Appointment) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, shop_id, service_id, customer_id, token_number, booking_date,
			requested_start, duration_minutes, price_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.ShopID, appt.ServiceID, appt.CustomerID, appt.TokenNumber, appt.BookingDate,
		appt.RequestedStart, appt.DurationMinutes, appt.PriceCents, string(appt.Status),
		appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (q *queueTx) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if db.IsNoRows(err) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (q *queueTx) ListActive(ctx context.Context) ([]model.Appointment, error) {
	rows, err := q.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE shop_id = $1
			AND booking_date = $2
			AND status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY token_number ASC
	`, q.shopID, q.day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (q *queueTx) SetStatus(ctx context.Context, id string, status model.Status) error {
	tag, err := q.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (q *queueTx) SetRequestedStart(ctx context.Context, id string, start time.Time) error {
	tag, err := q.tx.Exec(ctx, `
		UPDATE appointments
		SET requested_start = $2, updated_at = now()
		WHERE id = $1
	`, id, start)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (q *queueTx) SaveProjection(ctx context.Context, starts map[string]time.Time) error {
	for id, start := range starts {
		if _, err := q.tx.Exec(ctx, `
			UPDATE appointments
			SET computed_start = $2
			WHERE id = $1
		`, id, start); err != nil {
			return err
		}
	}
	return nil
}

func (q *queueTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return q.outbox.Insert(ctx, q.tx, evt)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var computedStart *time.Time
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.ShopID,
		&appt.ServiceID,
		&appt.CustomerID,
		&appt.TokenNumber,
		&appt.BookingDate,
		&appt.RequestedStart,
		&computedStart,
		&appt.DurationMinutes,
		&appt.PriceCents,
		&status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	if computedStart != nil {
		appt.ComputedStart = *computedStart
	}
	appt.BookingDate = model.DayOf(appt.BookingDate)
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/model"
	"github.com/turnbook/turnq/services/queue-service/internal/queue"
)

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"

	roleCustomer   = "customer"
	roleShopkeeper = "shopkeeper"
)

// AppointmentHandler serves the appointment API. Identity arrives as
// X-User-Id and X-Role headers set by the gateway after JWT verification;
// this service never sees tokens.
type AppointmentHandler struct {
	svc    *booking.Service
	queue  *queue.ReadModel
	logger *slog.Logger
	now    func() time.Time
}

func NewAppointmentHandler(svc *booking.Service, readModel *queue.ReadModel, logger *slog.Logger, clock func() time.Time) *AppointmentHandler {
	if clock == nil {
		clock = time.Now
	}
	return &AppointmentHandler{svc: svc, queue: readModel, logger: logger, now: clock}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/appointments/my-bookings", h.MyBookings)
	mux.HandleFunc("GET /api/v1/appointments/shop/{shopID}", h.ShopQueue)
	mux.HandleFunc("GET /api/v1/appointments/shop/{shopID}/mine", h.MyTurn)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/status", h.UpdateStatus)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/time", h.Reschedule)
}

type identity struct {
	UserID string
	Role   string
}

func callerIdentity(r *http.Request) (identity, bool) {
	id := identity{
		UserID: strings.TrimSpace(r.Header.Get(headerUserID)),
		Role:   strings.TrimSpace(r.Header.Get(headerRole)),
	}
	if id.UserID == "" || (id.Role != roleCustomer && id.Role != roleShopkeeper) {
		return identity{}, false
	}
	return id, true
}

type createAppointmentRequest struct {
	ShopID         string `json:"shop_id"`
	ServiceID      string `json:"service_id"`
	RequestedStart string `json:"requested_start"`
}

type rescheduleRequest struct {
	RequestedStart string `json:"requested_start"`
}

type appointmentResponse struct {
	AppointmentID   string `json:"appointment_id"`
	ShopID          string `json:"shop_id"`
	ServiceID       string `json:"service_id"`
	CustomerID      string `json:"customer_id"`
	TokenNumber     int    `json:"token_number"`
	BookingDate     string `json:"booking_date"`
	RequestedStart  string `json:"requested_start"`
	ComputedStart   string `json:"computed_start"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if caller.Role != roleCustomer {
		http.Error(w, "only customers can book", http.StatusForbidden)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ShopID == "" || req.ServiceID == "" || req.RequestedStart == "" {
		http.Error(w, "shop_id, service_id, and requested_start are required", http.StatusBadRequest)
		return
	}
	requestedStart, err := time.Parse(time.RFC3339, req.RequestedStart)
	if err != nil {
		http.Error(w, "invalid requested_start", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Create(r.Context(), req.ShopID, req.ServiceID, caller.UserID, requestedStart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.queue.Invalidate(r.Context(), appt.ShopID, appt.BookingDate)
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	appt, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if caller.Role == roleCustomer && appt.CustomerID != caller.UserID {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if caller.Role != roleCustomer {
		http.Error(w, "customer endpoint", http.StatusForbidden)
		return
	}

	var status *model.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := model.ParseStatus(raw)
		if err != nil {
			http.Error(w, "invalid status filter", http.StatusBadRequest)
			return
		}
		status = &parsed
	}

	appts, err := h.svc.ListMine(r.Context(), caller.UserID, status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) ShopQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerIdentity(r); !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	day := h.now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	view, err := h.queue.Queue(r.Context(), r.PathValue("shopID"), day)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AppointmentHandler) MyTurn(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if caller.Role != roleCustomer {
		http.Error(w, "customer endpoint", http.StatusForbidden)
		return
	}

	day := h.now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	entry, err := h.queue.Mine(r.Context(), r.PathValue("shopID"), caller.UserID, day)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	target, err := model.ParseStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	switch target {
	case model.StatusConfirmed, model.StatusCompleted:
		if caller.Role != roleShopkeeper {
			http.Error(w, "shopkeeper only", http.StatusForbidden)
			return
		}
	case model.StatusCancelled:
		if caller.Role == roleCustomer {
			appt, err := h.svc.Get(r.Context(), id)
			if err != nil {
				h.writeError(w, err)
				return
			}
			if appt.CustomerID != caller.UserID {
				http.Error(w, "appointment not found", http.StatusNotFound)
				return
			}
		}
	default:
		http.Error(w, "status not settable", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), id, target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.queue.Invalidate(r.Context(), appt.ShopID, appt.BookingDate)
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(r)
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if caller.Role != roleCustomer {
		http.Error(w, "only the booking customer can reschedule", http.StatusForbidden)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.RequestedStart)
	if err != nil {
		http.Error(w, "invalid requested_start", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	current, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if current.CustomerID != caller.UserID {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, newStart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.queue.Invalidate(r.Context(), appt.ShopID, appt.BookingDate)
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidTime), errors.Is(err, booking.ErrNotReschedulable):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrAllocation):
		http.Error(w, "booking temporarily unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:   a.ID,
		ShopID:          a.ShopID,
		ServiceID:       a.ServiceID,
		CustomerID:      a.CustomerID,
		TokenNumber:     a.TokenNumber,
		BookingDate:     a.BookingDate.Format("2006-01-02"),
		RequestedStart:  a.RequestedStart.UTC().Format(time.RFC3339),
		DurationMinutes: a.DurationMinutes,
		PriceCents:      a.PriceCents,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !a.ComputedStart.IsZero() {
		resp.ComputedStart = a.ComputedStart.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

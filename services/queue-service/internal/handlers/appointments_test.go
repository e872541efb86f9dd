package handlers_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/turnbook/turnq/services/queue-service/internal/booking"
	"github.com/turnbook/turnq/services/queue-service/internal/catalog"
	"github.com/turnbook/turnq/services/queue-service/internal/handlers"
	"github.com/turnbook/turnq/services/queue-service/internal/queue"
	"github.com/turnbook/turnq/services/queue-service/internal/storage/storagetest"
)

var testNow = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := storagetest.NewMemStore()
	cat := catalog.NewStaticProvider([]catalog.Service{
		{ID: "svc-cut", DurationMinutes: 30, PriceCents: 1500},
	}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }

	svc := booking.New(store, cat, logger, clock)
	rm := queue.NewReadModel(store, cat, nil, 0, logger, clock)
	mux := http.NewServeMux()
	handlers.NewAppointmentHandler(svc, rm, logger, clock).Register(mux)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-Role", role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func createAppointment(t *testing.T, mux *http.ServeMux, customerID string) map[string]any {
	t.Helper()
	body := `{"shop_id":"shop-1","service_id":"svc-cut","requested_start":"2026-09-01T10:00:00Z"}`
	rec := doRequest(t, mux, http.MethodPost, "/api/v1/appointments", customerID, "customer", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestCreateAppointment(t *testing.T) {
	mux := newTestMux(t)
	resp := createAppointment(t, mux, "cust-1")

	if resp["token_number"].(float64) != 1 {
		t.Fatalf("token_number = %v; want 1", resp["token_number"])
	}
	if resp["status"] != "PENDING" {
		t.Fatalf("status = %v; want PENDING", resp["status"])
	}
	if resp["booking_date"] != "2026-09-01" {
		t.Fatalf("booking_date = %v", resp["booking_date"])
	}
}

func TestCreateRequiresCustomerRole(t *testing.T) {
	mux := newTestMux(t)
	body := `{"shop_id":"shop-1","service_id":"svc-cut","requested_start":"2026-09-01T10:00:00Z"}`

	rec := doRequest(t, mux, http.MethodPost, "/api/v1/appointments", "", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d; want 401", rec.Code)
	}
	rec = doRequest(t, mux, http.MethodPost, "/api/v1/appointments", "keeper-1", "shopkeeper", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("shopkeeper status = %d; want 403", rec.Code)
	}
}

func TestCreatePastTimeRejected(t *testing.T) {
	mux := newTestMux(t)
	body := `{"shop_id":"shop-1","service_id":"svc-cut","requested_start":"2026-09-01T08:00:00Z"}`
	rec := doRequest(t, mux, http.MethodPost, "/api/v1/appointments", "cust-1", "customer", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d; want 422", rec.Code)
	}
}

func TestGetHidesOtherCustomersBookings(t *testing.T) {
	mux := newTestMux(t)
	resp := createAppointment(t, mux, "cust-1")
	id := resp["appointment_id"].(string)

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/appointments/"+id, "cust-2", "customer", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other customer status = %d; want 404", rec.Code)
	}
	rec = doRequest(t, mux, http.MethodGet, "/api/v1/appointments/"+id, "keeper-1", "shopkeeper", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("shopkeeper status = %d; want 200", rec.Code)
	}
}

func TestStatusUpdateAuthorization(t *testing.T) {
	mux := newTestMux(t)
	resp := createAppointment(t, mux, "cust-1")
	id := resp["appointment_id"].(string)

	// Customers cannot confirm, even their own booking.
	rec := doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/status?status=CONFIRMED", "cust-1", "customer", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer confirm status = %d; want 403", rec.Code)
	}

	// A different customer cannot cancel someone else's booking.
	rec = doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/status?status=CANCELLED", "cust-2", "customer", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other customer cancel status = %d; want 404", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/status?status=CONFIRMED", "keeper-1", "shopkeeper", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("shopkeeper confirm status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Illegal edge maps to 409.
	rec = doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/status?status=CONFIRMED", "keeper-1", "shopkeeper", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("double confirm status = %d; want 409", rec.Code)
	}
}

func TestOwnerCanCancel(t *testing.T) {
	mux := newTestMux(t)
	resp := createAppointment(t, mux, "cust-1")
	id := resp["appointment_id"].(string)

	rec := doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/status?status=CANCELLED", "cust-1", "customer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("owner cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestReschedule(t *testing.T) {
	mux := newTestMux(t)
	resp := createAppointment(t, mux, "cust-1")
	id := resp["appointment_id"].(string)

	rec := doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/time", "cust-1", "customer",
		`{"requested_start":"2026-09-01T15:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated["token_number"].(float64) != resp["token_number"].(float64) {
		t.Fatalf("token changed on reschedule: %v -> %v", resp["token_number"], updated["token_number"])
	}
	if updated["requested_start"] != "2026-09-01T15:00:00Z" {
		t.Fatalf("requested_start = %v", updated["requested_start"])
	}

	// Another day is out of bounds.
	rec = doRequest(t, mux, http.MethodPatch, "/api/v1/appointments/"+id+"/time", "cust-1", "customer",
		`{"requested_start":"2026-09-02T10:00:00Z"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("cross-day status = %d; want 422", rec.Code)
	}
}

func TestMyBookingsFilter(t *testing.T) {
	mux := newTestMux(t)
	createAppointment(t, mux, "cust-1")
	createAppointment(t, mux, "cust-1")
	createAppointment(t, mux, "cust-2")

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/appointments/my-bookings", "cust-1", "customer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d; want 2", len(items))
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/v1/appointments/my-bookings?status=bogus", "cust-1", "customer", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d; want 400", rec.Code)
	}
}

func TestShopQueueView(t *testing.T) {
	mux := newTestMux(t)
	createAppointment(t, mux, "cust-1")
	createAppointment(t, mux, "cust-2")

	rec := doRequest(t, mux, http.MethodGet, "/api/v1/appointments/shop/shop-1?date=2026-09-01", "keeper-1", "shopkeeper", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entries := view["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d; want 2", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["position"].(float64) != 0 {
		t.Fatalf("head position = %v; want 0", first["position"])
	}
	second := entries[1].(map[string]any)
	if second["position"].(float64) != 1 {
		t.Fatalf("second position = %v; want 1", second["position"])
	}
}

func TestShopQueueDefaultsToToday(t *testing.T) {
	mux := newTestMux(t)
	createAppointment(t, mux, "cust-1")

	// No ?date= falls back to the handler clock's day, not the wall clock.
	rec := doRequest(t, mux, http.MethodGet, "/api/v1/appointments/shop/shop-1", "keeper-1", "shopkeeper", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view["booking_date"] != "2026-09-01" {
		t.Fatalf("booking_date = %v; want 2026-09-01", view["booking_date"])
	}
	if len(view["entries"].([]any)) != 1 {
		t.Fatalf("entries = %v; want the booking made today", view["entries"])
	}
}

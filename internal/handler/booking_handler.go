package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/go-chi/chi/v5"
)

// BookingService is the behaviour the booking handlers need from the
// service layer.
type BookingService interface {
	Reserve(ctx context.Context, actor model.Actor, req model.CreateBookingRequest) (*model.Booking, error)
	Cancel(ctx context.Context, actor model.Actor, bookingID int64) (*model.Booking, error)
	ListOwn(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]model.BookingDetail, error)
	GetOwn(ctx context.Context, actor model.Actor, bookingID int64) (*model.BookingDetail, error)
	EventInventory(ctx context.Context, eventID int64) (*model.EventInventory, error)
}

// BookingHandler holds all HTTP handlers for the booking API.
type BookingHandler struct {
	svc BookingService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateBooking handles POST /bookings
// Reserves every requested line item atomically or none of them.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req model.CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	booking, err := h.svc.Reserve(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateBookingResponse{
		BookingID: booking.ID,
		Status:    booking.Status,
		Items:     booking.Items,
	})
}

// CancelBooking handles PUT /bookings/{id}/cancel
// Cancels one of the caller's confirmed bookings and releases its tickets.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	id, ok := pathID(r, "id")
	if !ok {
		// Malformed ids cannot name a booking the caller owns.
		writeError(w, http.StatusNotFound, "NOT_FOUND", model.ErrNotFound.Error())
		return
	}

	booking, err := h.svc.Cancel(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.CancelBookingResponse{
		Detail:    "Booking cancelled successfully",
		BookingID: booking.ID,
		Status:    booking.Status,
	})
}

// ListMyBookings handles GET /users/me/bookings
// Supports status, event_id, created_after and created_before filters.
func (h *BookingHandler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	f, err := parseBookingFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	bookings, err := h.svc.ListOwn(r.Context(), actor, f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bookings)
}

// GetBooking handles GET /bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", model.ErrNotFound.Error())
		return
	}

	detail, err := h.svc.GetOwn(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// EventInventory handles GET /events/{id}/inventory
// Returns capacity, sold count and per ticket type stock.
func (h *BookingHandler) EventInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusNotFound, "EVENT_NOT_FOUND", model.ErrEventNotFound.Error())
		return
	}

	inv, err := h.svc.EventInventory(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseBookingFilter(r *http.Request) (model.BookingFilter, error) {
	var f model.BookingFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		s := model.BookingStatus(v)
		if !s.IsValid() {
			return f, errors.New("status must be one of pending, confirmed, cancelled")
		}
		f.Status = &s
	}
	if v := q.Get("event_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, errors.New("event_id must be a positive integer")
		}
		f.EventID = &id
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{
		{"created_after", &f.CreatedAfter},
		{"created_before", &f.CreatedBefore},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(p.key + " must be an RFC3339 timestamp")
		}
		*p.dst = &t
	}
	return f, nil
}

package service

import (
	"testing"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketTypes(tts ...model.TicketType) map[int64]model.TicketType {
	out := make(map[int64]model.TicketType, len(tts))
	for _, tt := range tts {
		out[tt.ID] = tt
	}
	return out
}

func request(eventID int64, items ...model.LineItem) *model.CreateBookingRequest {
	return &model.CreateBookingRequest{EventID: eventID, Items: items}
}

func TestCheckAdvisory(t *testing.T) {
	types := ticketTypes(
		model.TicketType{ID: 1, EventID: 10, Name: "GA", QuantityAvailable: 5, IsActive: true},
		model.TicketType{ID: 2, EventID: 10, Name: "VIP", QuantityAvailable: 1, IsActive: true},
		model.TicketType{ID: 3, EventID: 20, Name: "Other", QuantityAvailable: 5, IsActive: true},
		model.TicketType{ID: 4, EventID: 10, Name: "Retired", QuantityAvailable: 5, IsActive: false},
	)

	tests := []struct {
		name    string
		req     *model.CreateBookingRequest
		wantErr error
	}{
		{"ok", request(10, model.LineItem{TicketTypeID: 1, Quantity: 5}, model.LineItem{TicketTypeID: 2, Quantity: 1}), nil},
		{"unknown ticket type", request(10, model.LineItem{TicketTypeID: 99, Quantity: 1}), model.ErrInvalidTicketType},
		{"inactive ticket type", request(10, model.LineItem{TicketTypeID: 4, Quantity: 1}), model.ErrInvalidTicketType},
		{"cross event", request(10, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 3, Quantity: 1}), model.ErrCrossEventMismatch},
		{"declared event differs", request(20, model.LineItem{TicketTypeID: 1, Quantity: 1}), model.ErrCrossEventMismatch},
		{"exceeds by one", request(10, model.LineItem{TicketTypeID: 2, Quantity: 2}), model.ErrInsufficientInventory},
		{"unknown wins over cross event", request(10, model.LineItem{TicketTypeID: 3, Quantity: 1}, model.LineItem{TicketTypeID: 99, Quantity: 1}), model.ErrInvalidTicketType},
		{"duplicate line item", request(10, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 1, Quantity: 2}), model.ErrDuplicateLineItem},
		{"unknown wins over duplicate", request(10, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 99, Quantity: 1}), model.ErrInvalidTicketType},
		{"cross event wins over duplicate", request(10, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 1, Quantity: 1}, model.LineItem{TicketTypeID: 3, Quantity: 1}), model.ErrCrossEventMismatch},
		{"duplicate wins over availability", request(10, model.LineItem{TicketTypeID: 2, Quantity: 5}, model.LineItem{TicketTypeID: 2, Quantity: 5}), model.ErrDuplicateLineItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAdvisory(tt.req, types)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckAdvisory_InsufficientNamesTicketType(t *testing.T) {
	types := ticketTypes(model.TicketType{ID: 2, EventID: 10, Name: "VIP", QuantityAvailable: 1, IsActive: true})

	var inv *model.InsufficientInventoryError
	require.ErrorAs(t, checkAdvisory(request(10, model.LineItem{TicketTypeID: 2, Quantity: 3}), types), &inv)
	assert.Equal(t, int64(2), inv.TicketTypeID)
	assert.Equal(t, 3, inv.Requested)
	assert.Equal(t, 1, inv.Available)
}

func TestCheckLocked(t *testing.T) {
	ev := &model.Event{ID: 10, Capacity: 5}
	locked := ticketTypes(
		model.TicketType{ID: 1, EventID: 10, QuantityAvailable: 5, IsActive: true},
		model.TicketType{ID: 2, EventID: 10, QuantityAvailable: 1, IsActive: true},
	)

	tests := []struct {
		name      string
		req       *model.CreateBookingRequest
		totalSold int
		locked    map[int64]model.TicketType
		wantErr   error
	}{
		{"fits exactly", request(10, model.LineItem{TicketTypeID: 1, Quantity: 3}), 2, locked, nil},
		{"capacity exceeded", request(10, model.LineItem{TicketTypeID: 1, Quantity: 3}), 3, locked, model.ErrCapacityExceeded},
		{"inventory changed since phase one", request(10, model.LineItem{TicketTypeID: 2, Quantity: 2}), 0, locked, model.ErrInsufficientInventory},
		{"capacity checked before inventory", request(10, model.LineItem{TicketTypeID: 2, Quantity: 2}), 4, locked, model.ErrCapacityExceeded},
		{"row vanished", request(10, model.LineItem{TicketTypeID: 7, Quantity: 1}), 0, locked, model.ErrInvalidTicketType},
		{
			"deactivated since phase one",
			request(10, model.LineItem{TicketTypeID: 1, Quantity: 1}),
			0,
			ticketTypes(model.TicketType{ID: 1, EventID: 10, QuantityAvailable: 5, IsActive: false}),
			model.ErrInvalidTicketType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkLocked(tt.req, ev, tt.totalSold, tt.locked)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

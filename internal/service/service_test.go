package service

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/metrics"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-ticketing/internal/testutil/pgtest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	os.Exit(pgtest.Run(m))
}

var (
	alice = model.Actor{ID: "alice", Role: model.RoleAttendee}
	bob   = model.Actor{ID: "bob", Role: model.RoleAttendee}
)

type fixture struct {
	pool  *pgxpool.Pool
	repos Repositories
	svc   *BookingService
}

func newFixture(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	pool := pgtest.Pool(t)
	repos := Repositories{
		Store:       repository.NewStore(pool, lockTimeout),
		Events:      repository.NewEventRepository(pool),
		TicketTypes: repository.NewTicketTypeRepository(pool),
		Bookings:    repository.NewBookingRepository(pool),
		Outbox:      repository.NewOutboxRepository(pool),
	}
	m := metrics.NewNop()
	log := zap.NewNop()
	return &fixture{
		pool:  pool,
		repos: repos,
		svc: NewBookingService(repos,
			NewReservationEngine(repos, "booking-events", m, log),
			NewCancellationEngine(repos, "booking-events", m, log),
		),
	}
}

func reserveReq(eventID int64, items ...model.LineItem) model.CreateBookingRequest {
	return model.CreateBookingRequest{EventID: eventID, Items: items}
}

func item(ticketTypeID int64, qty int) model.LineItem {
	return model.LineItem{TicketTypeID: ticketTypeID, Quantity: qty}
}

// runConcurrently starts every fn at the same moment and waits for all.
func runConcurrently(fns ...func()) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn()
		}()
	}
	close(start)
	wg.Wait()
}

func assertCounters(t *testing.T, pool *pgxpool.Pool, ticketTypeID int64, wantAvailable, wantSold int) {
	t.Helper()
	available, sold := pgtest.Counters(t, pool, ticketTypeID)
	assert.Equal(t, wantAvailable, available, "quantity_available of ticket type %d", ticketTypeID)
	assert.Equal(t, wantSold, sold, "quantity_sold of ticket type %d", ticketTypeID)
}

func TestReserve_Success(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Concert", 10)
	ga := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "20.00", 6)
	vip := pgtest.SeedTicketType(t, f.pool, eventID, "VIP", "80.00", 2)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(vip, 2), item(ga, 3)))
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	require.Len(t, b.Items, 2)
	assert.Equal(t, vip, b.Items[0].TicketTypeID)

	assertCounters(t, f.pool, ga, 3, 3)
	assertCounters(t, f.pool, vip, 0, 2)
	assert.Equal(t, 1, pgtest.Count(t, f.pool, "booking_outbox"))

	d, err := f.svc.GetOwn(ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "220", d.Total.String())
}

func TestReserve_LastTicketExactlyOneWins(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Tiny", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 1)

	errs := make([]error, 2)
	runConcurrently(
		func() { _, errs[0] = f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 1))) },
		func() { _, errs[1] = f.svc.Reserve(ctx, bob, reserveReq(eventID, item(tt, 1))) },
	)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrInsufficientInventory)
	}
	assert.Equal(t, 1, succeeded)
	assertCounters(t, f.pool, tt, 0, 1)
	assert.Equal(t, 1, pgtest.Count(t, f.pool, "bookings"))
}

func TestReserve_SharedCapacityAcrossTicketTypes(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Club", 5)
	a := pgtest.SeedTicketType(t, f.pool, eventID, "Early", "10.00", 5)
	b := pgtest.SeedTicketType(t, f.pool, eventID, "Late", "15.00", 5)

	errs := make([]error, 2)
	runConcurrently(
		func() { _, errs[0] = f.svc.Reserve(ctx, alice, reserveReq(eventID, item(a, 3))) },
		func() { _, errs[1] = f.svc.Reserve(ctx, bob, reserveReq(eventID, item(b, 3))) },
	)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, succeeded)

	inv, err := f.svc.EventInventory(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.TotalSold)
	assert.LessOrEqual(t, inv.TotalSold, inv.Capacity)
	assert.Equal(t, 2, inv.Remaining)
}

func TestReserve_ConcurrentLoadKeepsInvariants(t *testing.T) {
	f := newFixture(t, 10*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Arena", 12)
	a := pgtest.SeedTicketType(t, f.pool, eventID, "A", "10.00", 8)
	b := pgtest.SeedTicketType(t, f.pool, eventID, "B", "10.00", 8)

	const workers = 20
	var (
		mu        sync.Mutex
		succeeded int
		fns       []func()
	)
	for i := range workers {
		// Half the workers list the ticket types in the opposite order.
		items := []model.LineItem{item(a, 1), item(b, 1)}
		if i%2 == 1 {
			items = []model.LineItem{item(b, 1), item(a, 1)}
		}
		actor := model.Actor{ID: "user-" + string(rune('a'+i)), Role: model.RoleAttendee}
		fns = append(fns, func() {
			_, err := f.svc.Reserve(ctx, actor, reserveReq(eventID, items...))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.True(t,
				model.Code(err) == "CAPACITY_EXCEEDED" || model.Code(err) == "INSUFFICIENT_INVENTORY",
				"unexpected error: %v", err)
		})
	}
	runConcurrently(fns...)

	// Capacity 12 allows six bookings of two tickets each.
	assert.Equal(t, 6, succeeded)
	availA, soldA := pgtest.Counters(t, f.pool, a)
	availB, soldB := pgtest.Counters(t, f.pool, b)
	assert.Equal(t, 8, availA+soldA)
	assert.Equal(t, 8, availB+soldB)
	assert.Equal(t, 12, soldA+soldB)
}

func TestReserve_CancelThenRebook(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Duo", 2)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "30.00", 2)

	first, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 2)))
	require.NoError(t, err)
	assertCounters(t, f.pool, tt, 0, 2)

	_, err = f.svc.Reserve(ctx, bob, reserveReq(eventID, item(tt, 2)))
	assert.ErrorIs(t, err, model.ErrInsufficientInventory)

	cancelled, err := f.svc.Cancel(ctx, alice, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Status)
	assertCounters(t, f.pool, tt, 2, 0)

	_, err = f.svc.Reserve(ctx, bob, reserveReq(eventID, item(tt, 2)))
	require.NoError(t, err)
	assertCounters(t, f.pool, tt, 0, 2)
}

func TestReserve_CrossEventMismatchWritesNothing(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	e1 := pgtest.SeedEvent(t, f.pool, "One", 10)
	t1 := pgtest.SeedTicketType(t, f.pool, e1, "GA", "10.00", 5)
	e2 := pgtest.SeedEvent(t, f.pool, "Two", 10)
	t2 := pgtest.SeedTicketType(t, f.pool, e2, "GA", "10.00", 5)

	_, err := f.svc.Reserve(ctx, alice, reserveReq(e1, item(t1, 1), item(t2, 1)))
	assert.ErrorIs(t, err, model.ErrCrossEventMismatch)
	assert.Equal(t, 0, pgtest.Count(t, f.pool, "bookings"))
	assertCounters(t, f.pool, t1, 5, 0)
	assertCounters(t, f.pool, t2, 5, 0)
}

func TestReserve_ExceedsAvailabilityByOne(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Show", 100)
	ga := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 10)
	vip := pgtest.SeedTicketType(t, f.pool, eventID, "VIP", "50.00", 3)

	_, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(ga, 2), item(vip, 4)))
	var inv *model.InsufficientInventoryError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, vip, inv.TicketTypeID)
	assert.Equal(t, "VIP", inv.Name)

	// No partial decrement of the item that did fit.
	assertCounters(t, f.pool, ga, 10, 0)
	assertCounters(t, f.pool, vip, 3, 0)
	assert.Equal(t, 0, pgtest.Count(t, f.pool, "booking_outbox"))
}

func TestReserve_Rejections(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Rules", 3)
	ga := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 10)
	retired := pgtest.SeedTicketType(t, f.pool, eventID, "Retired", "10.00", 10)
	require.NoError(t, f.repos.TicketTypes.SetActive(ctx, retired, false))

	tests := []struct {
		name    string
		actor   model.Actor
		req     model.CreateBookingRequest
		wantErr error
	}{
		{"empty items", alice, reserveReq(eventID), model.ErrInvalidRequest},
		{"zero quantity", alice, reserveReq(eventID, item(ga, 0)), model.ErrInvalidRequest},
		{"missing actor", model.Actor{}, reserveReq(eventID, item(ga, 1)), model.ErrInvalidRequest},
		{"duplicate line item", alice, reserveReq(eventID, item(ga, 1), item(ga, 1)), model.ErrDuplicateLineItem},
		{"unknown ticket type", alice, reserveReq(eventID, item(999, 1)), model.ErrInvalidTicketType},
		{"inactive ticket type", alice, reserveReq(eventID, item(retired, 1)), model.ErrInvalidTicketType},
		{"unknown event", alice, reserveReq(999, item(ga, 1)), model.ErrCrossEventMismatch},
		{"unknown event and ticket type", alice, reserveReq(999, item(998, 1)), model.ErrInvalidTicketType},
		{"duplicate with unknown ticket type", alice, reserveReq(eventID, item(ga, 1), item(ga, 1), item(999, 1)), model.ErrInvalidTicketType},
		{"capacity exceeded", alice, reserveReq(eventID, item(ga, 4)), model.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Reserve(ctx, tt.actor, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 0, pgtest.Count(t, f.pool, "bookings"))
	assertCounters(t, f.pool, ga, 10, 0)
}

func TestReserve_LockTimeoutIsBusyAndRetryable(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Hot", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 5)

	holder, err := f.pool.Begin(ctx)
	require.NoError(t, err)
	_, err = f.repos.TicketTypes.LockByIDsTx(ctx, holder, []int64{tt})
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 1)))
	assert.ErrorIs(t, err, model.ErrBusy)
	assertCounters(t, f.pool, tt, 5, 0)

	require.NoError(t, holder.Rollback(ctx))

	_, err = f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 1)))
	require.NoError(t, err)
	assertCounters(t, f.pool, tt, 4, 1)
}

func TestCancel_RoundTrip(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Round", 50)
	ga := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 20)
	vip := pgtest.SeedTicketType(t, f.pool, eventID, "VIP", "40.00", 5)

	_, err := f.svc.Reserve(ctx, bob, reserveReq(eventID, item(ga, 1)))
	require.NoError(t, err)
	assertCounters(t, f.pool, ga, 19, 1)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(ga, 7), item(vip, 2)))
	require.NoError(t, err)
	assertCounters(t, f.pool, ga, 12, 8)
	assertCounters(t, f.pool, vip, 3, 2)

	_, err = f.svc.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)
	assertCounters(t, f.pool, ga, 19, 1)
	assertCounters(t, f.pool, vip, 5, 0)
	assert.Equal(t, 3, pgtest.Count(t, f.pool, "booking_outbox"))
}

func TestCancel_TwiceFailsWithoutDoubleRelease(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Twice", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 5)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 2)))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, alice, b.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyCancelled)
	assertCounters(t, f.pool, tt, 5, 0)
}

func TestCancel_ConcurrentCancelsReleaseOnce(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Race", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 5)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 3)))
	require.NoError(t, err)

	errs := make([]error, 3)
	runConcurrently(
		func() { _, errs[0] = f.svc.Cancel(ctx, alice, b.ID) },
		func() { _, errs[1] = f.svc.Cancel(ctx, alice, b.ID) },
		func() { _, errs[2] = f.svc.Cancel(ctx, alice, b.ID) },
	)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadyCancelled)
	}
	assert.Equal(t, 1, succeeded)
	assertCounters(t, f.pool, tt, 5, 0)
}

func TestCancel_Rejections(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Guard", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 5)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 1)))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, bob, b.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Cancel(ctx, alice, 424242)
	assert.ErrorIs(t, err, model.ErrNotFound)

	pending := &model.Booking{UserID: alice.ID, EventID: eventID, Status: model.BookingStatusPending,
		Items: []model.BookingItem{{TicketTypeID: tt, Quantity: 1}}}
	require.NoError(t, f.repos.Store.InTx(ctx, func(tx pgx.Tx) error {
		return f.repos.Bookings.CreateTx(ctx, tx, pending)
	}))
	_, err = f.svc.Cancel(ctx, alice, pending.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	// Neither rejection touched inventory.
	assertCounters(t, f.pool, tt, 4, 1)
}

func TestCancel_ReleasesToInactiveTicketType(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Retire", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "10.00", 5)

	b, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 2)))
	require.NoError(t, err)
	require.NoError(t, f.repos.TicketTypes.SetActive(ctx, tt, false))

	_, err = f.svc.Cancel(ctx, alice, b.ID)
	require.NoError(t, err)
	assertCounters(t, f.pool, tt, 5, 0)
}

func TestReadModels(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()

	eventID := pgtest.SeedEvent(t, f.pool, "Reads", 10)
	tt := pgtest.SeedTicketType(t, f.pool, eventID, "GA", "12.50", 5)

	first, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 2)))
	require.NoError(t, err)
	second, err := f.svc.Reserve(ctx, alice, reserveReq(eventID, item(tt, 1)))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, alice, first.ID)
	require.NoError(t, err)

	list, err := f.svc.ListOwn(ctx, alice, model.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, model.BookingStatusCancelled, list[1].Status)

	status := model.BookingStatusConfirmed
	confirmed, err := f.svc.ListOwn(ctx, alice, model.BookingFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "12.5", confirmed[0].Total.String())

	empty, err := f.svc.ListOwn(ctx, bob, model.BookingFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	bad := model.BookingStatus("refunded")
	_, err = f.svc.ListOwn(ctx, alice, model.BookingFilter{Status: &bad})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = f.svc.GetOwn(ctx, bob, second.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	inv, err := f.svc.EventInventory(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.TotalSold)
	assert.Equal(t, 9, inv.Remaining)
	require.Len(t, inv.TicketTypes, 1)
	assert.Equal(t, 4, inv.TicketTypes[0].QuantityAvailable)

	_, err = f.svc.EventInventory(ctx, 999)
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

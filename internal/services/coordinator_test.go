package services

import (
	"context"
	"sync"
	"testing"

	"github.com/openlift/carpool-backend/internal/logging"
	"github.com/openlift/carpool-backend/internal/models"
	"github.com/openlift/carpool-backend/internal/observability"
	"github.com/openlift/carpool-backend/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func gormModel(id uint) gorm.Model {
	return gorm.Model{ID: id}
}

// fakeBus records published envelopes so tests can assert on the
// persist-then-publish sequence without a live hub.
type fakeBus struct {
	mu         sync.Mutex
	ride       []Envelope
	user       map[uint][]Envelope
	global     []Envelope
	restricted [][]uint
}

func newFakeBus() *fakeBus {
	return &fakeBus{user: make(map[uint][]Envelope)}
}

func (b *fakeBus) PublishToRide(rideID uint, env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ride = append(b.ride, env)
}

func (b *fakeBus) PublishToRideExcept(rideID uint, skip *Client, env Envelope) {
	b.PublishToRide(rideID, env)
}

func (b *fakeBus) PublishToUser(userID uint, env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user[userID] = append(b.user[userID], env)
}

func (b *fakeBus) PublishToAll(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, env)
}

func (b *fakeBus) RestrictRoom(rideID uint, allowed ...uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restricted = append(b.restricted, allowed)
}

func (b *fakeBus) rideEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var types []string
	for _, env := range b.ride {
		types = append(types, env.Type)
	}
	return types
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.MemoryRideStore, *fakeBus) {
	t.Helper()
	rides := store.NewMemoryRideStore()
	rides.PutUser(&models.User{Model: gormModel(1), Username: "dawn", PhoneNumber: "0700111222"})
	rides.PutUser(&models.User{Model: gormModel(2), Username: "ramy"})
	rides.PutUser(&models.User{Model: gormModel(3), Username: "beth", PhoneNumber: "0700999888"})
	bus := newFakeBus()
	return NewCoordinator(rides, bus, logging.NewLogger("error")), rides, bus
}

func createWaitingRide(t *testing.T, co *Coordinator, driverID uint) *models.Ride {
	t.Helper()
	ride, err := co.Create(context.Background(), driverID, CreateRideInput{
		Pickup: "A",
		Drop:   "B",
	})
	require.NoError(t, err)
	require.Equal(t, models.RideStatusWaiting, ride.Status)
	return ride
}

func TestCreateValidatesItinerary(t *testing.T) {
	co, _, _ := newTestCoordinator(t)

	_, err := co.Create(context.Background(), 1, CreateRideInput{Pickup: "A"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = co.Create(context.Background(), 1, CreateRideInput{Pickup: "A", Drop: "B", AvailableSeats: -2})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateAnnouncesRide(t *testing.T) {
	co, _, bus := newTestCoordinator(t)
	createWaitingRide(t, co, 1)

	require.Len(t, bus.global, 1)
	assert.Equal(t, EventRideCreated, bus.global[0].Type)
	summary, ok := bus.global[0].Data.(RideSummary)
	require.True(t, ok)
	assert.Equal(t, "dawn", summary.DriverName)
}

func TestConcurrentJoinsOneWinner(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	const joiners = 16
	var wg sync.WaitGroup
	results := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		riderID := uint(i + 2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := co.Join(context.Background(), riderID, ride.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrRideNotAvailable)
		losses++
	}
	assert.Equal(t, 1, wins, "exactly one join must win")
	assert.Equal(t, joiners-1, losses)

	updated, _, err := co.Get(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusMatched, updated.Status)
	require.NotNil(t, updated.MatchedUserID)
}

func TestJoinRestrictsRoomToParticipants(t *testing.T) {
	co, _, bus := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	require.Len(t, bus.restricted, 1)
	assert.ElementsMatch(t, []uint{1, 2}, bus.restricted[0])
}

func TestJoinReplayFailsCleanly(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	// A replay, from the winner or anyone else, must never re-assign the
	// rider.
	_, err = co.Join(context.Background(), 2, ride.ID)
	assert.ErrorIs(t, err, ErrRideNotAvailable)
	_, err = co.Join(context.Background(), 3, ride.ID)
	assert.ErrorIs(t, err, ErrRideNotAvailable)

	updated, _, err := co.Get(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(2), *updated.MatchedUserID)
}

func TestDriverCannotJoinOwnRide(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAcceptOnlyByDriverFromMatched(t *testing.T) {
	co, _, bus := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	// Not matched yet.
	_, err := co.Accept(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrRideNotAvailable)

	_, err = co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	// Wrong actor.
	_, err = co.Accept(context.Background(), 2, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = co.Accept(context.Background(), 3, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	confirmed, err := co.Accept(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusConfirmed, confirmed.Status)

	// The decision event carries both identities and contact numbers, with
	// a missing phone reported explicitly.
	require.NotEmpty(t, bus.ride)
	last := bus.ride[len(bus.ride)-1]
	require.Equal(t, EventRideAccepted, last.Type)
	decision := last.Data.(RideDecision)
	assert.Equal(t, "dawn", decision.DriverName)
	assert.Equal(t, "0700111222", decision.DriverPhone)
	assert.Equal(t, "ramy", decision.RiderName)
	assert.Equal(t, "Not available", decision.RiderPhone)

	// The requester gets a direct copy of the same envelope, and the driver
	// got a direct copy of the join, each deduplicable by envelope id.
	require.Len(t, bus.user[2], 1)
	assert.Equal(t, last.ID, bus.user[2][0].ID)
	require.Len(t, bus.user[1], 1)
	assert.Equal(t, EventRideJoined, bus.user[1][0].Type)
}

func TestDeclineReturnsRideToPool(t *testing.T) {
	co, _, bus := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	released, err := co.Decline(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusWaiting, released.Status)
	assert.Nil(t, released.MatchedUserID)
	assert.Contains(t, bus.rideEvents(), EventRideDeclined)

	// Back in the open pool.
	waiting, err := co.ListWaiting(context.Background())
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	// And claimable again.
	_, err = co.Join(context.Background(), 3, ride.ID)
	assert.NoError(t, err)
}

func TestRiderDropOutRevertsToWaiting(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)
	_, err = co.Accept(context.Background(), 1, ride.ID)
	require.NoError(t, err)

	// Rider cancelling a confirmed ride releases it, not cancels it.
	released, err := co.Cancel(context.Background(), 2, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusWaiting, released.Status)
	assert.Nil(t, released.MatchedUserID)
}

func TestDropOutCountedSeparatelyFromDecline(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)
	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	declines := testutil.ToFloat64(observability.HandshakeDecisionsTotal.WithLabelValues("decline"))
	dropouts := testutil.ToFloat64(observability.HandshakeDecisionsTotal.WithLabelValues("dropout"))

	_, err = co.Cancel(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	assert.Equal(t, dropouts+1, testutil.ToFloat64(observability.HandshakeDecisionsTotal.WithLabelValues("dropout")))
	assert.Equal(t, declines, testutil.ToFloat64(observability.HandshakeDecisionsTotal.WithLabelValues("decline")))
}

func TestDriverCancelIsTerminal(t *testing.T) {
	co, _, bus := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	cancelled, err := co.Cancel(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, cancelled.Status)
	assert.Contains(t, bus.rideEvents(), EventRideCancelled)

	// Gone from the open pool but still in both histories.
	waiting, err := co.ListWaiting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, waiting)

	history, err := co.ListForUser(context.Background(), 2, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RideStatusCancelled, history[0].Status)

	// No further transitions.
	_, err = co.Finish(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = co.Cancel(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelByStrangerForbidden(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Cancel(context.Background(), 42, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFinishGuards(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	// Finishing from waiting is rejected.
	_, err := co.Finish(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	// A stranger cannot finish.
	_, err = co.Finish(context.Background(), 9, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The matched rider can.
	done, err := co.Finish(context.Background(), 2, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	// Terminal: no second finish.
	_, err = co.Finish(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartRequiresConfirmed(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	_, err = co.Start(context.Background(), 1, ride.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = co.Accept(context.Background(), 1, ride.ID)
	require.NoError(t, err)

	_, err = co.Start(context.Background(), 2, ride.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	active, err := co.Start(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusActive, active.Status)
}

func TestRatingRules(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)

	// Only completed rides can be rated.
	_, err = co.Rate(context.Background(), 2, ride.ID, 5, "great")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = co.Finish(context.Background(), 1, ride.ID)
	require.NoError(t, err)

	// Score bounds.
	_, err = co.Rate(context.Background(), 2, ride.ID, 0, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = co.Rate(context.Background(), 2, ride.ID, 6, "")
	assert.ErrorIs(t, err, ErrValidation)

	// Strangers cannot rate.
	_, err = co.Rate(context.Background(), 9, ride.ID, 5, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Rider rates the driver, once.
	rated, err := co.Rate(context.Background(), 2, ride.ID, 5, "smooth ride")
	require.NoError(t, err)
	require.NotNil(t, rated.DriverRating)
	assert.Equal(t, 5, *rated.DriverRating)

	_, err = co.Rate(context.Background(), 2, ride.ID, 4, "second thoughts")
	assert.ErrorIs(t, err, ErrAlreadyRated)
}

func TestFullLifecycleRoundTrip(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	ride := createWaitingRide(t, co, 1)

	_, err := co.Join(context.Background(), 2, ride.ID)
	require.NoError(t, err)
	_, err = co.Accept(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	_, err = co.Start(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	_, err = co.Finish(context.Background(), 1, ride.ID)
	require.NoError(t, err)
	_, err = co.Rate(context.Background(), 2, ride.ID, 5, "great driver")
	require.NoError(t, err)
	final, err := co.Rate(context.Background(), 1, ride.ID, 4, "good passenger")
	require.NoError(t, err)

	assert.Equal(t, models.RideStatusCompleted, final.Status)
	require.NotNil(t, final.DriverRating)
	require.NotNil(t, final.RiderRating)
	assert.Equal(t, 5, *final.DriverRating)
	assert.Equal(t, 4, *final.RiderRating)
	assert.NotNil(t, final.CompletedAt)
}

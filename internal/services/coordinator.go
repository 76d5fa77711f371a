package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlift/carpool-backend/internal/models"
	"github.com/openlift/carpool-backend/internal/observability"
	"github.com/openlift/carpool-backend/internal/store"
)

var (
	// ErrRideNotAvailable means a join or decision lost the race for the
	// expected status. The caller re-fetches to learn the true state.
	ErrRideNotAvailable = errors.New("ride is not available")
	// ErrForbidden means the actor is not a party to the ride, or not the
	// party this transition requires.
	ErrForbidden = errors.New("not authorized for this ride")
	// ErrInvalidTransition means the ride's current status does not permit
	// the requested operation.
	ErrInvalidTransition = errors.New("invalid ride status for this operation")
	// ErrAlreadyRated means this role has already submitted its rating.
	ErrAlreadyRated = errors.New("ride already rated")
	// ErrValidation flags malformed input.
	ErrValidation = errors.New("invalid input")
)

// CreateRideInput is the driver's ride offer.
type CreateRideInput struct {
	Pickup         string     `json:"pickup"`
	Drop           string     `json:"drop"`
	Stops          []string   `json:"stops"`
	Fare           *float64   `json:"fare"`
	DepartureTime  *time.Time `json:"departureTime"`
	VehicleInfo    string     `json:"vehicleInfo"`
	AvailableSeats int        `json:"availableSeats"`
}

// Coordinator sequences the join→accept/decline handshake and the rest of
// the ride lifecycle. Every mutation persists through the store before
// anything is published; the bus is a notification mechanism, never the
// source of truth, so a lost delivery can never leave a ride inconsistent.
type Coordinator struct {
	store store.RideStore
	bus   Publisher
	log   *slog.Logger
}

func NewCoordinator(rides store.RideStore, bus Publisher, log *slog.Logger) *Coordinator {
	return &Coordinator{store: rides, bus: bus, log: log}
}

// Create opens a new ride offer in the waiting pool and announces it.
func (co *Coordinator) Create(ctx context.Context, driverID uint, in CreateRideInput) (*models.Ride, error) {
	if in.Pickup == "" || in.Drop == "" {
		return nil, fmt.Errorf("%w: pickup and drop locations are required", ErrValidation)
	}
	seats := in.AvailableSeats
	if seats == 0 {
		seats = 1
	}
	if seats < 1 {
		return nil, fmt.Errorf("%w: availableSeats must be at least 1", ErrValidation)
	}

	ride := &models.Ride{
		DriverID:       driverID,
		Pickup:         in.Pickup,
		Drop:           in.Drop,
		Stops:          in.Stops,
		Fare:           in.Fare,
		DepartureTime:  in.DepartureTime,
		VehicleInfo:    in.VehicleInfo,
		AvailableSeats: seats,
		Status:         models.RideStatusWaiting,
	}
	if err := co.store.Create(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreatedTotal.Inc()

	created, err := co.store.GetByID(ctx, ride.ID)
	if err != nil {
		created = ride
	}
	co.publishAll(ctx, NewEnvelope(EventRideCreated, ride.ID, SummaryOf(created)))
	return created, nil
}

// Join claims a waiting ride for the rider. The conditional update is the
// source of truth: of N concurrent joiners exactly one wins, the rest get
// ErrRideNotAvailable. Replays against an already matched or confirmed ride
// fail the same way and never re-assign the rider.
func (co *Coordinator) Join(ctx context.Context, riderID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.DriverID == riderID {
		return nil, fmt.Errorf("%w: drivers cannot join their own ride", ErrForbidden)
	}

	ride, err := co.store.ConditionalUpdate(ctx, rideID, models.RideStatusWaiting, store.Patch{
		"status":          models.RideStatusMatched,
		"matched_user_id": riderID,
	})
	if errors.Is(err, store.ErrConflict) {
		observability.JoinAttemptsTotal.WithLabelValues("conflict").Inc()
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		observability.JoinAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.JoinAttemptsTotal.WithLabelValues("matched").Inc()

	// The ride has left the open pool: evict every watcher who is not a
	// participant before anything else is published on the room.
	co.bus.RestrictRoom(ride.ID, ride.DriverID, riderID)

	joined := RideJoined{
		RideID: ride.ID,
		Pickup: ride.Pickup,
		Drop:   ride.Drop,
	}
	if ride.Rider != nil {
		joined.RiderID = ride.Rider.ID
		joined.RiderName = ride.Rider.Username
	}
	env := NewEnvelope(EventRideJoined, ride.ID, joined)
	co.publishRide(ctx, env)
	// Direct copy to the driver in case they have not subscribed to their
	// own ride's room yet. Same envelope id, so clients can deduplicate.
	co.bus.PublishToUser(ride.DriverID, env)
	return ride, nil
}

// Accept is the driver confirming the pending claim. The published decision
// carries both display names and contact numbers so each side can render a
// direct-contact link.
func (co *Coordinator) Accept(ctx context.Context, driverID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.DriverID != driverID {
		return nil, ErrForbidden
	}
	if !current.Status.CanAccept() {
		return nil, ErrRideNotAvailable
	}

	ride, err := co.store.ConditionalUpdate(ctx, rideID, models.RideStatusMatched, store.Patch{
		"status": models.RideStatusConfirmed,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		return nil, err
	}
	observability.HandshakeDecisionsTotal.WithLabelValues("accept").Inc()

	env := NewEnvelope(EventRideAccepted, ride.ID, co.decisionOf(ride))
	co.publishRide(ctx, env)
	if ride.MatchedUserID != nil {
		// The original requester must learn the outcome even if it is not
		// in the room at publish time.
		co.bus.PublishToUser(*ride.MatchedUserID, env)
	}
	return ride, nil
}

// Decline is the driver releasing the pending claim back to the open pool.
func (co *Coordinator) Decline(ctx context.Context, driverID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.DriverID != driverID {
		return nil, ErrForbidden
	}
	if !current.Status.CanRelease() {
		return nil, ErrInvalidTransition
	}
	return co.release(ctx, current, models.RoleDriver)
}

// release reverts a matched or confirmed ride to waiting, clearing the
// rider. Shared by the driver's decline and the rider's drop-out.
func (co *Coordinator) release(ctx context.Context, current *models.Ride, actedBy models.RideRole) (*models.Ride, error) {
	riderID := current.MatchedUserID

	ride, err := co.store.ConditionalUpdate(ctx, current.ID, current.Status, store.Patch{
		"status":          models.RideStatusWaiting,
		"matched_user_id": nil,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		return nil, err
	}
	decision := "decline"
	if actedBy == models.RoleRider {
		decision = "dropout"
	}
	observability.HandshakeDecisionsTotal.WithLabelValues(decision).Inc()

	env := NewEnvelope(EventRideDeclined, ride.ID, RideClosed{
		RideID:  ride.ID,
		Status:  ride.Status,
		ActedBy: actedBy,
		Message: "The ride is back in the open pool",
	})
	co.publishRide(ctx, env)
	if riderID != nil {
		co.bus.PublishToUser(*riderID, env)
	}
	return ride, nil
}

// Cancel handles both cancellation flavors: the driver fully cancels the
// ride (terminal), a matched rider drops out (ride reverts to waiting).
func (co *Coordinator) Cancel(ctx context.Context, actorID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}

	switch current.RoleOf(actorID) {
	case models.RoleDriver:
		if !current.Status.CanCancel() {
			return nil, fmt.Errorf("%w: cannot cancel a %s ride", ErrInvalidTransition, current.Status)
		}
		ride, err := co.store.ConditionalUpdate(ctx, rideID, current.Status, store.Patch{
			"status": models.RideStatusCancelled,
		})
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrRideNotAvailable
		}
		if err != nil {
			return nil, err
		}
		co.publishRide(ctx, NewEnvelope(EventRideCancelled, ride.ID, RideClosed{
			RideID:  ride.ID,
			Status:  ride.Status,
			ActedBy: models.RoleDriver,
			Message: "The driver cancelled the ride",
		}))
		return ride, nil

	case models.RoleRider:
		if !current.Status.CanRelease() {
			return nil, fmt.Errorf("%w: cannot drop out of a %s ride", ErrInvalidTransition, current.Status)
		}
		return co.release(ctx, current, models.RoleRider)

	default:
		return nil, ErrForbidden
	}
}

// Start moves a confirmed ride to active. Driver only.
func (co *Coordinator) Start(ctx context.Context, driverID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if current.RoleOf(driverID) != models.RoleDriver {
		return nil, ErrForbidden
	}
	if !current.Status.CanStart() {
		return nil, ErrInvalidTransition
	}

	ride, err := co.store.ConditionalUpdate(ctx, rideID, models.RideStatusConfirmed, store.Patch{
		"status": models.RideStatusActive,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		return nil, err
	}
	co.publishRide(ctx, NewEnvelope(EventRideStarted, ride.ID, RideClosed{
		RideID:  ride.ID,
		Status:  ride.Status,
		ActedBy: models.RoleDriver,
		Message: "The ride is underway",
	}))
	return ride, nil
}

// Finish completes the ride. Either participant may finish; finishing from
// waiting or an already terminal state is rejected.
func (co *Coordinator) Finish(ctx context.Context, actorID, rideID uint) (*models.Ride, error) {
	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	role := current.RoleOf(actorID)
	if role == models.RoleNone {
		return nil, ErrForbidden
	}
	if !current.Status.CanFinish() {
		return nil, fmt.Errorf("%w: cannot finish a %s ride", ErrInvalidTransition, current.Status)
	}

	now := time.Now().UTC()
	ride, err := co.store.ConditionalUpdate(ctx, rideID, current.Status, store.Patch{
		"status":       models.RideStatusCompleted,
		"completed_at": now,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrRideNotAvailable
	}
	if err != nil {
		return nil, err
	}
	co.publishRide(ctx, NewEnvelope(EventRideCompleted, ride.ID, RideClosed{
		RideID:  ride.ID,
		Status:  ride.Status,
		ActedBy: role,
		Message: "The ride has been completed",
	}))
	return ride, nil
}

// Rate records a one-sided rating. Only a participant, only while the ride
// is completed, and at most once per role.
func (co *Coordinator) Rate(ctx context.Context, actorID, rideID uint, rating int, comment string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	current, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	role := current.RoleOf(actorID)
	if role == models.RoleNone {
		return nil, ErrForbidden
	}
	if current.Status != models.RideStatusCompleted {
		return nil, fmt.Errorf("%w: can only rate completed rides", ErrInvalidTransition)
	}
	if current.RatedBy(role) {
		return nil, ErrAlreadyRated
	}

	now := time.Now().UTC()
	var patch store.Patch
	if role == models.RoleRider {
		patch = store.Patch{
			"driver_rating":         rating,
			"driver_rating_comment": comment,
			"driver_rated_at":       now,
		}
	} else {
		patch = store.Patch{
			"rider_rating":         rating,
			"rider_rating_comment": comment,
			"rider_rated_at":       now,
		}
	}

	ride, err := co.store.ConditionalUpdate(ctx, rideID, models.RideStatusCompleted, patch)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: can only rate completed rides", ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}
	co.publishRide(ctx, NewEnvelope(EventRideRated, ride.ID, RideRated{
		RideID:  ride.ID,
		Rating:  rating,
		RatedBy: role,
	}))
	return ride, nil
}

// Get returns the ride for the caller, with contact details present only
// for its participants.
func (co *Coordinator) Get(ctx context.Context, actorID, rideID uint) (*models.Ride, models.RideRole, error) {
	ride, err := co.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, models.RoleNone, err
	}
	return ride, ride.RoleOf(actorID), nil
}

// ListWaiting returns the open pool.
func (co *Coordinator) ListWaiting(ctx context.Context) ([]models.Ride, error) {
	return co.store.ListWaiting(ctx)
}

// ListForUser returns the caller's rides with an optional status filter.
func (co *Coordinator) ListForUser(ctx context.Context, userID uint, status models.RideStatus) ([]models.Ride, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return co.store.ListByParticipant(ctx, userID, status)
}

func (co *Coordinator) decisionOf(ride *models.Ride) RideDecision {
	decision := RideDecision{
		RideID: ride.ID,
		Status: ride.Status,
	}
	if ride.Driver != nil {
		decision.DriverName = ride.Driver.Username
		decision.DriverPhone = ride.Driver.ContactPhone()
	}
	if ride.Rider != nil {
		decision.RiderName = ride.Rider.Username
		decision.RiderPhone = ride.Rider.ContactPhone()
	}
	return decision
}

// publishRide fans an envelope out to the ride's room and mirrors it to
// Redis. Delivery failures are logged and swallowed: the persisted state is
// authoritative and clients reconcile by re-fetching.
func (co *Coordinator) publishRide(ctx context.Context, env Envelope) {
	co.bus.PublishToRide(env.RideID, env)
	if err := PublishRideEvent(ctx, env); err != nil {
		co.log.Warn("redis event mirror failed", "type", env.Type, "rideId", env.RideID, "error", err)
	}
}

func (co *Coordinator) publishAll(ctx context.Context, env Envelope) {
	co.bus.PublishToAll(env)
	if err := PublishRideEvent(ctx, env); err != nil {
		co.log.Warn("redis event mirror failed", "type", env.Type, "rideId", env.RideID, "error", err)
	}
}

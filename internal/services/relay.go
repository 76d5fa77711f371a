package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlift/carpool-backend/internal/models"
	"github.com/openlift/carpool-backend/internal/observability"
	"github.com/openlift/carpool-backend/internal/store"
	"github.com/openlift/carpool-backend/pkg/utils"
)

// Relay forwards position reports between the two participants of a live
// ride. The stream is transient and best-effort: nothing is persisted beyond
// a last-known-position cache, and stale reports are simply superseded.
type Relay struct {
	store store.RideStore
	bus   Publisher
	log   *slog.Logger
}

func NewRelay(rides store.RideStore, bus Publisher, log *slog.Logger) *Relay {
	return &Relay{store: rides, bus: bus, log: log}
}

// locationReport is the client-supplied portion of a location update. The
// sender's role is resolved server-side, never trusted from the payload.
type locationReport struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp *time.Time `json:"timestamp"`
}

// HandleReport validates a position report from a connected participant and
// broadcasts it to the other subscribers of the ride, tagged with the
// sender's role.
func (rl *Relay) HandleReport(ctx context.Context, sender *Client, rideID uint, raw json.RawMessage) error {
	var report locationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return fmt.Errorf("%w: malformed location report", ErrValidation)
	}
	if !utils.ValidLatitude(report.Lat) {
		return fmt.Errorf("%w: invalid latitude", ErrValidation)
	}
	if !utils.ValidLongitude(report.Lng) {
		return fmt.Errorf("%w: invalid longitude", ErrValidation)
	}

	ride, err := rl.store.GetByID(ctx, rideID)
	if err != nil {
		return err
	}
	role := ride.RoleOf(sender.ID)
	if role == models.RoleNone {
		return ErrForbidden
	}
	if !ride.Status.HasLiveParticipants() {
		return fmt.Errorf("%w: ride is not live", ErrInvalidTransition)
	}

	ts := time.Now().UTC()
	if report.Timestamp != nil {
		ts = *report.Timestamp
	}
	update := LocationUpdate{
		RideID:    rideID,
		Role:      role,
		Lat:       report.Lat,
		Lng:       report.Lng,
		Timestamp: ts,
	}

	rl.bus.PublishToRideExcept(rideID, sender, NewEnvelope(EventLocationUpdate, rideID, update))
	observability.LocationUpdatesTotal.Inc()

	if err := SetLastLocation(ctx, update); err != nil {
		rl.log.Warn("location cache write failed", "rideId", rideID, "error", err)
	}
	return nil
}

// LastKnown returns the cached counterpart position for a participant, if
// one exists. Used to prime a freshly reconnected client.
func (rl *Relay) LastKnown(ctx context.Context, actorID, rideID uint) (*LocationUpdate, error) {
	ride, err := rl.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	role := ride.RoleOf(actorID)
	if role == models.RoleNone {
		return nil, ErrForbidden
	}
	counterpart := models.RoleDriver
	if role == models.RoleDriver {
		counterpart = models.RoleRider
	}
	return GetLastLocation(ctx, rideID, counterpart)
}

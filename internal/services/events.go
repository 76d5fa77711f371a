package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/openlift/carpool-backend/internal/models"
)

// Event types carried on the real-time channel. Every payload is
// self-contained: it names the ride and enough context to render without a
// follow-up fetch, because delivery order across distinct rides is not
// guaranteed.
const (
	EventRideCreated    = "ride-created"
	EventRideJoined     = "ride-joined"
	EventRideAccepted   = "ride-accepted"
	EventRideDeclined   = "ride-declined"
	EventRideStarted    = "ride-started"
	EventRideCancelled  = "ride-cancelled"
	EventRideCompleted  = "ride-completed"
	EventRideRated      = "ride-rated"
	EventLocationUpdate = "location-update"
	EventAck            = "ack"

	// Inbound-only message types.
	MsgSubscribeRide   = "subscribe-ride"
	MsgUnsubscribeRide = "unsubscribe-ride"
	MsgRideJoinedAck   = "ride-joined-ack"
)

// Envelope is the wire frame for every outbound event. The id lets a client
// that receives the same event on two paths (ride room and direct delivery)
// deduplicate.
type Envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	RideID    uint        `json:"rideId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEnvelope stamps a fresh event envelope.
func NewEnvelope(eventType string, rideID uint, data interface{}) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		RideID:    rideID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// InboundMessage is what a connected client sends over the socket. Identity
// is never taken from the payload; it comes from the authenticated
// connection.
type InboundMessage struct {
	Type   string          `json:"type"`
	RideID uint            `json:"rideId,omitempty"`
	AckID  string          `json:"ackId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RideSummary echoes the basics a client needs to render a ride card.
type RideSummary struct {
	RideID         uint              `json:"rideId"`
	DriverID       uint              `json:"driverId"`
	DriverName     string            `json:"driverName"`
	Pickup         string            `json:"pickup"`
	Drop           string            `json:"drop"`
	Stops          []string          `json:"stops,omitempty"`
	Fare           *float64          `json:"fare,omitempty"`
	DepartureTime  *time.Time        `json:"departureTime,omitempty"`
	VehicleInfo    string            `json:"vehicleInfo,omitempty"`
	AvailableSeats int               `json:"availableSeats"`
	Status         models.RideStatus `json:"status"`
}

// RideJoined notifies the driver that a rider requested to join.
type RideJoined struct {
	RideID    uint   `json:"rideId"`
	RiderID   uint   `json:"riderId"`
	RiderName string `json:"riderName"`
	Pickup    string `json:"pickup"`
	Drop      string `json:"drop"`
}

// RideDecision carries the outcome of the driver's accept/decline choice.
// Phone numbers are resolved from the account records; an account without
// one reports "Not available".
type RideDecision struct {
	RideID      uint              `json:"rideId"`
	Status      models.RideStatus `json:"status"`
	DriverName  string            `json:"driverName"`
	RiderName   string            `json:"riderName,omitempty"`
	DriverPhone string            `json:"driverPhone,omitempty"`
	RiderPhone  string            `json:"riderPhone,omitempty"`
}

// RideClosed reports a terminal or releasing transition.
type RideClosed struct {
	RideID  uint              `json:"rideId"`
	Status  models.RideStatus `json:"status"`
	ActedBy models.RideRole   `json:"actedBy"`
	Message string            `json:"message,omitempty"`
}

// RideRated reports a submitted rating to the counterpart.
type RideRated struct {
	RideID  uint            `json:"rideId"`
	Rating  int             `json:"rating"`
	RatedBy models.RideRole `json:"ratedBy"`
}

// LocationUpdate is a transient position report, tagged with the sender's
// role so the receiver can tell its counterpart's position from its own
// echo. Last write wins; nothing is persisted.
type LocationUpdate struct {
	RideID    uint            `json:"rideId"`
	Role      models.RideRole `json:"role"`
	Lat       float64         `json:"lat"`
	Lng       float64         `json:"lng"`
	Timestamp time.Time       `json:"timestamp"`
}

// Ack answers an inbound message that carried an ackId. Clients that never
// see the ack within their wait window reconcile with a plain ride re-fetch.
type Ack struct {
	AckID string `json:"ackId"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SummaryOf flattens a ride into its announce payload.
func SummaryOf(ride *models.Ride) RideSummary {
	summary := RideSummary{
		RideID:         ride.ID,
		DriverID:       ride.DriverID,
		Pickup:         ride.Pickup,
		Drop:           ride.Drop,
		Stops:          ride.Stops,
		Fare:           ride.Fare,
		DepartureTime:  ride.DepartureTime,
		VehicleInfo:    ride.VehicleInfo,
		AvailableSeats: ride.AvailableSeats,
		Status:         ride.Status,
	}
	if ride.Driver != nil {
		summary.DriverName = ride.Driver.Username
	}
	return summary
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// RideStatus is the lifecycle state of a ride offer.
type RideStatus string

const (
	RideStatusWaiting   RideStatus = "waiting"
	RideStatusMatched   RideStatus = "matched"
	RideStatusConfirmed RideStatus = "confirmed"
	RideStatusActive    RideStatus = "active"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// RideRole identifies which side of a ride an actor is on.
type RideRole string

const (
	RoleDriver RideRole = "driver"
	RoleRider  RideRole = "rider"
	RoleNone   RideRole = ""
)

// Ride is a trip offer created by a driver and claimed by at most one rider.
// DriverID never changes after creation; MatchedUserID is set exactly while
// the ride is matched/confirmed/active/completed.
type Ride struct {
	gorm.Model
	DriverID       uint       `json:"driverId" gorm:"not null;index"`
	Driver         *User      `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
	MatchedUserID  *uint      `json:"matchedUserId,omitempty" gorm:"index"`
	Rider          *User      `json:"rider,omitempty" gorm:"foreignKey:MatchedUserID"`
	Pickup         string     `json:"pickup" gorm:"not null"`
	Drop           string     `json:"drop" gorm:"column:drop_location;not null"`
	Stops          []string   `json:"stops" gorm:"serializer:json"`
	Fare           *float64   `json:"fare,omitempty"`
	DepartureTime  *time.Time `json:"departureTime,omitempty"`
	VehicleInfo    string     `json:"vehicleInfo,omitempty"`
	AvailableSeats int        `json:"availableSeats" gorm:"not null;default:1"`
	Status         RideStatus `json:"status" gorm:"not null;default:'waiting';index"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`

	// Rating given by the rider about the driver.
	DriverRating        *int       `json:"driverRating,omitempty" gorm:"check:driver_rating >= 1 AND driver_rating <= 5"`
	DriverRatingComment string     `json:"driverRatingComment,omitempty"`
	DriverRatedAt       *time.Time `json:"driverRatedAt,omitempty"`

	// Rating given by the driver about the rider.
	RiderRating        *int       `json:"riderRating,omitempty" gorm:"check:rider_rating >= 1 AND rider_rating <= 5"`
	RiderRatingComment string     `json:"riderRatingComment,omitempty"`
	RiderRatedAt       *time.Time `json:"riderRatedAt,omitempty"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// IsTerminal reports whether no further transitions are allowed.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Valid reports whether s is a known lifecycle state.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusWaiting, RideStatusMatched, RideStatusConfirmed,
		RideStatusActive, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// CanJoin reports whether a rider may claim the ride.
func (s RideStatus) CanJoin() bool {
	return s == RideStatusWaiting
}

// CanAccept reports whether the driver may confirm a pending claim.
func (s RideStatus) CanAccept() bool {
	return s == RideStatusMatched
}

// CanRelease reports whether the ride can revert to waiting, either by a
// driver decline or a rider dropping out.
func (s RideStatus) CanRelease() bool {
	return s == RideStatusMatched || s == RideStatusConfirmed
}

// CanStart reports whether the ride may move to active.
func (s RideStatus) CanStart() bool {
	return s == RideStatusConfirmed
}

// CanFinish reports whether the ride may be completed. Finishing from
// waiting or from a terminal state is rejected.
func (s RideStatus) CanFinish() bool {
	return s == RideStatusMatched || s == RideStatusConfirmed || s == RideStatusActive
}

// CanCancel reports whether the driver may fully cancel the ride.
func (s RideStatus) CanCancel() bool {
	return !s.IsTerminal()
}

// HasLiveParticipants reports whether location updates are relayed for the
// ride in its current state.
func (s RideStatus) HasLiveParticipants() bool {
	return s == RideStatusMatched || s == RideStatusConfirmed || s == RideStatusActive
}

// RoleOf resolves the acting identity against the ride's parties. Anyone who
// is neither the driver nor the current matched rider gets RoleNone.
func (r *Ride) RoleOf(userID uint) RideRole {
	if r.DriverID == userID {
		return RoleDriver
	}
	if r.MatchedUserID != nil && *r.MatchedUserID == userID {
		return RoleRider
	}
	return RoleNone
}

// RatedBy reports whether the given role has already submitted its rating.
func (r *Ride) RatedBy(role RideRole) bool {
	switch role {
	case RoleRider:
		return r.DriverRating != nil
	case RoleDriver:
		return r.RiderRating != nil
	}
	return false
}

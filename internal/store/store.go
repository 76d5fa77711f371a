// Package store persists ride records. The conditional update is the only
// concurrency-control primitive: conflicting writers are serialized by the
// database, never by in-process locks, so any number of server processes can
// safely share one store.
package store

import (
	"context"
	"errors"

	"github.com/openlift/carpool-backend/internal/models"
)

var (
	// ErrNotFound means the ride id is unknown.
	ErrNotFound = errors.New("ride not found")
	// ErrConflict means the ride's status no longer matched the expected
	// value at the moment of the write. Nothing was mutated.
	ErrConflict = errors.New("ride status conflict")
)

// Patch is the set of column changes applied by a conditional update.
type Patch map[string]interface{}

// RideStore is the persistence surface the coordinator depends on.
type RideStore interface {
	Create(ctx context.Context, ride *models.Ride) error

	// GetByID returns the ride with both participants preloaded.
	GetByID(ctx context.Context, id uint) (*models.Ride, error)

	// ConditionalUpdate applies patch and returns the fresh document only if
	// the stored status still equals expected at the moment of the write;
	// otherwise it returns ErrConflict without mutating anything.
	ConditionalUpdate(ctx context.Context, id uint, expected models.RideStatus, patch Patch) (*models.Ride, error)

	// ListWaiting returns the open pool, newest first.
	ListWaiting(ctx context.Context) ([]models.Ride, error)

	// ListByParticipant returns rides where the user is driver or rider,
	// optionally filtered by status, newest first.
	ListByParticipant(ctx context.Context, userID uint, status models.RideStatus) ([]models.Ride, error)
}

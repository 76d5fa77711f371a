package store

import (
	"context"
	"errors"
	"testing"

	"github.com/openlift/carpool-backend/internal/models"
	"gorm.io/gorm"
)

func TestConditionalUpdateGuardsStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRideStore()
	s.PutUser(&models.User{Model: gorm.Model{ID: 1}, Username: "dawn"})
	s.PutUser(&models.User{Model: gorm.Model{ID: 2}, Username: "ramy"})

	ride := &models.Ride{DriverID: 1, Pickup: "A", Drop: "B", Status: models.RideStatusWaiting}
	if err := s.Create(ctx, ride); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := s.ConditionalUpdate(ctx, ride.ID, models.RideStatusWaiting, Patch{
		"status":          models.RideStatusMatched,
		"matched_user_id": uint(2),
	})
	if err != nil {
		t.Fatalf("ConditionalUpdate: %v", err)
	}
	if updated.Status != models.RideStatusMatched {
		t.Fatalf("status = %q", updated.Status)
	}
	if updated.Rider == nil || updated.Rider.Username != "ramy" {
		t.Fatal("rider was not resolved on the snapshot")
	}

	// The guard now fails: the ride is no longer waiting.
	if _, err := s.ConditionalUpdate(ctx, ride.ID, models.RideStatusWaiting, Patch{
		"status": models.RideStatusMatched,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if _, err := s.ConditionalUpdate(ctx, 99, models.RideStatusWaiting, Patch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRideStore()
	ride := &models.Ride{DriverID: 1, Pickup: "A", Drop: "B", Status: models.RideStatusWaiting}
	if err := s.Create(ctx, ride); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByID(ctx, ride.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Status = models.RideStatusCancelled

	again, err := s.GetByID(ctx, ride.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if again.Status != models.RideStatusWaiting {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

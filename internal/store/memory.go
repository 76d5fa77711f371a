package store

import (
	"context"
	"sync"
	"time"

	"github.com/openlift/carpool-backend/internal/models"
)

// MemoryRideStore is an in-memory RideStore with the same conditional-update
// semantics as the Postgres implementation. It backs tests and local
// development without a database.
type MemoryRideStore struct {
	mu     sync.Mutex
	nextID uint
	rides  map[uint]*models.Ride
	users  map[uint]*models.User
}

func NewMemoryRideStore() *MemoryRideStore {
	return &MemoryRideStore{
		nextID: 1,
		rides:  make(map[uint]*models.Ride),
		users:  make(map[uint]*models.User),
	}
}

// PutUser registers an account so participant preloads can resolve it.
func (s *MemoryRideStore) PutUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryRideStore) Create(_ context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride.ID = s.nextID
	s.nextID++
	ride.CreatedAt = time.Now()
	copied := *ride
	s.rides[ride.ID] = &copied
	return nil
}

func (s *MemoryRideStore) GetByID(_ context.Context, id uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshot(ride), nil
}

func (s *MemoryRideStore) ConditionalUpdate(_ context.Context, id uint, expected models.RideStatus, patch Patch) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ride.Status != expected {
		return nil, ErrConflict
	}
	applyPatch(ride, patch)
	ride.UpdatedAt = time.Now()
	return s.snapshot(ride), nil
}

func (s *MemoryRideStore) ListWaiting(_ context.Context) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ride{}
	for _, ride := range s.rides {
		if ride.Status == models.RideStatusWaiting {
			out = append(out, *s.snapshot(ride))
		}
	}
	return out, nil
}

func (s *MemoryRideStore) ListByParticipant(_ context.Context, userID uint, status models.RideStatus) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Ride{}
	for _, ride := range s.rides {
		if ride.DriverID != userID && (ride.MatchedUserID == nil || *ride.MatchedUserID != userID) {
			continue
		}
		if status != "" && ride.Status != status {
			continue
		}
		out = append(out, *s.snapshot(ride))
	}
	return out, nil
}

// snapshot copies the record and resolves participant preloads. Caller
// holds the lock.
func (s *MemoryRideStore) snapshot(ride *models.Ride) *models.Ride {
	copied := *ride
	if user, ok := s.users[ride.DriverID]; ok {
		u := *user
		copied.Driver = &u
	}
	if ride.MatchedUserID != nil {
		if user, ok := s.users[*ride.MatchedUserID]; ok {
			u := *user
			copied.Rider = &u
		}
	}
	return &copied
}

func applyPatch(ride *models.Ride, patch Patch) {
	for column, value := range patch {
		switch column {
		case "status":
			ride.Status = value.(models.RideStatus)
		case "matched_user_id":
			if value == nil {
				ride.MatchedUserID = nil
			} else {
				id := value.(uint)
				ride.MatchedUserID = &id
			}
		case "completed_at":
			t := value.(time.Time)
			ride.CompletedAt = &t
		case "driver_rating":
			r := value.(int)
			ride.DriverRating = &r
		case "driver_rating_comment":
			ride.DriverRatingComment = value.(string)
		case "driver_rated_at":
			t := value.(time.Time)
			ride.DriverRatedAt = &t
		case "rider_rating":
			r := value.(int)
			ride.RiderRating = &r
		case "rider_rating_comment":
			ride.RiderRatingComment = value.(string)
		case "rider_rated_at":
			t := value.(time.Time)
			ride.RiderRatedAt = &t
		}
	}
}

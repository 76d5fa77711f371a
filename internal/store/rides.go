package store

import (
	"context"
	"errors"

	"github.com/openlift/carpool-backend/internal/models"
	"gorm.io/gorm"
)

// GormRideStore implements RideStore on top of GORM/Postgres.
type GormRideStore struct {
	db *gorm.DB
}

func NewGormRideStore(db *gorm.DB) *GormRideStore {
	return &GormRideStore{db: db}
}

func (s *GormRideStore) Create(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Create(ride).Error
}

func (s *GormRideStore) GetByID(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).
		Preload("Driver").
		Preload("Rider").
		First(&ride, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (s *GormRideStore) ConditionalUpdate(ctx context.Context, id uint, expected models.RideStatus, patch Patch) (*models.Ride, error) {
	// Single guarded UPDATE; RowsAffected == 0 distinguishes a lost race
	// from an unknown id afterwards.
	res := s.db.WithContext(ctx).
		Model(&models.Ride{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}(patch))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetByID(ctx, id)
}

func (s *GormRideStore) ListWaiting(ctx context.Context) ([]models.Ride, error) {
	var rides []models.Ride
	err := s.db.WithContext(ctx).
		Preload("Driver").
		Where("status = ?", models.RideStatusWaiting).
		Order("created_at DESC").
		Find(&rides).Error
	return rides, err
}

func (s *GormRideStore) ListByParticipant(ctx context.Context, userID uint, status models.RideStatus) ([]models.Ride, error) {
	query := s.db.WithContext(ctx).
		Preload("Driver").
		Preload("Rider").
		Where("driver_id = ? OR matched_user_id = ?", userID, userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var rides []models.Ride
	err := query.Order("created_at DESC").Find(&rides).Error
	return rides, err
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openlift/carpool-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// RideEventsChannel carries a mirror of every published envelope so sibling
// server processes can observe transitions. The mirror is purely a
// notification path; the database stays the source of truth.
const RideEventsChannel = "ride:events"

// InitRedis initializes the Redis client. Redis is optional: callers treat a
// failure here as a degraded mode, not a fatal one.
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	RedisClient = client
	return nil
}

// SetLastLocation caches the most recent position report per ride and role
// so a reconnecting participant can prime its map without waiting for the
// next live report. Last write wins.
func SetLastLocation(ctx context.Context, update LocationUpdate) error {
	if RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("ride:location:%d:%s", update.RideID, update.Role)
	return RedisClient.Set(ctx, key, data, time.Hour).Err()
}

// GetLastLocation retrieves the cached position report for one role of a
// ride, if any.
func GetLastLocation(ctx context.Context, rideID uint, role models.RideRole) (*LocationUpdate, error) {
	if RedisClient == nil {
		return nil, redis.Nil
	}
	key := fmt.Sprintf("ride:location:%d:%s", rideID, role)
	data, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var update LocationUpdate
	if err := json.Unmarshal([]byte(data), &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// PublishRideEvent mirrors an envelope onto the Redis channel.
func PublishRideEvent(ctx context.Context, env Envelope) error {
	if RedisClient == nil {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return RedisClient.Publish(ctx, RideEventsChannel, data).Err()
}

package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/openlift/carpool-backend/internal/services"
	"github.com/openlift/carpool-backend/internal/store"
)

// JoinRide claims a waiting ride for the caller. Exactly one of N
// concurrent joiners succeeds; the rest get a 400.
func JoinRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Join(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}

		response := gin.H{
			"message": "Successfully joined ride",
			"ride":    ride,
		}
		if ride.Driver != nil {
			response["driverName"] = ride.Driver.Username
			response["driverPhone"] = ride.Driver.ContactPhone()
		}
		if ride.Rider != nil {
			response["riderName"] = ride.Rider.Username
			response["riderPhone"] = ride.Rider.ContactPhone()
		}
		c.JSON(200, response)
	}
}

// AcceptRide is the driver confirming a pending claim. This is the
// idempotent HTTP counterpart of the socket handshake message.
func AcceptRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Accept(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride confirmed", "ride": ride})
	}
}

// DeclineRide is the driver releasing a pending claim back to the pool.
func DeclineRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Decline(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride released", "ride": ride})
	}
}

// StartRide moves a confirmed ride to active.
func StartRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Start(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride started", "ride": ride})
	}
}

// CancelRide handles both the driver's full cancel and a rider dropping
// out.
func CancelRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Cancel(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride cancelled successfully", "ride": ride})
	}
}

// FinishRide marks the ride completed.
func FinishRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := coord.Finish(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Ride completed successfully", "ride": ride})
	}
}

// RateRide submits a one-sided rating for a completed ride.
func RateRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		var input struct {
			Rating  int    `json:"rating" binding:"required"`
			Comment string `json:"comment"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		ride, err := coord.Rate(c.Request.Context(), userId, rideID, input.Rating, input.Comment)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, gin.H{"message": "Rating submitted successfully", "ride": ride})
	}
}

// respondError maps domain errors onto the HTTP taxonomy. Transition and
// store errors surface verbatim; anything unknown is a 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(404, gin.H{"error": "Ride not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(403, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrRideNotAvailable):
		c.JSON(400, gin.H{"error": "Ride not available"})
	case errors.Is(err, services.ErrAlreadyRated):
		c.JSON(400, gin.H{"error": "You have already rated this ride"})
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrValidation):
		c.JSON(400, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": "Internal server error"})
	}
}

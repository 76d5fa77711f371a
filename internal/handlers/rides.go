package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openlift/carpool-backend/internal/models"
	"github.com/openlift/carpool-backend/internal/services"
)

// CreateRide handles the creation of a new ride offer by a driver.
func CreateRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input services.CreateRideInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		ride, err := coord.Create(c.Request.Context(), userId, input)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(201, ride)
	}
}

// GetAvailableRides retrieves the open pool of waiting rides.
func GetAvailableRides(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rides, err := coord.ListWaiting(c.Request.Context())
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch rides"})
			return
		}
		c.JSON(200, rides)
	}
}

// GetUserRides retrieves rides where the caller is driver or rider, with an
// optional status filter.
func GetUserRides(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		status := models.RideStatus(c.Query("status"))

		rides, err := coord.ListForUser(c.Request.Context(), userId, status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(200, rides)
	}
}

// GetRide returns full ride detail. Contact numbers are included only for
// the ride's own participants.
func GetRide(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, role, err := coord.Get(c.Request.Context(), userId, rideID)
		if err != nil {
			respondError(c, err)
			return
		}

		response := gin.H{
			"id":             ride.ID,
			"pickup":         ride.Pickup,
			"drop":           ride.Drop,
			"stops":          ride.Stops,
			"fare":           ride.Fare,
			"departureTime":  ride.DepartureTime,
			"vehicleInfo":    ride.VehicleInfo,
			"availableSeats": ride.AvailableSeats,
			"status":         ride.Status,
			"createdAt":      ride.CreatedAt,
			"completedAt":    ride.CompletedAt,
		}
		if ride.Driver != nil {
			response["driver"] = ride.Driver.Username
		}
		if ride.Rider != nil {
			response["rider"] = ride.Rider.Username
		}
		if role != models.RoleNone {
			if ride.Driver != nil {
				response["driverPhone"] = ride.Driver.ContactPhone()
			}
			if ride.Rider != nil {
				response["riderPhone"] = ride.Rider.ContactPhone()
			}
		}

		c.JSON(200, response)
	}
}

func rideIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid ride ID"})
		return 0, false
	}
	return uint(id), true
}

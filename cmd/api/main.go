package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/openlift/carpool-backend/internal/database"
	"github.com/openlift/carpool-backend/internal/handlers"
	"github.com/openlift/carpool-backend/internal/logging"
	"github.com/openlift/carpool-backend/internal/middleware"
	"github.com/openlift/carpool-backend/internal/services"
	"github.com/openlift/carpool-backend/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Redis is a best-effort side channel; the server runs without it.
	if err := services.InitRedis(); err != nil {
		logger.Warn("redis unavailable, running degraded", "error", err)
	}

	rides := store.NewGormRideStore(db)

	hub := services.NewHub(logger)
	coordinator := services.NewCoordinator(rides, hub, logger)
	relay := services.NewRelay(rides, hub, logger)
	hub.SetHandler(services.NewRouter(hub, coordinator, relay, logger))
	go hub.Run()

	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(db))
			auth.POST("/login", handlers.Login(db))
		}

		// WebSocket connection
		api.GET("/ws", middleware.AuthMiddleware(), handlers.WebSocketHandler(hub))

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile(db))
				users.PUT("/profile", handlers.UpdateProfile(db))
			}

			rideRoutes := protected.Group("/rides")
			{
				rideRoutes.GET("", handlers.GetAvailableRides(coordinator))
				rideRoutes.POST("", handlers.CreateRide(coordinator))
				rideRoutes.GET("/user", handlers.GetUserRides(coordinator))
				rideRoutes.GET("/:rideId", handlers.GetRide(coordinator))
				rideRoutes.POST("/:rideId/join", handlers.JoinRide(coordinator))
				rideRoutes.POST("/:rideId/accept", handlers.AcceptRide(coordinator))
				rideRoutes.POST("/:rideId/decline", handlers.DeclineRide(coordinator))
				rideRoutes.POST("/:rideId/start", handlers.StartRide(coordinator))
				rideRoutes.POST("/:rideId/cancel", handlers.CancelRide(coordinator))
				rideRoutes.PUT("/:rideId/finish", handlers.FinishRide(coordinator))
				rideRoutes.POST("/:rideId/rate", handlers.RateRide(coordinator))
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

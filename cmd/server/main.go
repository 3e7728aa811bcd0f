package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"schoolrun-backend/internal/attendance"
	"schoolrun-backend/internal/database"
	"schoolrun-backend/internal/handlers"
	"schoolrun-backend/internal/middleware"
	"schoolrun-backend/internal/models"
	"schoolrun-backend/internal/notifications"
	"schoolrun-backend/internal/services"
	"schoolrun-backend/internal/stopevents"
	"schoolrun-backend/internal/tracking"
	"schoolrun-backend/internal/trip"
	"schoolrun-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚌 SCHOOLRUN BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Get database URL
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Println("❌ FATAL ERROR: DATABASE_URL environment variable is required")
		log.Fatal("DATABASE_URL environment variable is required")
	}

	// Connect to database
	db, err := database.Connect(dbURL)
	if err != nil {
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("✅ Database connection established")

	// Run migrations
	if err := database.Migrate(db); err != nil {
		log.Println("❌ FATAL ERROR: Database migrations failed")
		log.Fatal(err)
	}

	// Seed database
	if err := database.SeedUsers(db); err != nil {
		log.Println("❌ FATAL ERROR: User seeding failed")
		log.Fatal(err)
	}
	if err := database.SeedTransportNetwork(db); err != nil {
		log.Println("❌ FATAL ERROR: Transport network seeding failed")
		log.Fatal(err)
	}
	log.Println("✅ Database seeded")

	// Initialize Firebase Cloud Messaging
	// Supports both file path and base64-encoded credentials (for Railway/cloud deployments)
	var fcmService *services.FCMService
	fcmCredsBase64 := os.Getenv("FIREBASE_CREDENTIALS_BASE64")

	if fcmCredsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(fcmCredsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcmCredentialsFile := os.Getenv("FIREBASE_CREDENTIALS_FILE")
		if fcmCredentialsFile == "" {
			fcmCredentialsFile = "./firebase-service-account.json"
		}

		fcmService, err = services.NewFCMService(fcmCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	// Notification fanout delivers durable rows, websocket pushes and FCM.
	// fcmService is a nil *FCMService when FCM is disabled; keep the Pusher
	// interface nil in that case.
	var pusher notifications.Pusher
	if fcmService != nil {
		pusher = fcmService
	}
	fanout := notifications.NewFanout(notifications.NewSQLStore(db), wsHub, pusher)

	// Tracking manager runs one position stream per driver
	trackingManager := tracking.NewManager(tracking.NewSQLStore(db), wsHub)

	// Attendance ledger and trip controller
	ledger := attendance.NewLedger(attendance.NewSQLStore(db), fanout)
	tripController := trip.NewController(trip.NewSQLStore(db), ledger, trackingManager, fanout)

	// Stop event broker with background TTL sweep
	broker := stopevents.NewBroker(stopevents.NewSQLStore(db), fanout)
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go broker.RunSweeper(sweepCtx, stopevents.DefaultSweepInterval)
	log.Println("✅ Stop event sweeper started")

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", handlers.Login(db))

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", websocket.HandleWebSocket(wsHub, trackingManager, fanout))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public timetable data
		r.Get("/routes", handlers.ListRoutes(db))
		r.Get("/routes/{routeId}/stops", handlers.RouteStops(db))

		// Rider-facing event and position queries
		r.Get("/stops/{stopId}/events", handlers.StopEvents(broker))
		r.Get("/vehicles/{vehicleId}/events", handlers.VehicleStopEvents(broker))
		r.Get("/vehicles/{vehicleId}/position", handlers.VehiclePosition(tracking.NewSQLStore(db)))
		r.Get("/vehicles/{vehicleId}/track", handlers.VehicleTrack(tracking.NewSQLStore(db)))

		// Authenticated endpoints (any role)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			r.Get("/auth/status", handlers.AuthStatus(db))
			r.Get("/notifications", handlers.ListNotifications(fanout))
			r.Post("/notifications/{id}/read", handlers.MarkNotificationRead(fanout))
			r.Post("/fcm-token", handlers.RegisterFCMToken(db))
		})

		// Student endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole(models.RoleStudent))

			r.Post("/student/attendance/present", handlers.MarkPresent(ledger))
			r.Get("/student/attendance", handlers.MyAttendance(ledger))
		})

		// Driver endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole(models.RoleDriver))

			// Vehicle registration
			r.Post("/driver/vehicle", handlers.RegisterVehicle(db))
			r.Get("/driver/vehicle", handlers.MyVehicle(db))

			// Trip lifecycle
			r.Get("/driver/trip/current", handlers.CurrentTrip(tripController))
			r.Post("/driver/trip/select-route", handlers.SelectRoute(tripController))
			r.Post("/driver/trip/start", handlers.StartTrip(tripController))
			r.Post("/driver/trip/end", handlers.EndTrip(tripController))

			// Attendance
			r.Post("/driver/attendance/board", handlers.MarkBoarded(ledger))
			r.Get("/driver/attendance/{routeId}", handlers.AttendanceRoster(ledger))

			// Stop events
			r.Post("/driver/stops/{stopId}/arrival", handlers.RegisterStopArrival(db, broker))
			r.Post("/driver/stops/{stopId}/departure", handlers.RegisterStopDeparture(db, broker))

			// Location tracking
			r.Post("/driver/tracking/start", handlers.StartTracking(trackingManager))
			r.Post("/driver/tracking/stop", handlers.StopTracking(trackingManager))
			r.Get("/driver/tracking/status", handlers.TrackingStatus(trackingManager))
			r.Post("/driver/location", handlers.UpdateLocation(trackingManager))
		})

		// Dispatcher endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RequireRole(models.RoleDispatcher))

			r.Get("/dispatcher/trips/active", handlers.ActiveTrips(tripController))
			r.Post("/dispatcher/vehicles/{vehicleId}/force-end", handlers.ForceEndTrip(tripController))
			r.Put("/dispatcher/vehicles/{vehicleId}/tracking", handlers.SetTrackingEnabled(db))
			r.Get("/dispatcher/trip-history", handlers.TripHistory(db))
			r.Get("/dispatcher/attendance/{routeId}", handlers.AttendanceRoster(ledger))

			// User management
			r.Post("/users", handlers.CreateUser(db))
		})
	})

	// Get port
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		log.Printf("⚠️  PORT not set, using default: %s", port)
	}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚌 Server starting on http://localhost:%s", port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Start server
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Println("❌ FATAL ERROR: Server failed to start")
		log.Fatal(err)
	}
}

package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Printf("❌ sqlx.Connect() failed: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Printf("❌ Ping() failed: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'student', 'dispatcher')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create vehicles table (one vehicle per driver)
		`CREATE TABLE IF NOT EXISTS vehicles (
			id TEXT PRIMARY KEY,
			plate_number TEXT NOT NULL UNIQUE,
			driver_id TEXT NOT NULL UNIQUE,
			tracking_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (driver_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create routes table
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			vehicle_id TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE SET NULL
		)`,

		// Create stops table
		`CREATE TABLE IF NOT EXISTS stops (
			id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			sequence INT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
		)`,

		// Create route_students table (student assignment to route + boarding stop)
		`CREATE TABLE IF NOT EXISTS route_students (
			student_id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE,
			FOREIGN KEY (stop_id) REFERENCES stops(id) ON DELETE CASCADE
		)`,

		// Create trips table (one row per vehicle per service date)
		`CREATE TABLE IF NOT EXISTS trips (
			id TEXT PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			route_id TEXT,
			driver_id TEXT NOT NULL,
			service_date TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'idle' CHECK(state IN ('idle', 'in_progress', 'completed')),
			started_at BIGINT,
			ended_at BIGINT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE CASCADE,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE SET NULL,
			FOREIGN KEY (driver_id) REFERENCES users(id) ON DELETE CASCADE,
			UNIQUE (vehicle_id, service_date)
		)`,

		// Create attendance_records table
		// Single normalized boarding ledger, one row per (student, service_date)
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id BIGSERIAL PRIMARY KEY,
			student_id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			service_date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting' CHECK(status IN ('waiting', 'present_at_stop', 'boarded', 'absent')),
			marked_by TEXT,
			marked_at BIGINT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (student_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE,
			FOREIGN KEY (stop_id) REFERENCES stops(id) ON DELETE CASCADE,
			UNIQUE (student_id, service_date)
		)`,

		// Create position_samples table (append-only location history)
		`CREATE TABLE IF NOT EXISTS position_samples (
			id BIGSERIAL PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			driver_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			captured_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE CASCADE,
			FOREIGN KEY (driver_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create vehicle_last_position table (latest-sample projection)
		// Exactly 1 row per vehicle, written in the same transaction as the
		// position_samples append
		`CREATE TABLE IF NOT EXISTS vehicle_last_position (
			vehicle_id TEXT PRIMARY KEY,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			updated_at BIGINT NOT NULL,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE CASCADE
		)`,

		// Create stop_events table (TTL-bounded arrival/departure markers)
		`CREATE TABLE IF NOT EXISTS stop_events (
			id TEXT PRIMARY KEY,
			stop_id TEXT NOT NULL,
			vehicle_id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('arrived', 'departed')),
			occurred_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL,
			FOREIGN KEY (stop_id) REFERENCES stops(id) ON DELETE CASCADE,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE CASCADE,
			FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
		)`,

		// Create notifications table (durable copy for reconnect re-query)
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			read BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		// Create FCM tokens table
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create trip_history table (immutable copy written at endTrip)
		`CREATE TABLE IF NOT EXISTS trip_history (
			id TEXT PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			route_id TEXT,
			driver_id TEXT NOT NULL,
			service_date TEXT NOT NULL,
			started_at BIGINT,
			ended_at BIGINT NOT NULL,
			boarded_students INT NOT NULL DEFAULT 0,
			absent_students INT NOT NULL DEFAULT 0,
			ended_by TEXT NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (vehicle_id) REFERENCES vehicles(id) ON DELETE CASCADE,
			FOREIGN KEY (driver_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_stops_route_seq ON stops(route_id, sequence)`,
		`CREATE INDEX IF NOT EXISTS idx_route_students_route ON route_students(route_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_vehicle_date ON trips(vehicle_id, service_date)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_state ON trips(state)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_route_date ON attendance_records(route_id, service_date)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_status ON attendance_records(service_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_position_samples_vehicle ON position_samples(vehicle_id, captured_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_stop ON stop_events(stop_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_vehicle ON stop_events(vehicle_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_events_expires ON stop_events(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_scope ON notifications(recipient_scope, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(recipient_scope) WHERE read = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_history_driver ON trip_history(driver_id, ended_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_history_date ON trip_history(service_date)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}

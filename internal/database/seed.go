package database

import (
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

func SeedUsers(db *sqlx.DB) error {
	// Check if users already exist
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	// Hash passwords
	driverPassword, err := bcrypt.GenerateFromPassword([]byte("driver123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	studentPassword, err := bcrypt.GenerateFromPassword([]byte("student123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	dispatcherPassword, err := bcrypt.GenerateFromPassword([]byte("dispatch123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	users := []map[string]interface{}{
		{
			"id":       "seed-driver-1",
			"email":    "driver@schoolrun.app",
			"password": string(driverPassword),
			"name":     "Marta Keller",
			"role":     "driver",
		},
		{
			"id":       "seed-student-1",
			"email":    "ada@schoolrun.app",
			"password": string(studentPassword),
			"name":     "Ada Novak",
			"role":     "student",
		},
		{
			"id":       "seed-student-2",
			"email":    "ben@schoolrun.app",
			"password": string(studentPassword),
			"name":     "Ben Fischer",
			"role":     "student",
		},
		{
			"id":       "seed-student-3",
			"email":    "carla@schoolrun.app",
			"password": string(studentPassword),
			"name":     "Carla Weiss",
			"role":     "student",
		},
		{
			"id":       "seed-dispatcher-1",
			"email":    "dispatch@schoolrun.app",
			"password": string(dispatcherPassword),
			"name":     "Omar Lindgren",
			"role":     "dispatcher",
		},
	}

	for _, user := range users {
		query := `
			INSERT INTO users (id, email, password, name, role)
			VALUES (:id, :email, :password, :name, :role)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", user["email"], user["role"])
	}

	log.Println("✓ Successfully seeded test users")
	log.Println("  📧 Driver:     driver@schoolrun.app / driver123")
	log.Println("  📧 Students:   ada|ben|carla@schoolrun.app / student123")
	log.Println("  📧 Dispatcher: dispatch@schoolrun.app / dispatch123")
	return nil
}

// SeedTransportNetwork creates a demo vehicle, route, stops and student
// assignments so the app is usable right after first boot.
func SeedTransportNetwork(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM routes"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Transport network already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding demo transport network...")

	vehicleID := uuid.New().String()
	if _, err := db.Exec(`
		INSERT INTO vehicles (id, plate_number, driver_id, tracking_enabled)
		VALUES ($1, $2, $3, TRUE)
	`, vehicleID, "B-SR 2041", "seed-driver-1"); err != nil {
		return err
	}

	routeID := uuid.New().String()
	if _, err := db.Exec(`
		INSERT INTO routes (id, name, vehicle_id)
		VALUES ($1, $2, $3)
	`, routeID, "Morning Run North", vehicleID); err != nil {
		return err
	}

	stops := []struct {
		Name     string
		Lat, Lon float64
	}{
		{"Lindenallee 12", 52.5271, 13.4133},
		{"Marktplatz", 52.5312, 13.4019},
		{"Schulstrasse 4", 52.5355, 13.3942},
	}

	stopIDs := make([]string, len(stops))
	for i, s := range stops {
		stopIDs[i] = uuid.New().String()
		if _, err := db.Exec(`
			INSERT INTO stops (id, route_id, name, latitude, longitude, sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, stopIDs[i], routeID, s.Name, s.Lat, s.Lon, i+1); err != nil {
			return err
		}
	}

	assignments := []struct {
		StudentID string
		StopIdx   int
	}{
		{"seed-student-1", 0},
		{"seed-student-2", 0},
		{"seed-student-3", 1},
	}

	for _, a := range assignments {
		if _, err := db.Exec(`
			INSERT INTO route_students (student_id, route_id, stop_id)
			VALUES ($1, $2, $3)
		`, a.StudentID, routeID, stopIDs[a.StopIdx]); err != nil {
			return err
		}
	}

	log.Printf("✓ Seeded route %q with %d stops and %d students", "Morning Run North", len(stops), len(assignments))
	return nil
}

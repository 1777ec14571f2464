package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emotions-app/emotions-server/cmd/api"
	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/db"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations()
			return
		case "clear-db":
			runDatabaseClear()
			return
		default:
			log.Fatalf("Unknown command: %s", os.Args[1])
		}
	}

	startServer()
}

func runMigrations() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database for migrations")

	if err := performMigrations(DB); err != nil {
		log.Fatalf("Migration error: %v", err)
	}
	log.Println("Migrations completed successfully")
}

func performMigrations(DB *gorm.DB) error {

	migrations := map[interface{}]string{
		&models.User{}:                "User",
		&models.MoodMentor{}:          "MoodMentor",
		&models.PasswordResetToken{}:  "PasswordResetToken",
		&models.Availability{}:        "Availability",
		&models.Appointment{}:         "Appointment",
		&models.CallRecord{}:          "CallRecord",
		&models.Review{}:              "Review",
		&models.MoodEntry{}:           "MoodEntry",
		&models.SupportGroup{}:        "SupportGroup",
		&models.GroupMember{}:         "GroupMember",
		&models.GroupSession{}:        "GroupSession",
		&models.SessionAttendance{}:   "SessionAttendance",
		&models.PeerMessage{}:         "PeerMessage",
		&models.Device{}:              "Device",
		&models.NotificationHistory{}: "NotificationHistory",
	}

	log.Println("Starting database migrations...")
	for model, name := range migrations {
		log.Printf("Migrating %s table...", name)
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", name, err)
		}
		log.Printf("%s migration successful", name)
	}

	directories := []string{
		"uploads/images",
	}

	for _, dir := range directories {
		if err := createDirectoryIfNotExist(dir); err != nil {
			log.Fatalf("Error creating directory %s: %v", dir, err)
		}
		log.Printf("Directory %s created/verified", dir)
	}

	log.Println("All migrations and directory setup completed successfully")
	return nil
}

func createDirectoryIfNotExist(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", path, err)
		}
	}
	return nil
}

func startServer() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()
	log.Println("Connected to the database")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	server := api.NewApiServer(":"+port, DB)

	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()
	log.Printf("Server running on port %s", port)

	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func clearDatabase(DB *gorm.DB, tables []interface{}) error {
	if len(tables) == 0 {
		// Default: drop everything, children before parents.
		tables = []interface{}{
			&models.SessionAttendance{},
			&models.GroupSession{},
			&models.GroupMember{},
			&models.SupportGroup{},
			&models.CallRecord{},
			&models.Review{},
			&models.Appointment{},
			&models.Availability{},
			&models.MoodEntry{},
			&models.PeerMessage{},
			&models.Device{},
			&models.NotificationHistory{},
			&models.PasswordResetToken{},
			&models.MoodMentor{},
			&models.User{},
		}
	}

	log.Println("Dropping tables...")

	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			log.Printf("Warning dropping table %T: %v", table, err)
		} else {
			log.Printf("Table %T dropped", table)
		}
	}

	return nil
}

func runDatabaseClear() {
	DB, err := db.NewPSQLStorage()
	if err != nil {
		log.Fatalf("Database initialization error: %v", err)
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Println("Database connection closed")
	}()

	log.Println("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		log.Println("Database clearing cancelled.")
		return
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		tableList := splitTableNames(tableNames)
		for _, table := range tableList {
			switch strings.TrimSpace(table) {
			case "User":
				tables = append(tables, &models.User{})
			case "MoodMentor":
				tables = append(tables, &models.MoodMentor{})
			case "PasswordResetToken":
				tables = append(tables, &models.PasswordResetToken{})
			case "Availability":
				tables = append(tables, &models.Availability{})
			case "Appointment":
				tables = append(tables, &models.Appointment{})
			case "CallRecord":
				tables = append(tables, &models.CallRecord{})
			case "Review":
				tables = append(tables, &models.Review{})
			case "MoodEntry":
				tables = append(tables, &models.MoodEntry{})
			case "SupportGroup":
				tables = append(tables, &models.SupportGroup{})
			case "GroupMember":
				tables = append(tables, &models.GroupMember{})
			case "GroupSession":
				tables = append(tables, &models.GroupSession{})
			case "SessionAttendance":
				tables = append(tables, &models.SessionAttendance{})
			case "PeerMessage":
				tables = append(tables, &models.PeerMessage{})
			case "Device":
				tables = append(tables, &models.Device{})
			case "NotificationHistory":
				tables = append(tables, &models.NotificationHistory{})
			default:
				log.Printf("Unknown table: %s", table)
			}
		}
	}

	if err := clearDatabase(DB, tables); err != nil {
		log.Fatalf("Error clearing database: %v", err)
	}

	log.Println("Database cleared successfully")
}

func splitTableNames(tableNames string) []string {
	return strings.Split(tableNames, ",")
}

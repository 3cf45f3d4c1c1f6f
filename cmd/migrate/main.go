package main

import (
	"flag"
	"log"
	"os"

	"analytics-console/internal/model"
	"analytics-console/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	drop := flag.Bool("drop", false, "drop console tables before migrating")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, true)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	models := []interface{}{
		&model.ConsoleSession{},
	}

	if *drop {
		log.Println("Dropping console tables...")
		if err := db.Migrator().DropTable(models...); err != nil {
			log.Fatalf("Error: drop failed: %v", err)
		}
	}

	log.Printf("Running AutoMigrate for %d tables...", len(models))
	if err := db.AutoMigrate(models...); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// Lookups by session id and recency ordered listings.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_console_sessions_session_id ON console_sessions (session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_console_sessions_updated_at ON console_sessions (updated_at DESC);`,
	}
	for _, sql := range indexes {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to create index: %v. Continuing...", err)
		}
	}

	log.Println("Migration completed successfully.")
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/danharsa/billpay/internal/store"
)

// Usage: migrate [up|down|status|...]
// Any goose verb works; defaults to "up".
func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DB_SOURCE")
	if dsn == "" {
		log.Fatal("DB_SOURCE environment variable is required")
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := store.RunMigrations(context.Background(), dsn, command); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("migration %q complete", command)
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"PoolVault/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  VAULT_POSTGRES_DSN   - connection string (default: postgres://localhost:5432/poolvault?sslmode=disable)")
		fmt.Println("  VAULT_MIGRATIONS_DIR - migrations directory (default: migrations)")
		os.Exit(1)
	}

	dsn := os.Getenv("VAULT_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/poolvault?sslmode=disable"
	}

	migrationsDir := os.Getenv("VAULT_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	migrator := persistence.NewMigrator(db, migrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		fmt.Println("last migration rolled back")
	default:
		log.Fatalf("unknown command %q (want up or down)", os.Args[1])
	}
}

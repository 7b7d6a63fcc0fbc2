package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"crashd/internal/database"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("CRASHD_DB_USERNAME", "postgres"),
		getEnv("CRASHD_DB_PASSWORD", "postgres"),
		getEnv("CRASHD_DB_HOST", "localhost"),
		getEnv("CRASHD_DB_PORT", "5432"),
		getEnv("CRASHD_DB_DATABASE", "crashd"),
		getEnv("CRASHD_DB_SCHEMA", "public"),
	)

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	migrationsPath := getEnv("MIGRATIONS_PATH", "./migrations")

	switch os.Args[1] {
	case "up":
		log.Println("running migrations...")
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("migrations completed")

	case "down":
		log.Println("rolling back last migration...")
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		log.Println("rollback completed")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			log.Fatalf("failed to get version: %v", err)
		}
		if dirty {
			log.Printf("current version: %d (DIRTY - needs manual intervention)", version)
		} else {
			log.Printf("current version: %d", version)
		}

	case "create":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate create <name>")
		}
		if err := createMigration(migrationsPath, os.Args[2]); err != nil {
			log.Fatalf("create failed: %v", err)
		}

	default:
		log.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// createMigration writes an empty up/down pair numbered after the
// highest existing migration.
func createMigration(migrationsPath, name string) error {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return err
	}
	next := 1
	for _, e := range entries {
		var seq int
		var rest string
		if _, err := fmt.Sscanf(e.Name(), "%d_%s", &seq, &rest); err == nil && seq >= next {
			next = seq + 1
		}
	}
	for _, dir := range []string{"up", "down"} {
		path := fmt.Sprintf("%s/%06d_%s.%s.sql", migrationsPath, next, name, dir)
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return err
		}
		log.Printf("created %s", path)
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Run all pending migrations")
	fmt.Println("  migrate down            Rollback the last migration")
	fmt.Println("  migrate version         Show current migration version")
	fmt.Println("  migrate create <name>   Create an empty migration pair")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CRASHD_DB_HOST, CRASHD_DB_PORT, CRASHD_DB_DATABASE,")
	fmt.Println("  CRASHD_DB_USERNAME, CRASHD_DB_PASSWORD, CRASHD_DB_SCHEMA,")
	fmt.Println("  MIGRATIONS_PATH (default ./migrations)")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

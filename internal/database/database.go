package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// Service exposes the postgres connection and its health.
type Service interface {
	DB() *sql.DB
	Health() map[string]string
	Close() error
}

type service struct {
	db *sql.DB
}

var (
	database = os.Getenv("CRASHD_DB_DATABASE")
	password = os.Getenv("CRASHD_DB_PASSWORD")
	username = os.Getenv("CRASHD_DB_USERNAME")
	port     = os.Getenv("CRASHD_DB_PORT")
	host     = os.Getenv("CRASHD_DB_HOST")
	schema   = os.Getenv("CRASHD_DB_SCHEMA")
)

func New() Service {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("[DB] open failed: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &service{db: db}
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	return stats
}

func (s *service) Close() error {
	log.Printf("[DB] disconnecting from %s", database)
	return s.db.Close()
}

package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

// Service wraps the Redis connection used for crash history and the
// current-round snapshot cache.
type Service interface {
	Client() *redis.Client
	Health() map[string]string
	Close() error
}

type service struct {
	client *redis.Client
}

// New connects to Redis. Returns nil when Redis is unreachable; the
// caller decides whether that is fatal.
func New() Service {
	client := redis.NewClient(&redis.Options{
		Addr:         getEnv("REDIS_URL", "localhost:6379"),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvAsInt("REDIS_DB", 0),
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("[CACHE] Redis connection failed: %v", err)
		return nil
	}
	log.Println("[CACHE] Redis connected")
	return &service{client: client}
}

func (s *service) Client() *redis.Client {
	return s.client
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	if _, err := s.client.Ping(ctx).Result(); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	pool := s.client.PoolStats()
	stats["total_conns"] = strconv.FormatUint(uint64(pool.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(pool.IdleConns), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(pool.Timeouts), 10)
	return stats
}

func (s *service) Close() error {
	log.Println("[CACHE] disconnecting from Redis")
	return s.client.Close()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

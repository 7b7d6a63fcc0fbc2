package game

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyHistory = "crashd:history"
	redisKeyRound   = "crashd:round:current"
)

// History is the bounded list of recent crash points, newest first.
// Mirrored to Redis so it survives a restart; the in-memory copy is
// authoritative while the process runs.
type History struct {
	rdb     *redis.Client
	limit   int
	entries []HistoryEntry
}

// NewHistory loads any persisted entries from Redis. rdb may be nil,
// in which case history is memory-only. History is only appended to
// from the engine loop; Recent copies under no lock because the
// engine snapshots it for handlers via the command channel.
func NewHistory(rdb *redis.Client, limit int) *History {
	h := &History{rdb: rdb, limit: limit}
	if rdb == nil {
		return h
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := rdb.LRange(ctx, redisKeyHistory, 0, int64(limit-1)).Result()
	if err != nil {
		log.Printf("[ENGINE] history load failed: %v", err)
		return h
	}
	for _, item := range raw {
		var e HistoryEntry
		if json.Unmarshal([]byte(item), &e) == nil {
			h.entries = append(h.entries, e)
		}
	}
	return h
}

func (h *History) Append(e HistoryEntry) {
	h.entries = append([]HistoryEntry{e}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
	if h.rdb == nil {
		return
	}
	go func() {
		data, _ := json.Marshal(e)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pipe := h.rdb.Pipeline()
		pipe.LPush(ctx, redisKeyHistory, data)
		pipe.LTrim(ctx, redisKeyHistory, 0, int64(h.limit-1))
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[ENGINE] history persist failed: %v", err)
		}
	}()
}

// Recent returns a copy, newest first.
func (h *History) Recent() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// cacheRoundSnapshot keeps the latest public round state in Redis for
// observability. Runs off the loop goroutine so a slow Redis can
// never stall the round clock; failures are logged and ignored.
func cacheRoundSnapshot(rdb *redis.Client, snap RoundSnapshot) {
	if rdb == nil {
		return
	}
	go func() {
		data, _ := json.Marshal(snap)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Set(ctx, redisKeyRound, data, time.Hour).Err(); err != nil {
			log.Printf("[ENGINE] round snapshot cache failed: %v", err)
		}
	}()
}

package game

import (
	"time"
)

// Phase is the lifecycle state of the current round. PAUSED is an
// admin-only quasi-state: neither betting nor flying, timers frozen.
type Phase string

const (
	PhaseBetting Phase = "BETTING"
	PhaseActive  Phase = "ACTIVE"
	PhaseCrashed Phase = "CRASHED"
	PhasePaused  Phase = "PAUSED"
)

type WagerStatus string

const (
	WagerActive    WagerStatus = "active"
	WagerCashedOut WagerStatus = "cashed_out"
	WagerLost      WagerStatus = "lost"
	WagerCancelled WagerStatus = "cancelled"
)

// Round is the single authoritative round held by the engine loop.
// CrashPoint and Seed are never serialized to clients before the crash.
type Round struct {
	RoundID         string    `json:"round_id"`
	Seed            string    `json:"-"`
	CrashPoint      float64   `json:"-"`
	Multiplier      float64   `json:"multiplier"`
	Phase           Phase     `json:"phase"`
	TimeRemainingMs int64     `json:"time_remaining_ms"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time,omitempty"`
	TotalBets       int       `json:"total_bets"`
	TotalVolume     int64     `json:"total_volume"`
}

// Wager is one user's bet in one round. At most one per (round, user).
type Wager struct {
	WagerID           string      `json:"wager_id"`
	RoundID           string      `json:"round_id"`
	UserID            string      `json:"user_id"`
	Amount            int64       `json:"amount"`
	AutoCashOut       float64     `json:"auto_cash_out,omitempty"`
	Status            WagerStatus `json:"status"`
	SettledMultiplier float64     `json:"multiplier,omitempty"`
	Payout            int64       `json:"payout,omitempty"`
	PlacedAt          time.Time   `json:"placed_at"`
}

// RoundSnapshot is the public view of the current round, safe to send
// to any client at any time.
type RoundSnapshot struct {
	RoundID         string  `json:"round_id"`
	Phase           Phase   `json:"phase"`
	BettingPhase    bool    `json:"betting_phase"`
	IsActive        bool    `json:"is_active"`
	Crashed         bool    `json:"crashed"`
	Multiplier      float64 `json:"multiplier"`
	TimeRemainingMs int64   `json:"time_remaining_ms"`
}

type BetRequest struct {
	UserID       string           `json:"user_id"`
	Amount       int64            `json:"amount"`
	AutoCashOut  float64          `json:"auto_cash_out,omitempty"`
	ResponseChan chan BetResponse `json:"-"`
}

type BetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	WagerID string `json:"wager_id,omitempty"`
	Balance int64  `json:"balance"`
}

type CashoutRequest struct {
	UserID       string               `json:"user_id"`
	ResponseChan chan CashoutResponse `json:"-"`
}

type CashoutResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Payout     int64   `json:"payout,omitempty"`
	Balance    int64   `json:"balance"`
}

type CancelRequest struct {
	UserID       string              `json:"user_id"`
	RoundID      string              `json:"round_id,omitempty"`
	ResponseChan chan CancelResponse `json:"-"`
}

type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Balance int64  `json:"balance"`
}

// WSMessage is the envelope for every broadcast and targeted event.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type HistoryEntry struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
}

type BetPlacedEvent struct {
	UserID     string `json:"user_id"`
	WagerID    string `json:"wager_id"`
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
}

type CashedOutEvent struct {
	UserID     string  `json:"user_id"`
	WagerID    string  `json:"wager_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
	NewBalance int64   `json:"new_balance"`
}

type BetCancelledEvent struct {
	UserID     string `json:"user_id"`
	WagerID    string `json:"wager_id"`
	NewBalance int64  `json:"new_balance"`
}

type RoundEndedEvent struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
}

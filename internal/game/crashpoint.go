package game

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	MinCrashPoint = 1.01
	MaxCrashPoint = 100.00
	HouseEdge     = 0.03
)

// CrashPointGenerator draws crash points with a fixed house edge. An
// admin override, when set, is consumed by exactly one draw and then
// cleared. The generator is owned by the engine loop and must only be
// touched from there.
type CrashPointGenerator struct {
	edge     float64
	random   func() float64
	override float64
}

// NewCrashPointGenerator takes a uniform source over [0,1). A nil
// source falls back to math/rand via the engine config.
func NewCrashPointGenerator(edge float64, random func() float64) *CrashPointGenerator {
	return &CrashPointGenerator{edge: edge, random: random}
}

// SetOverride stashes the crash point for the next round.
func (g *CrashPointGenerator) SetOverride(v float64) error {
	if v < MinCrashPoint || v > MaxCrashPoint {
		return fmt.Errorf("crash point must be between %.2f and %.2f", MinCrashPoint, MaxCrashPoint)
	}
	g.override = v
	return nil
}

// Next returns the crash point for a new round.
func (g *CrashPointGenerator) Next() float64 {
	if g.override > 0 {
		v := g.override
		g.override = 0
		return v
	}
	return crashPointFrom(g.random(), g.edge)
}

// crashPointFrom maps a uniform draw r in [0,1) to a crash multiplier.
// The floor runs before the /100 so truncation always lands on the
// house-favorable side; the clamp bounds payout exposure as r -> 1.
func crashPointFrom(r, edge float64) float64 {
	raw := math.Floor(100/((1-r)*(1+edge))) / 100
	if raw < MinCrashPoint {
		return MinCrashPoint
	}
	if raw > MaxCrashPoint {
		return MaxCrashPoint
	}
	return raw
}

// GenerateSeed creates the per-round seed stored with the round record.
// Kept as a placeholder for a future fairness protocol.
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

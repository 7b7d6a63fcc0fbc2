package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crashd/internal/ledger"
)

const (
	MinBetAmount = 1
	MaxBetAmount = 10000

	HistorySize    = 20
	CommandTimeout = 5 * time.Second
)

// Config carries the engine timings. Tests shrink them; production
// uses DefaultConfig.
type Config struct {
	BettingDuration time.Duration
	CountdownTick   time.Duration
	TickInterval    time.Duration
	TickIncrement   float64
	CrashDelay      time.Duration
	HouseEdge       float64
	Rand            func() float64
}

func DefaultConfig() Config {
	return Config{
		BettingDuration: 5 * time.Second,
		CountdownTick:   100 * time.Millisecond,
		TickInterval:    50 * time.Millisecond,
		TickIncrement:   0.02,
		CrashDelay:      3 * time.Second,
		HouseEdge:       HouseEdge,
		Rand:            rand.Float64,
	}
}

// Broadcaster is the engine's view of the real-time gateway.
type Broadcaster interface {
	Broadcast(msg any)
	SendToUser(userID string, msg any)
}

// RoundStore persists round and wager records. Writes are
// fire-and-confirm: the in-memory round is authoritative and failures
// are logged, never retried inline.
type RoundStore interface {
	SaveRound(ctx context.Context, round Round) error
	SaveWager(ctx context.Context, wager Wager) error
}

// Engine is the authoritative round state machine. All state below
// the command channel is owned by the loop goroutine: player commands,
// admin overrides and timer ticks are applied one at a time, so a
// cash-out can never race a crash for the same wager.
type Engine struct {
	cfg     Config
	hub     Broadcaster
	ledger  *ledger.Ledger
	store   RoundStore
	rdb     *redis.Client
	history *History
	gen     *CrashPointGenerator

	cmdCh  chan command
	stopCh chan struct{}

	// Loop-owned state.
	round     *Round
	wagers    map[string]*Wager
	tickCount int
	roundSeq  int
}

// NewEngine wires the engine. store and rdb may be nil (memory-only).
func NewEngine(cfg Config, hub Broadcaster, l *ledger.Ledger, store RoundStore, rdb *redis.Client) *Engine {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Engine{
		cfg:     cfg,
		hub:     hub,
		ledger:  l,
		store:   store,
		rdb:     rdb,
		history: NewHistory(rdb, HistorySize),
		gen:     NewCrashPointGenerator(cfg.HouseEdge, cfg.Rand),
		cmdCh:   make(chan command, 256),
		stopCh:  make(chan struct{}),
		wagers:  make(map[string]*Wager),
	}
}

func (e *Engine) Run() {
	log.Println("[ENGINE] round loop started")
	for e.runRound() {
	}
	log.Println("[ENGINE] round loop stopped")
}

func (e *Engine) Stop() {
	close(e.stopCh)
}

// Commands

type command interface{ exec(e *Engine) }

type betCmd struct{ req BetRequest }
type cashoutCmd struct{ req CashoutRequest }
type cancelCmd struct{ req CancelRequest }
type snapshotCmd struct{ ch chan RoundSnapshot }
type historyCmd struct{ ch chan []HistoryEntry }
type forceStartCmd struct{ ch chan error }
type pauseCmd struct{ ch chan error }
type setCrashCmd struct {
	value float64
	ch    chan error
}

func (c betCmd) exec(e *Engine)      { e.handlePlaceBet(c.req) }
func (c cashoutCmd) exec(e *Engine)  { e.handleCashout(c.req) }
func (c cancelCmd) exec(e *Engine)   { e.handleCancel(c.req) }
func (c snapshotCmd) exec(e *Engine) { c.ch <- e.snapshot() }
func (c historyCmd) exec(e *Engine)  { c.ch <- e.history.Recent() }
func (c forceStartCmd) exec(e *Engine) {
	c.ch <- e.handleForceStart()
}
func (c pauseCmd) exec(e *Engine) {
	c.ch <- e.handlePause()
}
func (c setCrashCmd) exec(e *Engine) {
	c.ch <- e.gen.SetOverride(c.value)
}

// PlaceBet submits a wager for the current betting phase and waits
// for the engine's decision.
func (e *Engine) PlaceBet(req BetRequest) BetResponse {
	respChan := make(chan BetResponse, 1)
	req.ResponseChan = respChan
	select {
	case e.cmdCh <- betCmd{req: req}:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(CommandTimeout):
			return BetResponse{Message: "bet timeout"}
		}
	default:
		return BetResponse{Message: "engine busy, try again"}
	}
}

func (e *Engine) Cashout(req CashoutRequest) CashoutResponse {
	respChan := make(chan CashoutResponse, 1)
	req.ResponseChan = respChan
	select {
	case e.cmdCh <- cashoutCmd{req: req}:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(CommandTimeout):
			return CashoutResponse{Message: "cashout timeout"}
		}
	default:
		return CashoutResponse{Message: "engine busy, try again"}
	}
}

func (e *Engine) CancelBet(req CancelRequest) CancelResponse {
	respChan := make(chan CancelResponse, 1)
	req.ResponseChan = respChan
	select {
	case e.cmdCh <- cancelCmd{req: req}:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(CommandTimeout):
			return CancelResponse{Message: "cancel timeout"}
		}
	default:
		return CancelResponse{Message: "engine busy, try again"}
	}
}

// Snapshot returns the current public round state. ok is false when
// the engine is not serving (stopped or between loops).
func (e *Engine) Snapshot() (RoundSnapshot, bool) {
	ch := make(chan RoundSnapshot, 1)
	select {
	case e.cmdCh <- snapshotCmd{ch: ch}:
		select {
		case snap := <-ch:
			return snap, true
		case <-time.After(CommandTimeout):
			return RoundSnapshot{}, false
		}
	default:
		return RoundSnapshot{}, false
	}
}

// History returns the recent crash list, newest first.
func (e *Engine) History() []HistoryEntry {
	ch := make(chan []HistoryEntry, 1)
	select {
	case e.cmdCh <- historyCmd{ch: ch}:
		select {
		case entries := <-ch:
			return entries
		case <-time.After(CommandTimeout):
			return nil
		}
	default:
		return nil
	}
}

// ForceStart skips the remaining betting countdown, or resumes a
// paused round, putting the round in flight immediately.
func (e *Engine) ForceStart() error { return e.adminCmd(func(ch chan error) command { return forceStartCmd{ch: ch} }) }

// Pause freezes all round timers until ForceStart.
func (e *Engine) Pause() error { return e.adminCmd(func(ch chan error) command { return pauseCmd{ch: ch} }) }

// SetNextCrashPoint stashes an override consumed by the next round's
// crash-point draw.
func (e *Engine) SetNextCrashPoint(v float64) error {
	if v < MinCrashPoint || v > MaxCrashPoint {
		return fmt.Errorf("crash point must be between %.2f and %.2f", MinCrashPoint, MaxCrashPoint)
	}
	return e.adminCmd(func(ch chan error) command { return setCrashCmd{value: v, ch: ch} })
}

func (e *Engine) adminCmd(build func(chan error) command) error {
	ch := make(chan error, 1)
	select {
	case e.cmdCh <- build(ch):
		select {
		case err := <-ch:
			return err
		case <-time.After(CommandTimeout):
			return errors.New("engine timeout")
		}
	default:
		return errors.New("engine busy, try again")
	}
}

// Round loop

// runRound drives one full betting→active→crashed cycle. Returns
// false when the engine is stopping.
func (e *Engine) runRound() bool {
	select {
	case <-e.stopCh:
		return false
	default:
	}

	e.beginRound()

	countdown := time.NewTicker(e.cfg.CountdownTick)
	for e.round.Phase == PhaseBetting {
		select {
		case <-e.stopCh:
			countdown.Stop()
			return false
		case <-countdown.C:
			e.countdownTick()
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
	countdown.Stop()

	if e.round.Phase == PhasePaused && !e.waitResume() {
		return false
	}

	e.beginFlight()

	ticker := time.NewTicker(e.cfg.TickInterval)
	for e.round.Phase == PhaseActive || e.round.Phase == PhasePaused {
		if e.round.Phase == PhasePaused {
			ticker.Stop()
			if !e.waitResume() {
				return false
			}
			ticker = time.NewTicker(e.cfg.TickInterval)
			continue
		}
		select {
		case <-e.stopCh:
			ticker.Stop()
			return false
		case <-ticker.C:
			e.tick()
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
	ticker.Stop()

	// Crash delay: commands are still served (and rejected) so
	// clients get answers instead of timeouts between rounds.
	delay := time.NewTimer(e.cfg.CrashDelay)
	defer delay.Stop()
	for {
		select {
		case <-e.stopCh:
			return false
		case <-delay.C:
			return true
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
}

// waitResume serves commands while paused. Returns false on stop.
func (e *Engine) waitResume() bool {
	for e.round.Phase == PhasePaused {
		select {
		case <-e.stopCh:
			return false
		case cmd := <-e.cmdCh:
			cmd.exec(e)
		}
	}
	return true
}

func (e *Engine) beginRound() {
	e.roundSeq++
	e.round = &Round{
		RoundID:         fmt.Sprintf("R%d-%d", time.Now().UnixMilli(), e.roundSeq),
		Seed:            GenerateSeed(),
		CrashPoint:      e.gen.Next(),
		Multiplier:      1.00,
		Phase:           PhaseBetting,
		TimeRemainingMs: e.cfg.BettingDuration.Milliseconds(),
		StartTime:       time.Now(),
	}
	e.wagers = make(map[string]*Wager)
	e.tickCount = 0

	log.Printf("[ENGINE] round %s betting open, crash point %.2fx (hidden)", e.round.RoundID, e.round.CrashPoint)
	e.broadcastState()
}

func (e *Engine) countdownTick() {
	e.round.TimeRemainingMs -= e.cfg.CountdownTick.Milliseconds()
	if e.round.TimeRemainingMs <= 0 {
		e.round.TimeRemainingMs = 0
		e.round.Phase = PhaseActive
		return
	}
	e.broadcastState()
}

func (e *Engine) beginFlight() {
	e.round.Phase = PhaseActive
	e.round.Multiplier = 1.00
	e.tickCount = 0
	e.broadcastState()
}

// tick advances the multiplier one step. The crash check runs before
// auto cash-outs: once the crash point is reached every still-active
// wager is lost, so no settlement may happen at or past it. A panic
// in wager settlement must not take down the clock; the round is
// crashed instead to bound player exposure.
func (e *Engine) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ENGINE] tick panic in round %s: %v", e.round.RoundID, r)
			if e.round.Phase == PhaseActive {
				e.crash()
			}
		}
	}()

	e.tickCount++
	e.round.Multiplier = roundMultiplier(1.0 + e.cfg.TickIncrement*float64(e.tickCount))

	if e.round.Multiplier >= e.round.CrashPoint {
		e.round.Multiplier = e.round.CrashPoint
		e.crash()
		return
	}

	for _, w := range e.wagers {
		if w.Status == WagerActive && w.AutoCashOut > 0 && e.round.Multiplier >= w.AutoCashOut {
			e.settleCashout(w)
		}
	}

	e.hub.Broadcast(WSMessage{Type: "multiplier-update", Data: e.round.Multiplier})
}

func (e *Engine) crash() {
	e.round.Phase = PhaseCrashed
	e.round.EndTime = time.Now()

	lost := 0
	for _, w := range e.wagers {
		if w.Status == WagerActive {
			w.Status = WagerLost
			e.persistWager(*w)
			lost++
		}
		if w.Status != WagerCancelled {
			e.round.TotalBets++
			e.round.TotalVolume += w.Amount
		}
	}

	log.Printf("[ENGINE] round %s crashed at %.2fx (%d wagers lost)", e.round.RoundID, e.round.CrashPoint, lost)

	e.hub.Broadcast(WSMessage{Type: "game-crashed", Data: e.round.CrashPoint})
	e.hub.Broadcast(WSMessage{Type: "round-ended", Data: RoundEndedEvent{
		RoundID:    e.round.RoundID,
		CrashPoint: e.round.CrashPoint,
	}})

	e.history.Append(HistoryEntry{RoundID: e.round.RoundID, CrashPoint: e.round.CrashPoint})
	e.hub.Broadcast(WSMessage{Type: "history-update", Data: e.history.Recent()})

	e.persistRound(*e.round)
	e.broadcastState()
}

// Wager handling

func (e *Engine) handlePlaceBet(req BetRequest) {
	resp := BetResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	if req.Amount < MinBetAmount || req.Amount > MaxBetAmount {
		resp.Message = fmt.Sprintf("bet must be between %d and %d coins", MinBetAmount, MaxBetAmount)
		return
	}
	if req.AutoCashOut != 0 && req.AutoCashOut < MinCrashPoint {
		resp.Message = fmt.Sprintf("auto cash-out must be at least %.2f", MinCrashPoint)
		return
	}
	if e.round == nil || e.round.Phase != PhaseBetting {
		resp.Message = "betting is closed"
		return
	}
	if w, ok := e.wagers[req.UserID]; ok && w.Status == WagerActive {
		resp.Message = "already placed a bet this round"
		return
	}

	acct, err := e.ledger.Debit(req.UserID, req.Amount)
	if err != nil {
		resp.Message = fmt.Sprintf("insufficient available balance: %d coins available (%d reserved)",
			acct.Available(), acct.Reserved)
		resp.Balance = acct.Balance
		return
	}

	wager := &Wager{
		WagerID:     uuid.New().String(),
		RoundID:     e.round.RoundID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		AutoCashOut: req.AutoCashOut,
		Status:      WagerActive,
		PlacedAt:    time.Now(),
	}
	e.wagers[req.UserID] = wager
	e.persistWager(*wager)

	resp.Success = true
	resp.WagerID = wager.WagerID
	resp.Balance = acct.Balance
	resp.Message = "bet placed"

	e.hub.SendToUser(req.UserID, WSMessage{Type: "bet-placed", Data: BetPlacedEvent{
		UserID:     req.UserID,
		WagerID:    wager.WagerID,
		Amount:     wager.Amount,
		NewBalance: acct.Balance,
	}})
	log.Printf("[ENGINE] bet placed: user=%s amount=%d round=%s", req.UserID, req.Amount, e.round.RoundID)
}

func (e *Engine) handleCashout(req CashoutRequest) {
	resp := CashoutResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	if e.round == nil || e.round.Phase != PhaseActive {
		resp.Message = "no active round to cash out"
		return
	}
	w, ok := e.wagers[req.UserID]
	if !ok || w.Status != WagerActive {
		resp.Message = "no active bet to cash out"
		return
	}

	acct := e.settleCashout(w)
	resp.Success = true
	resp.Multiplier = w.SettledMultiplier
	resp.Payout = w.Payout
	resp.Balance = acct.Balance
	resp.Message = fmt.Sprintf("cashed out at %.2fx", w.SettledMultiplier)
}

// settleCashout marks the wager settled at the current multiplier and
// credits the payout. Only called from the loop, with the wager still
// active and the round in flight.
func (e *Engine) settleCashout(w *Wager) ledger.Account {
	w.Status = WagerCashedOut
	w.SettledMultiplier = e.round.Multiplier
	w.Payout = int64(math.Floor(float64(w.Amount) * e.round.Multiplier))

	acct, _ := e.ledger.Credit(w.UserID, w.Payout)
	e.persistWager(*w)

	e.hub.SendToUser(w.UserID, WSMessage{Type: "cashed-out", Data: CashedOutEvent{
		UserID:     w.UserID,
		WagerID:    w.WagerID,
		Multiplier: w.SettledMultiplier,
		Payout:     w.Payout,
		NewBalance: acct.Balance,
	}})
	log.Printf("[ENGINE] cashout: user=%s payout=%d at %.2fx", w.UserID, w.Payout, w.SettledMultiplier)
	return acct
}

func (e *Engine) handleCancel(req CancelRequest) {
	resp := CancelResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()

	if e.round == nil || e.round.Phase != PhaseBetting {
		resp.Message = "cannot cancel bet at this time"
		return
	}
	// A retried cancel from a previous round must not touch the bet
	// placed in the current one.
	if req.RoundID != "" && req.RoundID != e.round.RoundID {
		resp.Message = "bet belongs to an earlier round"
		return
	}
	w, ok := e.wagers[req.UserID]
	if !ok || w.Status != WagerActive {
		resp.Message = "no active bet to cancel"
		return
	}

	w.Status = WagerCancelled
	acct, _ := e.ledger.Credit(w.UserID, w.Amount)
	e.persistWager(*w)

	resp.Success = true
	resp.Balance = acct.Balance
	resp.Message = "bet cancelled"

	e.hub.SendToUser(w.UserID, WSMessage{Type: "bet-cancelled", Data: BetCancelledEvent{
		UserID:     w.UserID,
		WagerID:    w.WagerID,
		NewBalance: acct.Balance,
	}})
	log.Printf("[ENGINE] bet cancelled: user=%s refund=%d", w.UserID, w.Amount)
}

// Admin overrides

func (e *Engine) handleForceStart() error {
	if e.round == nil {
		return errors.New("no round")
	}
	switch e.round.Phase {
	case PhaseBetting, PhasePaused:
		e.round.TimeRemainingMs = 0
		e.round.Phase = PhaseActive
		return nil
	case PhaseActive:
		return errors.New("round already in flight")
	default:
		return errors.New("round already crashed, wait for the next round")
	}
}

func (e *Engine) handlePause() error {
	if e.round == nil {
		return errors.New("no round")
	}
	switch e.round.Phase {
	case PhaseBetting, PhaseActive:
		e.round.Phase = PhasePaused
		e.broadcastState()
		return nil
	case PhasePaused:
		return errors.New("round already paused")
	default:
		return errors.New("round already crashed")
	}
}

// State helpers

func (e *Engine) snapshot() RoundSnapshot {
	if e.round == nil {
		return RoundSnapshot{}
	}
	return RoundSnapshot{
		RoundID:         e.round.RoundID,
		Phase:           e.round.Phase,
		BettingPhase:    e.round.Phase == PhaseBetting,
		IsActive:        e.round.Phase == PhaseActive,
		Crashed:         e.round.Phase == PhaseCrashed,
		Multiplier:      e.round.Multiplier,
		TimeRemainingMs: e.round.TimeRemainingMs,
	}
}

func (e *Engine) broadcastState() {
	snap := e.snapshot()
	e.hub.Broadcast(WSMessage{Type: "game-state", Data: snap})
	cacheRoundSnapshot(e.rdb, snap)
}

func (e *Engine) persistWager(w Wager) {
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.store.SaveWager(ctx, w); err != nil {
			log.Printf("[ENGINE] wager save failed for %s: %v", w.WagerID, err)
		}
	}()
}

func (e *Engine) persistRound(r Round) {
	if e.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.store.SaveRound(ctx, r); err != nil {
			log.Printf("[ENGINE] round save failed for %s: %v", r.RoundID, err)
		}
	}()
}

// roundMultiplier keeps tick arithmetic on exactly 2 decimals.
func roundMultiplier(v float64) float64 {
	return math.Round(v*100) / 100
}

package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"crashd/internal/game"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.ClientCount(),
		},
	})
}

// Game handlers

func (s *FiberServer) gameStateHandler(c *fiber.Ctx) error {
	snap, ok := s.engine.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "no active game round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) gameHistoryHandler(c *fiber.Ctx) error {
	entries := s.engine.History()
	if entries == nil {
		entries = []game.HistoryEntry{}
	}
	return c.JSON(entries)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	resp := s.engine.PlaceBet(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	resp := s.engine.Cashout(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) cancelBetHandler(c *fiber.Ctx) error {
	var req game.CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	resp := s.engine.CancelBet(req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

// Balance / wallet handlers

func (s *FiberServer) balanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}
	acct := s.ledger.Get(userID)
	return c.JSON(fiber.Map{
		"user_id":           acct.UserID,
		"balance":           acct.Balance,
		"available_balance": acct.Available(),
		"reserved_balance":  acct.Reserved,
	})
}

type walletRequest struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	var req walletRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	tx, err := s.txProc.RequestDeposit(req.UserID, req.Amount, req.PaymentMethod)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message":     "deposit request submitted",
		"transaction": tx,
	})
}

func (s *FiberServer) withdrawalHandler(c *fiber.Ctx) error {
	var req walletRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	tx, err := s.txProc.RequestWithdrawal(req.UserID, req.Amount, req.PaymentMethod)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	acct := s.ledger.Get(req.UserID)
	return c.JSON(fiber.Map{
		"message":           "withdrawal request submitted, amount reserved",
		"transaction":       tx,
		"available_balance": acct.Available(),
		"reserved_balance":  acct.Reserved,
	})
}

func (s *FiberServer) pendingTransactionsHandler(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}
	return c.JSON(fiber.Map{
		"pending_transactions": s.txProc.Pending(userID),
	})
}

// Admin handlers

func (s *FiberServer) adminStatsHandler(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to load stats"})
	}
	return c.JSON(fiber.Map{
		"stats":                stats,
		"pending_transactions": len(s.txProc.Pending("")),
		"connected_clients":    s.hub.ClientCount(),
	})
}

func (s *FiberServer) adminRoundHandler(c *fiber.Ctx) error {
	snap, ok := s.engine.Snapshot()
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no active game round"})
	}
	return c.JSON(snap)
}

func (s *FiberServer) adminSetCrashHandler(c *fiber.Ctx) error {
	var body struct {
		CrashPoint float64 `json:"crash_point"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.engine.SetNextCrashPoint(body.CrashPoint); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message": "crash point set for next round",
	})
}

func (s *FiberServer) adminPauseHandler(c *fiber.Ctx) error {
	if err := s.engine.Pause(); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "game paused"})
}

func (s *FiberServer) adminResumeHandler(c *fiber.Ctx) error {
	if err := s.engine.ForceStart(); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "round started"})
}

func (s *FiberServer) adminTransactionsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"transactions": s.txProc.Pending(""),
	})
}

func (s *FiberServer) adminProcessTransactionHandler(c *fiber.Ctx) error {
	txID := c.Params("id")
	var body struct {
		Action  string `json:"action"` // approve | reject
		Notes   string `json:"notes,omitempty"`
		AdminID string `json:"admin_id,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Action != "approve" && body.Action != "reject" {
		return c.Status(400).JSON(fiber.Map{"error": "action must be approve or reject"})
	}

	tx, err := s.txProc.Process(txID, body.Action == "approve", body.Notes, body.AdminID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message":     "transaction processed",
		"transaction": tx,
	})
}

func (s *FiberServer) adminAdjustBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	var body struct {
		Amount int64  `json:"amount"`
		Action string `json:"action"` // credit | debit
	}
	if err := c.BodyParser(&body); err != nil || body.Amount <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	delta := body.Amount
	switch body.Action {
	case "credit":
	case "debit":
		delta = -delta
	default:
		return c.Status(400).JSON(fiber.Map{"error": "action must be credit or debit"})
	}

	acct, err := s.ledger.Adjust(userID, delta)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"user_id": acct.UserID,
		"balance": acct.Balance,
	})
}

// WebSocket gateway

// gameWebSocketHandler is the per-connection read loop for the
// real-time gateway. The connection is keyed by user_id; a reconnect
// gets a fresh game-state snapshot and keeps any wager it holds.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id")
	if userID == "" {
		conn.WriteMessage(websocket.TextMessage, mustJSON(game.WSMessage{
			Type: "error",
			Data: fiber.Map{"message": "user_id is required"},
		}))
		conn.Close()
		return
	}

	s.hub.RegisterClient(conn, userID)

	if snap, ok := s.engine.Snapshot(); ok {
		conn.WriteMessage(websocket.TextMessage, mustJSON(game.WSMessage{
			Type: "game-state",
			Data: snap,
		}))
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.UnregisterClient(conn)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd struct {
			Type        string  `json:"type"`
			Amount      int64   `json:"amount"`
			AutoCashOut float64 `json:"auto_cash_out"`
			RoundID     string  `json:"round_id"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "place_bet":
			resp := s.engine.PlaceBet(game.BetRequest{
				UserID:      userID,
				Amount:      cmd.Amount,
				AutoCashOut: cmd.AutoCashOut,
			})
			s.writeWS(conn, userID, resp.Success, resp, resp.Message)

		case "cashout":
			resp := s.engine.Cashout(game.CashoutRequest{UserID: userID})
			s.writeWS(conn, userID, resp.Success, resp, resp.Message)

		case "cancel_bet":
			resp := s.engine.CancelBet(game.CancelRequest{UserID: userID, RoundID: cmd.RoundID})
			s.writeWS(conn, userID, resp.Success, resp, resp.Message)

		case "ping":
			conn.WriteMessage(websocket.TextMessage, mustJSON(game.WSMessage{Type: "pong"}))
		}
	}
}

// writeWS replies on the initiating connection; rejections go back as
// a targeted error event, never broadcast.
func (s *FiberServer) writeWS(conn *websocket.Conn, userID string, ok bool, resp any, message string) {
	if ok {
		conn.WriteMessage(websocket.TextMessage, mustJSON(resp))
		return
	}
	conn.WriteMessage(websocket.TextMessage, mustJSON(game.WSMessage{
		Type: "error",
		Data: fiber.Map{"message": message},
	}))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WS] marshal error: %v", err)
		return []byte(`{"type":"error"}`)
	}
	return data
}

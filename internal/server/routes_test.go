package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"crashd/internal/game"
	"crashd/internal/ledger"
)

type fakeDB struct{}

func (fakeDB) DB() *sql.DB               { return nil }
func (fakeDB) Health() map[string]string { return map[string]string{"status": "up"} }
func (fakeDB) Close() error              { return nil }

type fakeCache struct{}

func (fakeCache) Client() *redis.Client     { return nil }
func (fakeCache) Health() map[string]string { return map[string]string{"status": "up"} }
func (fakeCache) Close() error              { return nil }

func newTestServer(t *testing.T) *FiberServer {
	t.Helper()

	hub := game.NewHub()
	bank := ledger.New(nil, nil)
	txProc := ledger.NewProcessor(bank, nil, nil)

	cfg := game.DefaultConfig()
	cfg.Rand = func() float64 { return 0.5 } // crash point 1.94
	engine := game.NewEngine(cfg, hub, bank, nil, nil)

	s := &FiberServer{
		App:        fiber.New(),
		db:         fakeDB{},
		cache:      fakeCache{},
		hub:        hub,
		engine:     engine,
		ledger:     bank,
		txProc:     txProc,
		adminToken: "test-token",
	}
	s.RegisterFiberRoutes()

	go hub.Run()
	go engine.Run()
	t.Cleanup(func() { engine.Stop() })
	return s
}

func doJSON(t *testing.T, s *FiberServer, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.App.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	decoded := map[string]any{}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	json.Unmarshal(data, &decoded)
	return resp, decoded
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, "GET", "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, key := range []string{"database", "cache", "game"} {
		if _, ok := body[key]; !ok {
			t.Errorf("health response missing %q", key)
		}
	}
}

func TestGameRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("state is served", func(t *testing.T) {
		resp, body := doJSON(t, s, "GET", "/api/v1/game/state", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if id, ok := body["round_id"].(string); !ok || id == "" {
			t.Errorf("state round_id = %v, want non-empty", body["round_id"])
		}
	})

	t.Run("bet requires user_id", func(t *testing.T) {
		resp, _ := doJSON(t, s, "POST", "/api/v1/game/bet",
			map[string]any{"amount": 100}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("bet then balance", func(t *testing.T) {
		// Retry until a betting window is open; the round cycles on
		// its own clock underneath the test.
		deadline := time.After(15 * time.Second)
		for {
			resp, body := doJSON(t, s, "POST", "/api/v1/game/bet",
				map[string]any{"user_id": "alice", "amount": 100}, nil)
			if resp.StatusCode == http.StatusOK {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("bet never accepted, last status = %d, body = %v", resp.StatusCode, body)
			default:
				time.Sleep(100 * time.Millisecond)
			}
		}

		resp, body := doJSON(t, s, "GET", "/api/v1/user/alice/balance", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("balance status = %d", resp.StatusCode)
		}
		if got := body["balance"].(float64); got != ledger.StartingBalance-100 {
			t.Errorf("balance = %v, want %d", got, ledger.StartingBalance-100)
		}
	})

	t.Run("history is a list", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/game/history", nil)
		resp, err := s.App.Test(req, -1)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var entries []game.HistoryEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			t.Errorf("history is not a JSON list: %v", err)
		}
	})
}

func TestWalletRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, "POST", "/api/v1/wallet/deposit",
		map[string]any{"user_id": "alice", "amount": 500, "payment_method": "mpesa"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, s, "GET", "/api/v1/wallet/pending?user_id=alice", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status = %d", resp.StatusCode)
	}
	pending, ok := body["pending_transactions"].([]any)
	if !ok || len(pending) != 1 {
		t.Errorf("pending_transactions = %v, want one entry", body["pending_transactions"])
	}

	resp, _ = doJSON(t, s, "POST", "/api/v1/wallet/withdrawal",
		map[string]any{"user_id": "alice", "amount": ledger.StartingBalance * 2}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("uncovered withdrawal status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		resp, _ := doJSON(t, s, "GET", "/api/v1/admin/round", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		resp, _ := doJSON(t, s, "GET", "/api/v1/admin/round", nil,
			map[string]string{"X-Admin-Token": "wrong"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		resp, _ := doJSON(t, s, "GET", "/api/v1/admin/round", nil,
			map[string]string{"X-Admin-Token": "test-token"})
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestAdminGameControls(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"X-Admin-Token": "test-token"}

	t.Run("crash point override", func(t *testing.T) {
		resp, _ := doJSON(t, s, "POST", "/api/v1/admin/game/crash-point",
			map[string]any{"crash_point": 2.50}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}

		resp, _ = doJSON(t, s, "POST", "/api/v1/admin/game/crash-point",
			map[string]any{"crash_point": 500.0}, auth)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("out-of-range status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("pause and resume", func(t *testing.T) {
		// A crashed round rejects pause; retry until the next round
		// is pausable.
		deadline := time.After(15 * time.Second)
		for {
			resp, body := doJSON(t, s, "POST", "/api/v1/admin/game/pause", nil, auth)
			if resp.StatusCode == http.StatusOK {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("pause never accepted, last status = %d, body = %v", resp.StatusCode, body)
			default:
				time.Sleep(100 * time.Millisecond)
			}
		}
		resp, body := doJSON(t, s, "POST", "/api/v1/admin/game/resume", nil, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("resume status = %d, body = %v", resp.StatusCode, body)
		}
	})

	t.Run("balance adjustment", func(t *testing.T) {
		resp, body := doJSON(t, s, "POST", "/api/v1/admin/users/bob/balance",
			map[string]any{"amount": 500, "action": "credit"}, auth)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
		}
		if got := body["balance"].(float64); got != ledger.StartingBalance+500 {
			t.Errorf("balance = %v, want %d", got, ledger.StartingBalance+500)
		}

		resp, _ = doJSON(t, s, "POST", "/api/v1/admin/users/bob/balance",
			map[string]any{"amount": 500, "action": "transfer"}, auth)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("bad action status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestAdminProcessTransaction(t *testing.T) {
	s := newTestServer(t)
	auth := map[string]string{"X-Admin-Token": "test-token"}

	tx, err := s.txProc.RequestWithdrawal("alice", 400, "mpesa")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	resp, body := doJSON(t, s, "POST", "/api/v1/admin/transactions/"+tx.ID+"/process",
		map[string]any{"action": "approve", "admin_id": "admin-1"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if acct := s.ledger.Get("alice"); acct.Balance != ledger.StartingBalance-400 || acct.Reserved != 0 {
		t.Errorf("balance=%d reserved=%d, want %d/0", acct.Balance, acct.Reserved, ledger.StartingBalance-400)
	}

	resp, _ = doJSON(t, s, "POST", "/api/v1/admin/transactions/"+tx.ID+"/process",
		map[string]any{"action": "approve"}, auth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("double process status = %d, want 400", resp.StatusCode)
	}
}

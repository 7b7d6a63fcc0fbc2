package game

import (
	"testing"
	"time"
)

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for h.ClientCount() != want {
		select {
		case <-deadline:
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), want)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestHub_Register(t *testing.T) {
	h := NewHub()
	go h.Run()

	h.register <- &Client{userID: "alice"}
	h.register <- &Client{userID: "alice"} // second tab
	h.register <- &Client{userID: "bob"}
	waitForCount(t, h, 3)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.byUser["alice"]) != 2 {
		t.Errorf("alice connections = %d, want 2", len(h.byUser["alice"]))
	}
	if len(h.byUser["bob"]) != 1 {
		t.Errorf("bob connections = %d, want 1", len(h.byUser["bob"]))
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	// No Run loop draining: the channel fills and Broadcast must
	// start dropping instead of stalling the caller.
	h := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Broadcast(WSMessage{Type: "multiplier-update", Data: 1.02})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}
}

func TestHub_SendToUserOffline(t *testing.T) {
	h := NewHub()
	// Must be a silent no-op, not a panic or a hang.
	h.SendToUser("ghost", WSMessage{Type: "balance-update", Data: 42})
}

package game

import (
	"fmt"
	"testing"
)

func TestHistory_NewestFirst(t *testing.T) {
	h := NewHistory(nil, 20)
	h.Append(HistoryEntry{RoundID: "r1", CrashPoint: 1.50})
	h.Append(HistoryEntry{RoundID: "r2", CrashPoint: 3.20})
	h.Append(HistoryEntry{RoundID: "r3", CrashPoint: 1.01})

	got := h.Recent()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].RoundID != "r3" || got[2].RoundID != "r1" {
		t.Errorf("order = [%s %s %s], want newest first", got[0].RoundID, got[1].RoundID, got[2].RoundID)
	}
}

func TestHistory_TrimsToLimit(t *testing.T) {
	h := NewHistory(nil, 20)
	for i := 0; i < 25; i++ {
		h.Append(HistoryEntry{RoundID: fmt.Sprintf("r%d", i), CrashPoint: 2.00})
	}

	got := h.Recent()
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0].RoundID != "r24" {
		t.Errorf("newest = %s, want r24", got[0].RoundID)
	}
	if got[19].RoundID != "r5" {
		t.Errorf("oldest kept = %s, want r5", got[19].RoundID)
	}
}

func TestHistory_RecentReturnsCopy(t *testing.T) {
	h := NewHistory(nil, 20)
	h.Append(HistoryEntry{RoundID: "r1", CrashPoint: 1.50})

	got := h.Recent()
	got[0].RoundID = "mutated"
	if h.Recent()[0].RoundID != "r1" {
		t.Error("Recent must return a copy, not the backing slice")
	}
}

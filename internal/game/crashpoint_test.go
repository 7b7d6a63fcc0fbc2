package game

import (
	"math"
	"math/rand"
	"testing"
)

func TestCrashPointFrom(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want float64
	}{
		{"r=0 clamps to minimum", 0, 1.01},
		{"r=0.5", 0.5, 1.94},
		{"r=0.9", 0.9, 9.70},
		{"r=0.99", 0.99, 97.08},
		{"r near 1 clamps to maximum", 0.9999, 100.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := crashPointFrom(tt.r, HouseEdge)
			if got != tt.want {
				t.Errorf("crashPointFrom(%v) = %v, want %v", tt.r, got, tt.want)
			}
		})
	}
}

func TestCrashPointFrom_FloorsTowardsHouse(t *testing.T) {
	// 100/(0.515*1.03) = 188.536..., the truncation must land on
	// 1.88, never round up to 1.89.
	got := crashPointFrom(0.485, HouseEdge)
	if got != 1.88 {
		t.Errorf("crashPointFrom(0.485) = %v, want 1.88", got)
	}
}

func TestCrashPointGenerator_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	gen := NewCrashPointGenerator(HouseEdge, rng.Float64)

	for i := 0; i < 10000; i++ {
		v := gen.Next()
		if v < MinCrashPoint || v > MaxCrashPoint {
			t.Fatalf("crash point %v out of [%v, %v]", v, MinCrashPoint, MaxCrashPoint)
		}
		// At most 2 decimal places.
		scaled := v * 100
		if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
			t.Fatalf("crash point %v has more than 2 decimal places", v)
		}
	}
}

func TestCrashPointGenerator_Override(t *testing.T) {
	gen := NewCrashPointGenerator(HouseEdge, func() float64 { return 0.5 })

	t.Run("consumed exactly once", func(t *testing.T) {
		if err := gen.SetOverride(1.50); err != nil {
			t.Fatalf("SetOverride(1.50) error: %v", err)
		}
		if got := gen.Next(); got != 1.50 {
			t.Errorf("Next() = %v, want override 1.50", got)
		}
		// Next draw goes back to the random source.
		if got := gen.Next(); got != 1.94 {
			t.Errorf("Next() after override = %v, want 1.94", got)
		}
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		if err := gen.SetOverride(1.00); err == nil {
			t.Error("SetOverride(1.00) should fail")
		}
		if err := gen.SetOverride(100.01); err == nil {
			t.Error("SetOverride(100.01) should fail")
		}
		if err := gen.SetOverride(100.00); err != nil {
			t.Errorf("SetOverride(100.00) error: %v", err)
		}
	})
}

func TestGenerateSeed(t *testing.T) {
	s1 := GenerateSeed()
	s2 := GenerateSeed()

	if len(s1) != 64 {
		t.Errorf("seed length = %d, want 64 hex chars", len(s1))
	}
	if s1 == s2 {
		t.Error("consecutive seeds should differ")
	}
}

package budget

import "testing"

func TestReserveRespectsOrchestratorReserve(t *testing.T) {
	p := New(Config{TotalTokens: 1000, TotalCost: 100, OrchestratorReserveRatio: 0.2, BaseTokens: 100})
	// Reserve is 200 tokens; spendable ceiling is 800.
	for i := 0; i < 20; i++ {
		if _, ok := p.Reserve("t", 5, 1); !ok {
			break
		}
	}
	if p.HasCapacity() {
		t.Fatalf("expected capacity exhausted once tokensUsed nears the spendable ceiling")
	}
	remaining, _ := p.Remaining()
	if remaining < 0 {
		t.Fatalf("remaining should never go negative, got %d", remaining)
	}
}

func TestRetryMultiplierIncreasesBudget(t *testing.T) {
	p1 := New(Config{TotalTokens: 100000, TotalCost: 100, BaseTokens: 1000})
	a1, ok := p1.Reserve("t", 5, 1)
	if !ok {
		t.Fatalf("expected reservation to succeed")
	}

	p2 := New(Config{TotalTokens: 100000, TotalCost: 100, BaseTokens: 1000})
	a2, ok := p2.Reserve("t", 5, 3)
	if !ok {
		t.Fatalf("expected reservation to succeed")
	}

	if a2.TokenBudget <= a1.TokenBudget {
		t.Fatalf("expected attempt 3 budget (%d) to exceed attempt 1 budget (%d)", a2.TokenBudget, a1.TokenBudget)
	}
}

func TestReleaseCreditsUnusedTokens(t *testing.T) {
	p := New(Config{TotalTokens: 10000, TotalCost: 100, BaseTokens: 1000})
	alloc, ok := p.Reserve("t", 5, 1)
	if !ok {
		t.Fatalf("expected reservation to succeed")
	}
	before, _ := p.Remaining()
	p.Release(alloc, alloc.TokenBudget/2, 0.01)
	after, _ := p.Remaining()
	if after <= before {
		t.Fatalf("expected remaining tokens to increase after releasing unused half, before=%d after=%d", before, after)
	}
}

func TestReserveDeniedWhenCostExhausted(t *testing.T) {
	p := New(Config{TotalTokens: 1000000, TotalCost: 0.0, BaseTokens: 1000})
	if _, ok := p.Reserve("t", 5, 1); ok {
		t.Fatalf("expected reservation denied when cost budget is zero")
	}
}

func TestIterationMultiplierSchedule(t *testing.T) {
	cases := map[int]float64{1: 1.0, 2: 1.0, 3: 1.5, 4: 1.5, 9: 1.5}
	for attempt, want := range cases {
		if got := IterationMultiplier(attempt); got != want {
			t.Fatalf("attempt %d: want %v got %v", attempt, want, got)
		}
	}
}

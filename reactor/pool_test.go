//go:build linux

package reactor

import "testing"

func TestEventLoopPoolZeroWorkersReturnsBase(t *testing.T) {
	base, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer base.Close()

	pool := NewEventLoopPool(base, nil)
	if err := pool.Start(0); err != nil {
		t.Fatalf("Start(0) error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if got := pool.Next(); got != base {
			t.Fatalf("Next() = %p, want base loop %p", got, base)
		}
	}
}

func TestEventLoopPoolRoundRobins(t *testing.T) {
	base, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer base.Close()

	pool := NewEventLoopPool(base, nil)
	if err := pool.Start(3); err != nil {
		t.Fatalf("Start(3) error = %v", err)
	}
	defer pool.Close()

	loops := pool.All()
	if len(loops) != 3 {
		t.Fatalf("All() returned %d loops, want 3", len(loops))
	}
	for round := 0; round < 2; round++ {
		for i := 0; i < 3; i++ {
			if got := pool.Next(); got != loops[i] {
				t.Fatalf("round %d: Next() = %p, want loops[%d] = %p", round, got, i, loops[i])
			}
		}
	}
}

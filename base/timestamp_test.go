package base

import "testing"

func TestAddMonotone(t *testing.T) {
	ts := Now()
	prev := ts
	for _, d := range []float64{0.001, 0.5, 1, 10, 3600} {
		next := Add(ts, d)
		if !next.After(prev) {
			t.Fatalf("Add(%v, %v) = %v, want strictly after %v", ts, d, next, prev)
		}
		prev = next
	}
}

func TestAddRounding(t *testing.T) {
	ts := Timestamp(0)
	got := Add(ts, 1.5)
	if got != 1500000 {
		t.Fatalf("Add(0, 1.5) = %d, want 1500000", int64(got))
	}
}

func TestOrdering(t *testing.T) {
	a, b := Timestamp(100), Timestamp(200)
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("ordering broken: a=%d b=%d", a, b)
	}
	if !b.After(a) || a.After(b) {
		t.Fatalf("ordering broken: a=%d b=%d", a, b)
	}
}

func TestInvalid(t *testing.T) {
	var zero Timestamp
	if !zero.Invalid() {
		t.Fatalf("zero value should be invalid")
	}
	if Now().Invalid() {
		t.Fatalf("Now() should not be invalid")
	}
}

//go:build linux

package timer

import (
	"testing"
	"time"

	"github.com/govoltron/reactor/base"
)

// fakeLoop runs everything synchronously on the calling goroutine and
// records every fd registered for readability, so Queue's ordering
// logic can be exercised without a real epoll-driven EventLoop.
type fakeLoop struct {
	watched map[int]func(base.Timestamp)
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{watched: make(map[int]func(base.Timestamp))}
}

func (l *fakeLoop) RunInLoop(f func()) { f() }

func (l *fakeLoop) WatchReadable(fd int, cb func(base.Timestamp)) func() {
	l.watched[fd] = cb
	return func() { delete(l.watched, fd) }
}

func TestAddTimerOrdersByExpirationThenID(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	now := base.Now()
	var fired []int
	q.AddTimer(func() { fired = append(fired, 2) }, base.Add(now, 0.02), 0)
	q.AddTimer(func() { fired = append(fired, 1) }, base.Add(now, 0.01), 0)
	q.AddTimer(func() { fired = append(fired, 3) }, base.Add(now, 0.03), 0)

	if len(q.entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(q.entries))
	}
	for i := 1; i < len(q.entries); i++ {
		if q.entries[i-1].expires > q.entries[i].expires {
			t.Fatalf("entries not sorted by expiration")
		}
	}

	// Timers due at the same instant are ordered by ID.
	tq := NewQueue(newFakeLoop())
	defer tq.Close()
	same := base.Add(now, 0.05)
	first := tq.AddTimer(func() {}, same, 0)
	second := tq.AddTimer(func() {}, same, 0)
	if len(tq.entries) != 2 || tq.entries[0].id != first || tq.entries[1].id != second {
		t.Fatalf("equal expirations not ordered by ID: %v", tq.entries)
	}
}

func TestGetExpiredSplitsAtNow(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	base0 := base.Timestamp(1_000_000)
	q.insert(&entry{id: 1, expires: base0 - 10, callback: func() {}})
	q.insert(&entry{id: 2, expires: base0 + 10, callback: func() {}})

	expired := q.getExpired(base0)
	if len(expired) != 1 || expired[0].id != 1 {
		t.Fatalf("getExpired returned %d entries, want 1 with id 1", len(expired))
	}
	if len(q.entries) != 1 || q.entries[0].id != 2 {
		t.Fatalf("remaining entries = %v, want the not-yet-due entry", q.entries)
	}
}

func TestRepeatingTimerReschedulesAfterFiring(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	base0 := base.Now()
	count := 0
	e := &entry{id: 1, expires: base0 - 10, interval: 0.001, callback: func() { count++ }}
	q.insert(e)

	q.handleRead(base0)
	if count != 1 {
		t.Fatalf("count = %d after first handleRead, want 1", count)
	}
	if len(q.entries) != 1 {
		t.Fatalf("repeating timer should have been re-inserted, got %d entries", len(q.entries))
	}
	if !q.entries[0].expires.After(base0) {
		t.Fatalf("rescheduled expiration should be after now")
	}
}

func TestCanceledTimerDoesNotFire(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	base0 := base.Now()
	fired := false
	id := q.AddTimer(func() { fired = true }, base0-10, 0)
	q.Cancel(id)
	q.handleRead(base0)

	if fired {
		t.Fatalf("canceled timer fired")
	}
}

func TestOneShotTimerIsNotRescheduled(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	base0 := base.Now()
	q.insert(&entry{id: 1, expires: base0 - 10, callback: func() {}})
	q.handleRead(base0)

	if len(q.entries) != 0 {
		t.Fatalf("one-shot timer left %d entries behind, want 0", len(q.entries))
	}
}

func TestResetTimerfdFloorsNearPastDeadlines(t *testing.T) {
	q := NewQueue(newFakeLoop())
	defer q.Close()

	// Should not panic even when the deadline is already behind now.
	q.resetTimerfd(base.Now() - base.Timestamp(time.Second.Microseconds()))
}

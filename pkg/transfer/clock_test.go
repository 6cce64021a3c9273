package transfer

import (
	"testing"
	"time"
)

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	var order []string
	var firedAt []time.Duration
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			firedAt = append(firedAt, c.Now().Sub(start))
		}
	}
	c.AfterFunc(3*time.Second, record("c"))
	c.AfterFunc(time.Second, record("a"))
	c.AfterFunc(2*time.Second, record("b"))
	late := c.AfterFunc(time.Minute, record("late"))

	c.Advance(5 * time.Second)

	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("fired %v, want [a b c]", order)
	}
	if firedAt[1] != 2*time.Second {
		t.Errorf("b fired at %v, want 2s", firedAt[1])
	}
	if got := c.Now().Sub(start); got != 5*time.Second {
		t.Errorf("Now() = +%v, want +5s", got)
	}
	if c.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", c.PendingTimers())
	}
	if !late.Stop() {
		t.Error("Stop() on pending timer = false")
	}
	if late.Stop() {
		t.Error("second Stop() = true")
	}
	c.Advance(time.Hour)
	if len(order) != 3 {
		t.Errorf("stopped timer fired: %v", order)
	}
}

func TestFakeClockTimerArmedByCallback(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	fired := 0
	var tick func()
	tick = func() {
		fired++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)
	if fired != 3 {
		t.Errorf("fired %d times, want 3", fired)
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	RealClock{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

package clock_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/voice/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(epoch)
	var order []string
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(time.Second, func() { order = append(order, "c") })

	c.Advance(500 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
	if got := c.Now().Sub(epoch); got != 500*time.Millisecond {
		t.Errorf("Now() advanced by %v, want 500ms", got)
	}
}

func TestManual_StopPreventsRun(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("Stop() = false on pending timer, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestManual_StopAfterFireReturnsFalse(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(epoch)
	tm := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Millisecond)
	if tm.Stop() {
		t.Error("Stop() after fire = true, want false")
	}
}

func TestManual_NestedScheduling(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(epoch)
	count := 0
	var rearm func()
	rearm = func() {
		count++
		if count < 3 {
			c.AfterFunc(100*time.Millisecond, rearm)
		}
	}
	c.AfterFunc(100*time.Millisecond, rearm)

	c.Advance(250 * time.Millisecond)
	if count != 2 {
		t.Errorf("count = %d after 250ms, want 2", count)
	}
	c.Advance(time.Second)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestReal_AfterFunc(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	clock.Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
}

package clock

import (
	"testing"
	"time"
)

func TestFake_SleepAdvances(t *testing.T) {
	c := NewFake(100)
	c.Sleep(250 * time.Millisecond)

	if got := c.NowMillis(); got != 350 {
		t.Errorf("NowMillis() = %d, want 350", got)
	}
	if got := c.Slept(); got != 250*time.Millisecond {
		t.Errorf("Slept() = %v, want 250ms", got)
	}
}

func TestFake_OnTick(t *testing.T) {
	c := NewFake(0)
	var seen []int64
	c.OnTick(func(now int64) { seen = append(seen, now) })

	c.Advance(10 * time.Millisecond)
	c.Sleep(5 * time.Millisecond)

	if len(seen) != 2 || seen[0] != 10 || seen[1] != 15 {
		t.Errorf("ticks = %v, want [10 15]", seen)
	}
	if got := c.Slept(); got != 5*time.Millisecond {
		t.Errorf("Slept() = %v, want 5ms (Advance is not a sleep)", got)
	}
}

func TestSystem_Monotonic(t *testing.T) {
	c := NewSystem()
	a := c.NowMillis()
	c.Sleep(2 * time.Millisecond)
	b := c.NowMillis()
	if b < a {
		t.Fatalf("clock went backwards: %d then %d", a, b)
	}
}

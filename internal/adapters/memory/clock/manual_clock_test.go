package clock

import (
	"testing"
	"time"
)

func TestManualClock_Advance(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0).UTC()
	c := NewManualClock(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now()=%v, want %v", got, start)
	}
	if got := c.Advance(90 * time.Second); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Advance()=%v", got)
	}
	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() after Set=%v, want %v", got, start)
	}
}

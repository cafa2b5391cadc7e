package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %s, want %s", got, start)
	}

	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Now() after Advance = %s", got)
	}

	target := start.Add(48 * time.Hour)
	c.Set(target)
	if got := c.Now(); !got.Equal(target) {
		t.Fatalf("Now() after Set = %s, want %s", got, target)
	}
}

func TestRealClockIsUTC(t *testing.T) {
	t.Parallel()

	if loc := Real().Now().Location(); loc != time.UTC {
		t.Fatalf("location = %v, want UTC", loc)
	}
}

package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 5, 5, 7, 59, 0, 0, time.UTC)
	c := NewFake(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %s, got %s", start, c.Now())
	}
	c.Advance(2 * time.Minute)
	if c.Now().Minute() != 1 || c.Now().Hour() != 8 {
		t.Fatalf("expected 08:01, got %s", c.Now())
	}
	next := start.AddDate(0, 0, 1)
	c.Set(next)
	if !c.Now().Equal(next) {
		t.Fatalf("expected %s after set", next)
	}
}

func TestDateUsesLocation(t *testing.T) {
	tz := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC on the 4th is already the 5th at UTC+3.
	instant := time.Date(2025, 5, 4, 22, 30, 0, 0, time.UTC)

	got := Date(instant, tz)
	want := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := Date(instant, time.UTC); got.Day() != 4 {
		t.Fatalf("expected day 4 in UTC, got %d", got.Day())
	}
}

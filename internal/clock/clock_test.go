package clock

import (
	"testing"
	"time"
)

func TestRealNow(t *testing.T) {
	if (Real{}).Now().IsZero() {
		t.Fatalf("expected non-zero time")
	}
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewFake(start)
	if !clk.Now().Equal(start) {
		t.Fatalf("expected start time")
	}
	clk.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !clk.Now().Equal(want) {
		t.Fatalf("expected %v got %v", want, clk.Now())
	}
}

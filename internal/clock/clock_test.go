package clock_test

import (
	"testing"
	"time"

	"github.com/netvora/billing/internal/clock"
)

func TestDateOf(t *testing.T) {
	in := time.Date(2026, 3, 10, 23, 59, 59, 999999999, time.UTC)
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := clock.DateOf(in); !got.Equal(want) {
		t.Errorf("DateOf(%v) = %v, want %v", in, got, want)
	}
}

func TestDateOf_NormalizesZone(t *testing.T) {
	zone := time.FixedZone("UTC+7", 7*3600)
	// 02:00 on the 11th in UTC+7 is still the 10th in UTC.
	in := time.Date(2026, 3, 11, 2, 0, 0, 0, zone)
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := clock.DateOf(in); !got.Equal(want) {
		t.Errorf("DateOf(%v) = %v, want %v", in, got, want)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)

	if !clk.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clk.Now(), start)
	}

	clk.Advance(36 * time.Hour)
	if want := start.Add(36 * time.Hour); !clk.Now().Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", clk.Now(), want)
	}

	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	clk.Set(next)
	if !clk.Now().Equal(next) {
		t.Errorf("after Set, Now() = %v, want %v", clk.Now(), next)
	}
}

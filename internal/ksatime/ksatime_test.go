package ksatime

import (
	"testing"
	"time"
)

func TestTomorrowCrossesMidnightInRiyadh(t *testing.T) {
	// 22:30 UTC is already 01:30 next day in Riyadh.
	now := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	if got := Today(now); got != "2025-03-11" {
		t.Fatalf("today = %s", got)
	}
	if got := Tomorrow(now); got != "2025-03-12" {
		t.Fatalf("tomorrow = %s", got)
	}
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2025-01-31", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2025-02-01" {
		t.Fatalf("add days = %s", got)
	}
}

func TestIsValidDate(t *testing.T) {
	cases := map[string]bool{
		"2025-06-01": true,
		"2025-13-01": false,
		"2025-6-1":   false,
		"not-a-date": false,
	}
	for in, want := range cases {
		if got := IsValidDate(in); got != want {
			t.Errorf("IsValidDate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBeforeCutoff(t *testing.T) {
	// 11:00 Riyadh.
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	before, err := BeforeCutoff(now, "12:00")
	if err != nil {
		t.Fatal(err)
	}
	if !before {
		t.Fatal("expected 11:00 to be before 12:00 cutoff")
	}

	before, err = BeforeCutoff(now, "10:00")
	if err != nil {
		t.Fatal(err)
	}
	if before {
		t.Fatal("expected 11:00 to be after 10:00 cutoff")
	}

	if _, err := BeforeCutoff(now, "9am"); err == nil {
		t.Fatal("expected invalid cutoff format error")
	}
}

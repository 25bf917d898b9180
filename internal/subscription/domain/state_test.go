package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to DayStatus }{
		{DayStatusOpen, DayStatusLocked},
		{DayStatusOpen, DayStatusSkipped},
		{DayStatusLocked, DayStatusInPreparation},
		{DayStatusLocked, DayStatusOutForDelivery},
		{DayStatusLocked, DayStatusReadyForPickup},
		{DayStatusInPreparation, DayStatusOutForDelivery},
		{DayStatusInPreparation, DayStatusReadyForPickup},
		{DayStatusOutForDelivery, DayStatusFulfilled},
		{DayStatusReadyForPickup, DayStatusFulfilled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to DayStatus }{
		{DayStatusOpen, DayStatusFulfilled},
		{DayStatusOpen, DayStatusInPreparation},
		{DayStatusLocked, DayStatusOpen},
		{DayStatusLocked, DayStatusSkipped},
		{DayStatusOutForDelivery, DayStatusLocked},
		{DayStatusFulfilled, DayStatusOpen},
		{DayStatusFulfilled, DayStatusSkipped},
		{DayStatusSkipped, DayStatusOpen},
		{DayStatusSkipped, DayStatusFulfilled},
		{DayStatus("unknown"), DayStatusLocked},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, terminal := range []DayStatus{DayStatusFulfilled, DayStatusSkipped} {
		for to := range dayTransitions {
			if CanTransition(terminal, to) {
				t.Errorf("terminal state %s must not transition to %s", terminal, to)
			}
		}
	}
}

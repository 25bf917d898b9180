package domain

type DayStatus string

const (
	DayStatusOpen           DayStatus = "open"
	DayStatusLocked         DayStatus = "locked"
	DayStatusInPreparation  DayStatus = "in_preparation"
	DayStatusOutForDelivery DayStatus = "out_for_delivery"
	DayStatusReadyForPickup DayStatus = "ready_for_pickup"
	DayStatusFulfilled      DayStatus = "fulfilled"
	DayStatusSkipped        DayStatus = "skipped"
)

// dayTransitions is the full lifecycle graph. fulfilled and skipped are
// terminal.
var dayTransitions = map[DayStatus][]DayStatus{
	DayStatusOpen:           {DayStatusLocked, DayStatusSkipped},
	DayStatusLocked:         {DayStatusInPreparation, DayStatusOutForDelivery, DayStatusReadyForPickup},
	DayStatusInPreparation:  {DayStatusOutForDelivery, DayStatusReadyForPickup},
	DayStatusOutForDelivery: {DayStatusFulfilled},
	DayStatusReadyForPickup: {DayStatusFulfilled},
	DayStatusFulfilled:      {},
	DayStatusSkipped:        {},
}

// CanTransition reports whether a day may move from one status to another.
// Every status write must consult this first; a denied transition is a
// recoverable conflict, not a fatal error.
func CanTransition(from, to DayStatus) bool {
	allowed, ok := dayTransitions[from]
	if !ok {
		return false
	}
	for _, next := range allowed {
		if next == to {
			return true
		}
	}
	return false
}

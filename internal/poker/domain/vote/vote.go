// Package vote defines estimate values and the aggregate statistics revealed
// to a session room.
package vote

import "fmt"

// UnsureValue is the reserved sentinel meaning "no numeric estimate".
// Regular estimates are hours in the range 1..40; any value at or above the
// sentinel is excluded from numeric statistics and counted as undecided.
const UnsureValue = 41

// MaxHours is the largest numeric estimate a voter can cast.
const MaxHours = 40

// IsNumeric reports whether value participates in mean/median/std-dev.
func IsNumeric(value int) bool {
	return value < UnsureValue
}

// ValueLabel renders an estimate the way clients display it.
func ValueLabel(value int) string {
	if !IsNumeric(value) {
		return "Unsure"
	}
	if value == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", value)
}

// Describe renders one cast vote for the vote_cast and cards_revealed events.
func Describe(voterName string, value int) string {
	return fmt.Sprintf("%s voted: %q", voterName, ValueLabel(value))
}

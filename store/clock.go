package store

import "time"

// defaultNow is the store's notion of "now" for cooldown age calculations.
// Tests may swap nowFunc to a fixed value.
func defaultNow() time.Time {
	return time.Now().UTC()
}

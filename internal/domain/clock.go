package domain

import "time"

// Clock supplies the current time. Services take a Clock so tests can pin
// "now" to an exact instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

package circulation

import "time"

// Clock supplies the current time to components that make time-based
// decisions. Injecting it keeps due-date and expiration arithmetic
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by the wall clock, in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

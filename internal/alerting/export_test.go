package alerting

import "time"

// SetClock replaces the engine clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

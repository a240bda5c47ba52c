package round

import "time"

// SetClock and SetIDs make rounds deterministic in tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }
func (e *Engine) SetIDs(next func() string)     { e.newID = next }

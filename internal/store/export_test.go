package store

import "time"

// SetClock pins the time source used for backup names.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

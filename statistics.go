package ttimer

// Stats is a snapshot of wheel counters.
type Stats struct {
	ticks     uint64
	armed     uint64
	cancelled uint64
	fired     uint64
	cascaded  uint64
	pending   int
	levels    int
}

// Ticks returns the number of base ticks processed.
func (s Stats) Ticks() uint64 {
	return s.ticks
}

// Armed returns the number of successful Start calls.
func (s Stats) Armed() uint64 {
	return s.armed
}

// Cancelled returns the number of Stop calls that disarmed an entry.
func (s Stats) Cancelled() uint64 {
	return s.cancelled
}

// Fired returns the number of callback invocations.
func (s Stats) Fired() uint64 {
	return s.fired
}

// Cascaded returns how many times an entry was moved to a finer slot.
func (s Stats) Cascaded() uint64 {
	return s.cascaded
}

// Pending returns the number of entries currently scheduled.
func (s Stats) Pending() int {
	return s.pending
}

// Levels returns the number of wheel levels.
func (s Stats) Levels() int {
	return s.levels
}

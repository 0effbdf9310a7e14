package job

// statTracker counts messages and bytes per order name when a worker's
// statistics are enabled (spec §6). Keyed directly by order name rather
// than by a lookup result, which sidesteps the reference implementation's
// own bug (Open Question 3): plg_JobRemoteCallWithMaxCore dereferences a
// dict-entry lookup on its "not found" branch, crashing the first time an
// order name is seen. There is no lookup here to miss.
type statTracker struct {
	enabled   bool
	checkTime int64 // milliseconds between statistics log lines

	messages map[string]uint64
	bytes    map[string]uint64
	queueHWM uint32
}

func newStatTracker() *statTracker {
	return &statTracker{messages: map[string]uint64{}, bytes: map[string]uint64{}}
}

// SetEnabled toggles statistics collection and its reporting interval.
func (s *statTracker) SetEnabled(enabled bool, checkTimeMillis int64) {
	s.enabled = enabled
	s.checkTime = checkTimeMillis
}

// Record adds one message of the given byte length to orderName's
// counters. A no-op when stats are disabled.
func (s *statTracker) Record(orderName string, valueLen int) {
	if !s.enabled {
		return
	}
	s.messages[orderName]++
	s.bytes[orderName] += uint64(valueLen)
}

// ObserveQueueLength updates the high-water mark for queue depth.
func (s *statTracker) ObserveQueueLength(n int) {
	if !s.enabled {
		return
	}
	if uint32(n) > s.queueHWM {
		s.queueHWM = uint32(n)
	}
}

// Snapshot returns and resets the current counters, the way the
// reference implementation's periodic stat log both reports and zeroes
// statistics_eventQueueLength each interval.
type StatSnapshot struct {
	Messages map[string]uint64
	Bytes    map[string]uint64
	QueueHWM uint32
}

func (s *statTracker) Snapshot() StatSnapshot {
	snap := StatSnapshot{Messages: s.messages, Bytes: s.bytes, QueueHWM: s.queueHWM}
	s.messages = map[string]uint64{}
	s.bytes = map[string]uint64{}
	s.queueHWM = 0
	return snap
}

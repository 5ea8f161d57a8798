package battery

import "time"

// DefaultWindow is the debounce interval within which readings count as recent.
const DefaultWindow = 200 * time.Millisecond

// ReadingLog is the ordered history of readings for one device.
// Entries are only ever produced by Record; the zero value is not usable, use NewReadingLog.
type ReadingLog struct {
	window  int64 // milliseconds
	entries []Reading
}

// NewReadingLog creates an empty log. A non-positive window falls back to DefaultWindow.
func NewReadingLog(window time.Duration) *ReadingLog {
	if window <= 0 {
		window = DefaultWindow
	}
	return &ReadingLog{window: window.Milliseconds()}
}

// Window returns the debounce interval of the log.
func (l *ReadingLog) Window() time.Duration {
	return time.Duration(l.window) * time.Millisecond
}

// Record folds a new level observed at now (ms) into the log.
//
// The entries are scanned in chronological order. The first entry whose
// timestamp is at least one window older than now is overwritten in place and
// the scan stops there; later entries are not visited. When every entry is
// still within the window, the level is appended unless it equals the last
// entry's level. The log never shrinks.
func (l *ReadingLog) Record(level uint8, now int64) {
	if len(l.entries) == 0 {
		l.entries = append(l.entries, Reading{Level: level, Timestamp: now})
		return
	}

	for i := range l.entries {
		if l.entries[i].Timestamp+l.window > now {
			continue
		}
		l.entries[i].Level = level
		l.entries[i].Timestamp = now
		return
	}

	if l.entries[len(l.entries)-1].Level != level {
		l.entries = append(l.entries, Reading{Level: level, Timestamp: now})
	}
}

// Len returns the number of entries.
func (l *ReadingLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries in chronological order.
func (l *ReadingLog) Entries() []Reading {
	out := make([]Reading, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recently appended entry.
func (l *ReadingLog) Last() (Reading, bool) {
	if len(l.entries) == 0 {
		return Reading{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Label joins the entry levels for display.
func (l *ReadingLog) Label() string {
	return Label(l.entries)
}

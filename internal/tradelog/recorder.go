package tradelog

import (
	"sync"
	"time"
)

// Recorder appends intents as they are applied. It does not validate; that
// is the validator's job on the receiving side.
type Recorder struct {
	meta    Meta
	entries []Entry
	mu      sync.Mutex
}

// NewRecorder starts a session log.
func NewRecorder(seasonID, clientVersion string, initialCapital int64, startedAt time.Time) *Recorder {
	return &Recorder{
		meta: Meta{
			SeasonID:       seasonID,
			EngineVersion:  EngineVersion,
			ClientVersion:  clientVersion,
			StartedAt:      startedAt.UnixMilli(),
			InitialCapital: initialCapital,
		},
	}
}

// Record appends one entry.
func (r *Recorder) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Finalize seals the log with the tick count and checksum.
func (r *Recorder) Finalize(totalTicks int, endedAt time.Time) *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Payload{
		Meta:      r.meta,
		TradeLogs: append([]Entry(nil), r.entries...),
	}
	p.Meta.TotalTicks = totalTicks
	p.Meta.EndedAt = endedAt.UnixMilli()
	p.Checksum = Checksum(p)
	return p
}

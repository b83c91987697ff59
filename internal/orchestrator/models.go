package orchestrator

import "time"

// SessionID uniquely identifies one playback cycle.
type SessionID string

// SessionState is the lifecycle state of a playback cycle.
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionFailed    SessionState = "failed"
)

// Session records one playback cycle: a single pass over one tier's manifest.
// A tier switch ends the running session and starts a new one.
type Session struct {
	ID          SessionID    `json:"id"`
	Generation  uint64       `json:"generation"`
	Tier        int          `json:"tier"`
	TierName    string       `json:"tier_name"`
	ManifestURL string       `json:"manifest_url"`
	Segments    []string     `json:"segments"`
	State       SessionState `json:"state"`
	Error       string       `json:"error,omitempty"`

	Progress

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Progress holds per-session counters. It is also used as a delta when
// recording progress.
type Progress struct {
	SegmentsDelivered int `json:"segments_delivered"`
	SegmentsFailed    int `json:"segments_failed"`
	AccessUnits       int `json:"access_units"`
	DemuxErrors       int `json:"demux_errors"`
	DecodeRejections  int `json:"decode_rejections"`
}

func (p *Progress) add(d Progress) {
	p.SegmentsDelivered += d.SegmentsDelivered
	p.SegmentsFailed += d.SegmentsFailed
	p.AccessUnits += d.AccessUnits
	p.DemuxErrors += d.DemuxErrors
	p.DecodeRejections += d.DecodeRejections
}

// Ended reports whether the session has reached a final state.
func (s Session) Ended() bool {
	return s.State != SessionRunning
}

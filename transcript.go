package agentroom

import "sync"

// Segment is one unit of transcribed speech. The platform streams segments
// as they are recognized: a segment may arrive repeatedly with revised text
// until it is marked final.
type Segment struct {
	ID                  string `json:"id"`                   // Stable id across revisions
	Text                string `json:"text"`                 // Current transcription text
	Final               bool   `json:"final"`                // No further revisions will arrive
	Language            string `json:"language,omitempty"`   // BCP-47 language tag
	StartTime           int64  `json:"start_time,omitempty"` // Milliseconds from track start
	EndTime             int64  `json:"end_time,omitempty"`   // Milliseconds from track start
	ParticipantIdentity string `json:"participant_identity,omitempty"`
	TrackSID            string `json:"track_sid,omitempty"`
}

// Assembler maintains rendering state for streamed transcript segments.
// Feed it every TranscriptionReceived event; it keeps segments in
// first-seen order, replaces interim revisions in place, and freezes
// segments once marked final. Safe for concurrent use: events apply from
// the read loop while the UI snapshots from its own goroutine.
type Assembler struct {
	mu    sync.Mutex
	order []string
	segs  map[string]Segment
}

// NewAssembler creates an empty transcript Assembler.
func NewAssembler() *Assembler {
	return &Assembler{segs: make(map[string]Segment)}
}

// Apply merges a batch of segments from a TranscriptionReceived event.
// Revisions of a final segment are ignored.
func (a *Assembler) Apply(e TranscriptionReceived) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range e.Segments {
		if s.ParticipantIdentity == "" {
			s.ParticipantIdentity = e.ParticipantIdentity
		}
		if s.TrackSID == "" {
			s.TrackSID = e.TrackSID
		}
		prev, seen := a.segs[s.ID]
		if seen && prev.Final {
			continue
		}
		if !seen {
			a.order = append(a.order, s.ID)
		}
		a.segs[s.ID] = s
	}
}

// Snapshot returns all segments in first-seen order.
func (a *Assembler) Snapshot() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Segment, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.segs[id])
	}
	return out
}

// ParticipantSnapshot returns the segments attributed to one participant,
// in first-seen order. Use this to render per-speaker caption lanes.
func (a *Assembler) ParticipantSnapshot(identity string) []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Segment
	for _, id := range a.order {
		if s := a.segs[id]; s.ParticipantIdentity == identity {
			out = append(out, s)
		}
	}
	return out
}

// Text concatenates the current segment texts with single spaces, the
// simplest full-transcript rendering.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b []byte
	for i, id := range a.order {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, a.segs[id].Text...)
	}
	return string(b)
}

// Reset discards all accumulated segments.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = nil
	a.segs = make(map[string]Segment)
}

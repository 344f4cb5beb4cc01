// Package transcript holds the live transcript data model and the
// correction and merge machinery that revises it while a session runs.
//
// The central types are [Segment], one finalized utterance, and [Buffer],
// the ordered in-memory transcript for one session. Background tasks
// (deferred correction, attribution, merging) all mutate segments through
// the Buffer by segment id, so a task that finishes late still lands on
// the right segment even after merges and appends have shifted positions.
package transcript

import (
	"sync"

	"github.com/google/uuid"
)

// Segment is one finalized, timestamped utterance.
//
// SpeakerLabel is the raw diarization label ("Speaker A") and never changes
// after creation. SpeakerName and Text are the mutable parts: attribution
// and manual correction set SpeakerName, the correction pipeline and the
// merge engine rewrite Text.
type Segment struct {
	ID string `json:"id"`

	// Timestamp is milliseconds since session start. Non-decreasing in
	// buffer order.
	Timestamp int64 `json:"timestamp"`

	// SpeakerLabel is the raw diarization label. Immutable.
	SpeakerLabel string `json:"speakerLabel"`

	// SpeakerName is the confirmed speaker, empty until attribution or a
	// manual correction assigns one.
	SpeakerName string `json:"speakerName,omitempty"`

	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`

	// IsEdited is set once a manual speaker correction applied. Retroactive
	// model attributions leave it unset, so the client can tell a DM edit
	// apart from an automatic one.
	IsEdited bool `json:"isEdited"`
}

// EffectiveSpeaker returns the confirmed speaker name when set, otherwise
// the raw diarization label.
func (s *Segment) EffectiveSpeaker() string {
	if s.SpeakerName != "" {
		return s.SpeakerName
	}
	return s.SpeakerLabel
}

// NewSegment creates a segment with a fresh id.
func NewSegment(timestamp int64, speakerLabel, text string, confidence float64) *Segment {
	return &Segment{
		ID:           uuid.NewString(),
		Timestamp:    timestamp,
		SpeakerLabel: speakerLabel,
		Text:         text,
		Confidence:   confidence,
	}
}

// Buffer is the ordered in-memory transcript for one session. It is safe
// for concurrent use; background pipelines and the ingestion path share it.
type Buffer struct {
	mu   sync.RWMutex
	segs []*Segment
	byID map[string]*Segment
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{byID: make(map[string]*Segment)}
}

// Append adds a segment at the end of the transcript.
func (b *Buffer) Append(seg *Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segs = append(b.segs, seg)
	b.byID[seg.ID] = seg
}

// Get returns the segment with the given id, or false when it no longer
// exists (absorbed by a merge, or the session was torn down).
func (b *Buffer) Get(id string) (*Segment, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seg, ok := b.byID[id]
	return seg, ok
}

// Len returns the number of segments.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.segs)
}

// UpdateText sets the text of the segment with the given id. Returns false
// when the segment no longer exists.
func (b *Buffer) UpdateText(id, text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	seg, ok := b.byID[id]
	if !ok {
		return false
	}
	seg.Text = text
	return true
}

// CompareAndSwapText sets the text of the segment with the given id only
// when its current text still equals old. Returns false when the segment
// no longer exists or its text changed in the meantime. Background tasks
// that captured the text at dispatch use this so a stale result cannot
// clobber a merge survivor's accumulated text.
func (b *Buffer) CompareAndSwapText(id, old, text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	seg, ok := b.byID[id]
	if !ok || seg.Text != old {
		return false
	}
	seg.Text = text
	return true
}

// UpdateSpeaker sets the confirmed speaker name of the segment with the
// given id. edited marks the segment as manually changed. Returns false
// when the segment no longer exists.
func (b *Buffer) UpdateSpeaker(id, name string, edited bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	seg, ok := b.byID[id]
	if !ok {
		return false
	}
	seg.SpeakerName = name
	if edited {
		seg.IsEdited = true
	}
	return true
}

// Remove deletes the segments with the given ids. Used by the merge engine
// for absorbed segments.
func (b *Buffer) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.segs[:0]
	for _, seg := range b.segs {
		if _, gone := drop[seg.ID]; gone {
			delete(b.byID, seg.ID)
			continue
		}
		kept = append(kept, seg)
	}
	// Zero the tail so absorbed segments are collectable.
	for i := len(kept); i < len(b.segs); i++ {
		b.segs[i] = nil
	}
	b.segs = kept
}

// Snapshot returns a copy of the segment list. The segment values are
// copied, so callers can read them without holding any lock.
func (b *Buffer) Snapshot() []Segment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Segment, len(b.segs))
	for i, seg := range b.segs {
		out[i] = *seg
	}
	return out
}

// Last returns copies of up to n trailing segments, oldest first.
func (b *Buffer) Last(n int) []Segment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.segs) {
		n = len(b.segs)
	}
	out := make([]Segment, n)
	for i, seg := range b.segs[len(b.segs)-n:] {
		out[i] = *seg
	}
	return out
}

package transcript

import (
	"regexp"
	"sync"
)

// unsettledWindow is how many trailing segments are excluded from merging.
// They may still be re-attributed, so merging them would be premature.
const unsettledWindow = 4

// placeholderName matches raw diarization labels, which never count as
// confirmed speakers.
var placeholderName = regexp.MustCompile(`^Speaker [A-Z]$`)

// Merge describes one completed merge: next absorbed into current.
type Merge struct {
	SurvivorID string
	AbsorbedID string
	NewText    string
}

// Merger coalesces adjacent settled segments from the same confirmed
// speaker. A merge-key set records pairs already merged, so overlapping
// attribution windows triggering repeated passes over the same material
// never duplicate text.
//
// Safe for concurrent use with segment ingestion; a pass snapshots the
// buffer and applies results by segment id.
type Merger struct {
	buf *Buffer

	mu     sync.Mutex
	merged map[string]struct{}
}

// NewMerger creates a Merger over the given buffer.
func NewMerger(buf *Buffer) *Merger {
	return &Merger{buf: buf, merged: make(map[string]struct{})}
}

// confirmedName returns the segment's speaker name when it is a real
// confirmed name rather than empty or a raw placeholder.
func confirmedName(seg *Segment) string {
	name := seg.EffectiveSpeaker()
	if name == "" || placeholderName.MatchString(name) {
		return ""
	}
	return name
}

// Pass scans the settled prefix of the transcript (everything except the
// trailing unsettled window) and merges adjacent segments with the same
// confirmed speaker name. Returns one Merge per absorbed segment, in order.
func (m *Merger) Pass() []Merge {
	snapshot := m.buf.Snapshot()
	if len(snapshot) <= unsettledWindow {
		return nil
	}
	settled := snapshot[:len(snapshot)-unsettledWindow]

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		results  []Merge
		absorbed []string
	)

	cur := &settled[0]
	curText := cur.Text
	for i := 1; i < len(settled); i++ {
		next := &settled[i]

		name := confirmedName(cur)
		if name != "" && name == confirmedName(next) {
			key := cur.ID + ":" + next.ID
			if _, done := m.merged[key]; !done {
				m.merged[key] = struct{}{}
				curText = curText + " " + next.Text
				absorbed = append(absorbed, next.ID)
				results = append(results, Merge{
					SurvivorID: cur.ID,
					AbsorbedID: next.ID,
					NewText:    curText,
				})
				continue
			}
		}

		// Flush the accumulated survivor before moving on.
		if curText != cur.Text {
			m.buf.UpdateText(cur.ID, curText)
		}
		cur = next
		curText = next.Text
	}
	if curText != cur.Text {
		m.buf.UpdateText(cur.ID, curText)
	}

	m.buf.Remove(absorbed...)
	return results
}

package transcript_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/Jaaaxx/DnD-Companion/internal/transcript"
	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
)

func TestBufferUpdatesByID(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	seg := transcript.NewSegment(100, "Speaker A", "hello", 0.9)
	buf.Append(seg)

	if !buf.UpdateText(seg.ID, "hello there") {
		t.Fatal("UpdateText returned false for live segment")
	}
	if !buf.UpdateSpeaker(seg.ID, "Mike", true) {
		t.Fatal("UpdateSpeaker returned false for live segment")
	}

	got, ok := buf.Get(seg.ID)
	if !ok {
		t.Fatal("Get returned false")
	}
	if got.Text != "hello there" || got.SpeakerName != "Mike" || !got.IsEdited {
		t.Errorf("segment = %+v", got)
	}
	if got.SpeakerLabel != "Speaker A" {
		t.Errorf("SpeakerLabel mutated to %q", got.SpeakerLabel)
	}
}

func TestBufferLateUpdateAfterRemoveIsNoop(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	seg := transcript.NewSegment(0, "Speaker A", "gone", 0.9)
	buf.Append(seg)
	buf.Remove(seg.ID)

	if buf.UpdateText(seg.ID, "late write") {
		t.Error("UpdateText succeeded on removed segment")
	}
	if buf.UpdateSpeaker(seg.ID, "Mike", false) {
		t.Error("UpdateSpeaker succeeded on removed segment")
	}
	if buf.Len() != 0 {
		t.Errorf("Len = %d, want 0", buf.Len())
	}
}

func TestBufferCompareAndSwapText(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	seg := transcript.NewSegment(0, "Speaker A", "el dreenax strikes", 0.9)
	buf.Append(seg)

	// A stale swap against text the segment no longer holds is dropped.
	buf.UpdateText(seg.ID, "el dreenax strikes the blade rings true")
	if buf.CompareAndSwapText(seg.ID, "el dreenax strikes", "Eldrinax strikes") {
		t.Error("stale CompareAndSwapText succeeded")
	}
	got, _ := buf.Get(seg.ID)
	if got.Text != "el dreenax strikes the blade rings true" {
		t.Errorf("text = %q, stale swap clobbered it", got.Text)
	}

	// A swap against the current text applies.
	if !buf.CompareAndSwapText(seg.ID, got.Text, "Eldrinax strikes the blade rings true") {
		t.Fatal("current CompareAndSwapText failed")
	}
	got, _ = buf.Get(seg.ID)
	if got.Text != "Eldrinax strikes the blade rings true" {
		t.Errorf("text = %q", got.Text)
	}

	buf.Remove(seg.ID)
	if buf.CompareAndSwapText(seg.ID, got.Text, "late") {
		t.Error("CompareAndSwapText succeeded on removed segment")
	}
}

func TestBufferLast(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	for i := 0; i < 5; i++ {
		buf.Append(transcript.NewSegment(int64(i), "Speaker A", fmt.Sprintf("seg %d", i), 1))
	}

	last := buf.Last(3)
	if len(last) != 3 || last[0].Text != "seg 2" || last[2].Text != "seg 4" {
		t.Errorf("Last(3) = %+v", last)
	}
	if got := buf.Last(10); len(got) != 5 {
		t.Errorf("Last(10) len = %d, want 5", len(got))
	}
}

func TestLabeler(t *testing.T) {
	t.Parallel()

	l := transcript.NewLabeler()
	if got := l.Label(3); got != "Speaker A" {
		t.Errorf("first index label = %q, want Speaker A", got)
	}
	if got := l.Label(0); got != "Speaker B" {
		t.Errorf("second index label = %q, want Speaker B", got)
	}
	if got := l.Label(3); got != "Speaker A" {
		t.Errorf("repeat index label = %q, want Speaker A", got)
	}

	// 24 more distinct indices exhaust the alphabet; the next wraps to A.
	for i := 100; i < 124; i++ {
		l.Label(i)
	}
	if got := l.Label(999); got != "Speaker A" {
		t.Errorf("27th distinct index label = %q, want wrap to Speaker A", got)
	}
}

func word(s string, speaker int, start, end float64) stt.Word {
	return stt.Word{
		Word:    s,
		Speaker: speaker,
		Start:   time.Duration(start * float64(time.Second)),
		End:     time.Duration(end * float64(time.Second)),
	}
}

func TestSplitUtterance(t *testing.T) {
	t.Parallel()

	t.Run("single speaker passes through", func(t *testing.T) {
		t.Parallel()
		u := stt.Utterance{
			Text:  "I attack the goblin",
			Words: []stt.Word{word("I", 1, 0, 0.2), word("attack", 1, 0.2, 0.6)},
		}
		got := transcript.SplitUtterance(u)
		if len(got) != 1 || got[0].Text != "I attack the goblin" {
			t.Errorf("SplitUtterance = %+v", got)
		}
	})

	t.Run("speaker turn splits at boundary", func(t *testing.T) {
		t.Parallel()
		u := stt.Utterance{
			Text: "yes I roll initiative",
			Words: []stt.Word{
				word("yes", 0, 0, 0.3),
				word("I", 2, 0.4, 0.5),
				word("roll", 2, 0.5, 0.8),
				word("initiative", 2, 0.8, 1.4),
			},
		}
		got := transcript.SplitUtterance(u)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Text != "yes" || got[0].Speaker != 0 {
			t.Errorf("first piece = %+v", got[0])
		}
		if got[1].Text != "I roll initiative" || got[1].Speaker != 2 {
			t.Errorf("second piece = %+v", got[1])
		}
	})

	t.Run("no word detail passes through", func(t *testing.T) {
		t.Parallel()
		u := stt.Utterance{Text: "mumble"}
		got := transcript.SplitUtterance(u)
		if len(got) != 1 || got[0].Text != "mumble" {
			t.Errorf("SplitUtterance = %+v", got)
		}
	})
}

func TestInstantCorrector(t *testing.T) {
	t.Parallel()

	c := transcript.NewInstantCorrector()
	if !c.Learn("eldrinacks", "Eldrinax") {
		t.Fatal("Learn returned false")
	}
	if c.Learn("eldrinacks", "Eldrinax") {
		t.Error("re-learning same wrong form should return false")
	}
	if c.Learn("", "Eldrinax") || c.Learn("x", "x") {
		t.Error("degenerate pairs should be rejected")
	}

	tests := []struct {
		in          string
		want        string
		wantChanged bool
	}{
		{"then Eldrinacks attacked", "then Eldrinax attacked", true},
		{"ELDRINACKS!", "Eldrinax!", true},
		{"unrelated text", "unrelated text", false},
		{"eldrinackses", "eldrinackses", false}, // word boundary respected
	}
	for _, tt := range tests {
		got, changed := c.Apply(tt.in)
		if got != tt.want || changed != tt.wantChanged {
			t.Errorf("Apply(%q) = (%q, %v), want (%q, %v)",
				tt.in, got, changed, tt.want, tt.wantChanged)
		}
	}
}

func appendSeg(buf *transcript.Buffer, speakerName, text string) *transcript.Segment {
	seg := transcript.NewSegment(0, "Speaker A", text, 1)
	buf.Append(seg)
	if speakerName != "" {
		buf.UpdateSpeaker(seg.ID, speakerName, false)
	}
	return seg
}

func TestMergerCoalescesConfirmedSpeakers(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	a := appendSeg(buf, "Mike", "I open the door")
	b := appendSeg(buf, "Mike", "and look inside")
	appendSeg(buf, "Sarah", "careful")
	// Four unsettled trailing segments keep a and b in the settled prefix.
	for i := 0; i < 4; i++ {
		appendSeg(buf, "", "trailing")
	}

	m := transcript.NewMerger(buf)
	merges := m.Pass()
	if len(merges) != 1 {
		t.Fatalf("merges = %+v, want exactly one", merges)
	}
	if merges[0].SurvivorID != a.ID || merges[0].AbsorbedID != b.ID {
		t.Errorf("merge ids = %+v", merges[0])
	}
	if merges[0].NewText != "I open the door and look inside" {
		t.Errorf("NewText = %q", merges[0].NewText)
	}

	surv, ok := buf.Get(a.ID)
	if !ok || surv.Text != "I open the door and look inside" {
		t.Errorf("survivor = %+v", surv)
	}
	if _, ok := buf.Get(b.ID); ok {
		t.Error("absorbed segment still present")
	}
}

func TestMergerIdempotentAcrossReruns(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	a := appendSeg(buf, "Mike", "first")
	appendSeg(buf, "Mike", "second")
	for i := 0; i < 4; i++ {
		appendSeg(buf, "", "trailing")
	}

	m := transcript.NewMerger(buf)
	if got := m.Pass(); len(got) != 1 {
		t.Fatalf("first pass merges = %d, want 1", len(got))
	}
	if got := m.Pass(); len(got) != 0 {
		t.Fatalf("second pass merges = %d, want 0", len(got))
	}

	surv, _ := buf.Get(a.ID)
	if surv.Text != "first second" {
		t.Errorf("survivor text = %q, want no duplication", surv.Text)
	}
}

func TestMergerSkipsPlaceholderAndUnsettled(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	// Placeholder speakers never merge even when equal.
	appendSeg(buf, "", "raw one")
	appendSeg(buf, "", "raw two")
	// Confirmed pair inside the trailing unsettled window never merges.
	appendSeg(buf, "Mike", "late one")
	appendSeg(buf, "Mike", "late two")
	appendSeg(buf, "", "x")
	appendSeg(buf, "", "y")

	m := transcript.NewMerger(buf)
	if got := m.Pass(); len(got) != 0 {
		t.Fatalf("merges = %+v, want none", got)
	}
	if buf.Len() != 6 {
		t.Errorf("Len = %d, want 6", buf.Len())
	}
}

func TestMergerChainsThreeSegments(t *testing.T) {
	t.Parallel()

	buf := transcript.NewBuffer()
	a := appendSeg(buf, "Mike", "one")
	appendSeg(buf, "Mike", "two")
	appendSeg(buf, "Mike", "three")
	for i := 0; i < 4; i++ {
		appendSeg(buf, "", "trailing")
	}

	m := transcript.NewMerger(buf)
	merges := m.Pass()
	if len(merges) != 2 {
		t.Fatalf("merges = %+v, want two", merges)
	}
	surv, _ := buf.Get(a.ID)
	if surv.Text != "one two three" {
		t.Errorf("survivor text = %q", surv.Text)
	}
	if buf.Len() != 5 {
		t.Errorf("Len = %d, want 5", buf.Len())
	}
}

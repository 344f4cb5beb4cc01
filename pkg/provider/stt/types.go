package stt

import "time"

// Utterance is a finalized speech-to-text result with speaker diarization.
type Utterance struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Speaker is the dominant diarization speaker index for the utterance.
	Speaker int

	// Words contains per-word detail. Each word carries its own speaker
	// index; when a rapid speaker turn is merged by the provider into one
	// utterance, the word-level indices are the only record of the split.
	Words []Word

	// Start marks when the utterance started, relative to stream start.
	Start time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Word holds per-word metadata from diarizing STT providers.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	Speaker    int
}

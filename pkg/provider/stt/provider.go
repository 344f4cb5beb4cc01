// Package stt defines the Provider interface for streaming Speech-to-Text
// backends with speaker diarization.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio chunks and
// emits finalized, diarized Utterance values on a channel. Each utterance
// carries per-word speaker indices so the transcript layer can split
// utterances the provider merged across rapid speaker turns.
//
// Implementations must be safe for concurrent use. Audio input and
// utterance output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The browser capture path
	// sends 16000 Hz mono PCM.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as fantasy proper nouns.
	Keywords []KeywordBoost
}

// KeywordBoost represents a keyword to boost in STT recognition.
// Used to improve recognition of campaign proper nouns (player characters,
// NPCs, locations, items).
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Eldrinax").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider
	// for transcription. The chunk must match the SampleRate, Channels,
	// and bit depth agreed in StreamConfig. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Utterances returns a read-only channel that emits finalized,
	// diarized utterances. The channel is closed when the session ends.
	// No value is ever delivered after Close returns.
	Utterances() <-chan Utterance

	// Close terminates the session, flushes any pending audio, and
	// releases all associated resources. After Close returns, the
	// Utterances channel is closed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may
// be open simultaneously (one per live game session).
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session
	// (authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

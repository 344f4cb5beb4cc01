// Package mock provides test doubles for the stt.Provider interface.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider. Each call to
// StartStream returns a fresh Session whose utterance channel the test
// drives directly via Emit.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned from StartStream.
	StartStreamErr error

	// StartStreamCalls records the configs passed to StartStream.
	StartStreamCalls []stt.StreamConfig

	// Sessions holds every session handed out, in order.
	Sessions []*Session
}

// StartStream records the call and returns a new scriptable Session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, cfg)
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// CallCount returns how many times StartStream was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a scriptable stt.SessionHandle. Tests push utterances with
// Emit and inspect received audio with AudioChunks.
type Session struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool

	utterances chan stt.Utterance

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error
}

// NewSession returns a ready Session with a buffered utterance channel.
func NewSession() *Session {
	return &Session{utterances: make(chan stt.Utterance, 64)}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	return nil
}

// Utterances returns the scriptable utterance channel.
func (s *Session) Utterances() <-chan stt.Utterance { return s.utterances }

// Close marks the session closed and closes the utterance channel.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.utterances)
	return nil
}

// Emit delivers an utterance to the session's channel. Panics if the
// session is already closed, which surfaces test ordering bugs early.
func (s *Session) Emit(u stt.Utterance) {
	s.utterances <- u
}

// AudioChunks returns a copy of all audio chunks received so far.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

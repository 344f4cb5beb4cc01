package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jaaaxx/DnD-Companion/pkg/provider/stt"
)

// reconnectDelay is the short pause before the single per-chunk retry when
// the stream is not yet (or no longer) established.
const reconnectDelay = 100 * time.Millisecond

var errTranscriberClosed = errors.New("session: transcriber closed")

// transcriber owns the one streaming STT connection for a live session.
// The connection opens lazily on the first audio chunk and reopens after a
// send failure; each chunk gets at most one retry so a flapping provider
// degrades to dropped audio instead of blocking the inbound path.
type transcriber struct {
	provider    stt.Provider
	cfg         stt.StreamConfig
	onUtterance func(stt.Utterance)
	log         *slog.Logger

	mu     sync.Mutex
	handle stt.SessionHandle
	closed bool
	wg     sync.WaitGroup
}

func newTranscriber(provider stt.Provider, cfg stt.StreamConfig, onUtterance func(stt.Utterance), log *slog.Logger) *transcriber {
	return &transcriber{
		provider:    provider,
		cfg:         cfg,
		onUtterance: onUtterance,
		log:         log,
	}
}

// Send forwards one PCM chunk, lazily (re)establishing the stream. A chunk
// that fails both the first attempt and the single retry is dropped with
// an error.
func (t *transcriber) Send(ctx context.Context, chunk []byte) error {
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(reconnectDelay)
		}
		h, err := t.session(ctx)
		if err != nil {
			if errors.Is(err, errTranscriberClosed) {
				return err
			}
			t.log.Debug("stt connect failed", "attempt", attempt+1, "error", err)
			continue
		}
		if err := h.SendAudio(chunk); err != nil {
			t.log.Debug("stt send failed", "attempt", attempt+1, "error", err)
			t.drop(h)
			continue
		}
		return nil
	}
	return fmt.Errorf("session: audio chunk dropped after retry")
}

// session returns the live handle, opening a new stream when none exists.
func (t *transcriber) session(ctx context.Context) (stt.SessionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errTranscriberClosed
	}
	if t.handle != nil {
		return t.handle, nil
	}

	h, err := t.provider.StartStream(ctx, t.cfg)
	if err != nil {
		return nil, fmt.Errorf("session: start stt stream: %w", err)
	}
	t.handle = h

	t.wg.Add(1)
	go t.consume(h)
	return h, nil
}

// consume pushes finalized utterances into the pipeline until the stream
// ends. A provider-side close just clears the handle; the next chunk
// reconnects.
func (t *transcriber) consume(h stt.SessionHandle) {
	defer t.wg.Done()
	for u := range h.Utterances() {
		t.onUtterance(u)
	}
	t.drop(h)
}

// drop clears the handle if it is still the current one and closes it.
func (t *transcriber) drop(h stt.SessionHandle) {
	t.mu.Lock()
	if t.handle == h {
		t.handle = nil
	}
	t.mu.Unlock()
	_ = h.Close()
}

// Close tears down the stream and waits for the consumer to drain.
func (t *transcriber) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	h := t.handle
	t.handle = nil
	t.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	t.wg.Wait()
}

// Package gateway is the websocket control channel between the browser
// client and the session orchestrator. One connection drives at most one
// live session: JSON envelopes {type, payload} carry control operations
// and outbound events, raw binary frames carry PCM audio.
//
// Failures of a single operation are answered with an error event on the
// same socket and never tear the connection down; only a read error (the
// client going away) ends the connection, which flushes the session and
// leaves it resumable.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Jaaaxx/DnD-Companion/internal/autoaudio"
	"github.com/Jaaaxx/DnD-Companion/internal/session"
)

// outboundBuffer bounds the per-connection event queue. A client too slow
// to drain it loses events rather than stalling the pipeline.
const outboundBuffer = 256

const (
	writeTimeout      = 10 * time.Second
	disconnectTimeout = 15 * time.Second
)

// Server accepts websocket connections and dispatches their operations.
type Server struct {
	deps  session.Deps
	table *session.Table
	log   *slog.Logger
}

// New creates a gateway server over shared session dependencies.
func New(deps session.Deps, table *session.Table) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, table: table, log: log}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients send the session id in the first envelope, not
		// in a subprotocol.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(1 << 20)
	// Release the hijacked connection when the handler returns.
	defer ws.CloseNow()

	c := newConn(ws, s.log)
	defer c.shutdown()
	go c.writeLoop()

	s.readLoop(r.Context(), c)
}

// conn is one client connection: the socket, its outbound event queue, and
// the session it drives.
type conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	outbound chan []byte
	done     chan struct{}
	once     sync.Once

	mu   sync.Mutex
	sess *session.Session
}

func newConn(ws *websocket.Conn, log *slog.Logger) *conn {
	return &conn{
		ws:       ws,
		log:      log,
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// Emit implements session.Emitter. Non-blocking: when the outbound queue
// is full the event is dropped and logged.
func (c *conn) Emit(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("event payload marshal failed", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{Type: event, Payload: body})
	if err != nil {
		c.log.Warn("event marshal failed", "event", event, "error", err)
		return
	}
	select {
	case c.outbound <- frame:
	case <-c.done:
	default:
		c.log.Warn("outbound queue full, event dropped", "event", event)
	}
}

// writeLoop serializes all socket writes.
func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *conn) setSession(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = sess
}

// errorEvent reports one failed operation to the client.
func (c *conn) errorEvent(msg string) {
	c.Emit(session.EventError, session.ErrorPayload{Message: msg})
}

// readLoop processes inbound frames in arrival order. Each session's
// operations are therefore naturally serialized through this single loop.
func (s *Server) readLoop(ctx context.Context, c *conn) {
	defer s.dropSession(c)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.log.Debug("connection read ended", "error", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if sess := c.session(); sess != nil {
				sess.ProcessAudio(ctx, data)
			}
		case websocket.MessageText:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.errorEvent("malformed message")
				continue
			}
			if err := s.dispatch(ctx, c, env); err != nil {
				c.errorEvent(err.Error())
			}
		}
	}
}

// dropSession handles the end of a connection: an explicitly ended session
// is already gone from the table; anything else is an unexpected
// disconnect that flushes and stays resumable.
func (s *Server) dropSession(c *conn) {
	sess := c.session()
	if sess == nil {
		return
	}
	c.setSession(nil)
	if _, ok := s.table.Remove(sess.ID()); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	sess.Disconnect(ctx)
}

// dispatch routes one control operation. Returned errors become error
// events; they never close the socket.
func (s *Server) dispatch(ctx context.Context, c *conn, env envelope) error {
	switch env.Type {
	case opSessionStart:
		return s.startSession(ctx, c, env.Payload)

	case opSessionPause:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		return sess.Pause(ctx)

	case opSessionResume:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		return sess.Resume(ctx)

	case opSessionEnd:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		s.table.Remove(sess.ID())
		c.setSession(nil)
		return sess.End(ctx)

	case opSpeakerUpdate:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p speakerCorrectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed speaker correction")
		}
		return sess.CorrectSpeaker(p.SegmentID, p.SpeakerName)

	case opTriggerSound:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p triggerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed trigger request")
		}
		return sess.ManualTrigger(ctx, p.MappingID)

	case opStopAudio:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		sess.StopAudio(ctx)
		return nil

	case opAutoSettings:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p autoSettingsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("malformed auto-audio settings")
		}
		sess.SetAutoAudio(autoaudio.Settings{
			Enabled:         p.Enabled,
			EffectFrequency: p.EffectFrequency,
			SceneMusic:      p.SceneMusic,
		})
		return nil

	case opSceneOverride:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p sceneOverridePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Scene == "" {
			return fmt.Errorf("malformed scene override")
		}
		sess.OverrideScene(p.Scene)
		return nil

	case opPlaybackFail:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p playbackFailPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.TrackID == "" {
			return fmt.Errorf("malformed playback failure report")
		}
		sess.ReportPlaybackFailure(p.TrackID)
		return nil

	case opHealthResolve:
		sess, err := c.requireSession()
		if err != nil {
			return err
		}
		var p healthResolvePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.EventID == "" {
			return fmt.Errorf("malformed health resolution")
		}
		return sess.ResolveHealthEvent(ctx, p.EventID, p.Confirmed, p.ModifiedValue)

	default:
		return fmt.Errorf("unknown operation %q", env.Type)
	}
}

// startSession creates, registers, and starts a session for this
// connection.
func (s *Server) startSession(ctx context.Context, c *conn, payload json.RawMessage) error {
	if c.session() != nil {
		return fmt.Errorf("a session is already active on this connection")
	}
	var p startPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.SessionID == "" {
		return fmt.Errorf("session id required")
	}

	sess := session.New(p.SessionID, s.deps, c)
	if err := s.table.Insert(p.SessionID, sess); err != nil {
		return fmt.Errorf("session already active")
	}
	if err := sess.Start(ctx); err != nil {
		s.table.Remove(p.SessionID)
		s.log.Warn("session start failed", "session", p.SessionID, "error", err)
		return fmt.Errorf("could not start session")
	}
	c.setSession(sess)
	return nil
}

func (c *conn) requireSession() (*session.Session, error) {
	if sess := c.session(); sess != nil {
		return sess, nil
	}
	return nil, fmt.Errorf("no active session")
}

package echoapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/user"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 << 10
	sendBuffer     = 64
)

// Client -> server message types.
const (
	msgSet        = "set"
	msgReplace    = "replace"
	msgNavigate   = string(autosave.TriggerNavigate)
	msgBackground = string(autosave.TriggerBackground)
	msgPing       = "ping"
)

// Server -> client message types.
const (
	msgSnapshot = "snapshot"
	msgState    = "state"
	msgFlushed  = "flushed"
	msgError    = "error"
	msgPong     = "pong"
)

type clientMessage struct {
	Type     string          `json:"type"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

type serverMessage struct {
	Type     string           `json:"type"`
	Document interface{}      `json:"document,omitempty"`
	Progress *int             `json:"progress,omitempty"`
	State    string           `json:"state,omitempty"`
	Outcome  autosave.Outcome `json:"outcome,omitempty"`
	Trigger  string           `json:"trigger,omitempty"`
	OK       *bool            `json:"ok,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// closer is an open editing session, as seen by the registry.
type closer interface {
	// close force-flushes pending edits and disconnects the client.
	close(ctx context.Context) error
}

// sessionRegistry tracks open editing sessions so that shutdown can flush them all.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[closer]struct{}
	closed   bool
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[closer]struct{})}
}

// add registers s. It returns false once the registry is closed.
func (r *sessionRegistry) add(s closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[s] = struct{}{}
	return true
}

func (r *sessionRegistry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *sessionRegistry) remove(s closer) {
	r.mu.Lock()
	delete(r.sessions, s)
	r.mu.Unlock()
}

func (r *sessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// closeAll rejects new sessions and closes the open ones concurrently.
// It returns the first flush error.
func (r *sessionRegistry) closeAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	open := make([]closer, 0, len(r.sessions))
	for s := range r.sessions {
		open = append(open, s)
	}
	r.mu.Unlock()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, s := range open {
		wg.Add(1)
		go func(s closer) {
			defer wg.Done()
			if err := s.close(ctx); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(s)
	}
	wg.Wait()
	return firstErr
}

// session binds one websocket connection to one autosave Controller.
type session[T any] struct {
	kind     draft.Kind[T]
	owner    user.User
	conn     *websocket.Conn
	ctrl     *autosave.Controller[T]
	registry *sessionRegistry
	logger   core.Logger
	timeout  time.Duration

	mu     sync.Mutex
	send   chan []byte
	closed bool

	finishOnce sync.Once
	finishErr  error
}

func newSession[T any](kind draft.Kind[T], owner user.User, registry *sessionRegistry, logger core.Logger, timeout time.Duration) *session[T] {
	return &session[T]{
		kind:     kind,
		owner:    owner,
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		send:     make(chan []byte, sendBuffer),
	}
}

// onEvent relays controller events to the client.
func (s *session[T]) onEvent(ev autosave.Event) {
	msg := serverMessage{Type: msgState, State: ev.State.String(), Outcome: ev.Outcome}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	s.enqueue(msg)
}

// enqueue never blocks: messages to a client that does not keep up are dropped.
func (s *session[T]) enqueue(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("session: encoding message", err, s.owner)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("session: dropping message for slow client", map[string]interface{}{"type": msg.Type}, s.owner)
	}
}

func (s *session[T]) sendError(err error) {
	s.enqueue(serverMessage{Type: msgError, Error: err.Error()})
}

func (s *session[T]) snapshot() serverMessage {
	doc := s.ctrl.Document()
	progress := s.kind.ProgressOf(doc)
	return serverMessage{Type: msgSnapshot, Document: doc, Progress: &progress, State: s.ctrl.State().String()}
}

// run serves the connection until the client leaves or the session is closed.
func (s *session[T]) run() {
	if !s.registry.add(s) {
		s.sendError(errors.New("server is shutting down"))
		_ = s.finish(context.Background())
		s.writePump()
		return
	}
	s.enqueue(s.snapshot())

	go s.writePump()
	s.readPump()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.finish(ctx); err != nil {
		s.logger.Error("session: flushing on disconnect", err, s.owner)
	}
}

// finish closes the controller, which force-flushes pending edits, and stops the write pump.
func (s *session[T]) finish(ctx context.Context) error {
	s.finishOnce.Do(func() {
		s.finishErr = s.ctrl.OnLifecycle(ctx, autosave.TriggerTeardown)
		s.registry.remove(s)

		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
	})
	return s.finishErr
}

func (s *session[T]) close(ctx context.Context) error {
	return s.finish(ctx)
}

func (s *session[T]) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("session: read failed", err, s.owner)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(msg)
	}
}

func (s *session[T]) handle(msg clientMessage) {
	switch msg.Type {
	case msgSet:
		err := s.ctrl.Update(func(doc *T) error {
			if err := autosave.SetField(doc, msg.Field, msg.Value); err != nil {
				return err
			}
			if s.kind.Normalize != nil {
				s.kind.Normalize(doc)
			}
			return nil
		})
		if err != nil {
			s.sendError(err)
		}
	case msgReplace:
		doc, err := s.kind.Decode(msg.Document)
		if err == nil {
			err = s.ctrl.Replace(doc)
		}
		if err != nil {
			s.sendError(err)
		}
	case msgNavigate, msgBackground:
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.ctrl.OnLifecycle(ctx, autosave.Trigger(msg.Type))
		cancel()

		ok := err == nil
		reply := serverMessage{Type: msgFlushed, Trigger: msg.Type, OK: &ok, State: s.ctrl.State().String()}
		if err != nil {
			reply.Error = err.Error()
		}
		s.enqueue(reply)
	case msgPing:
		s.enqueue(serverMessage{Type: msgPong})
	default:
		s.sendError(errors.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *session[T]) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// Session states.
const (
	StateConnecting = "connecting"
	StateOpen       = "open"
	StateClosed     = "closed"
)

// Session events.
const (
	eventOpen  = "open"
	eventClose = "close"
)

// closedRetention is how long a closed session id is remembered so a
// client reusing it is told to start over rather than treated as unknown.
const closedRetention = time.Hour

// SessionObserver is told when sessions open and close.
type SessionObserver interface {
	SessionOpened(namespace string)
	SessionClosed(namespace string)
}

// session is one client session of a namespace.
type session struct {
	id       string
	machine  *fsm.FSM
	mu       sync.Mutex
	lastSeen time.Time
	closedAt time.Time
	inFlight int
	// streamable sessions outlive their HTTP connections.
	streamable bool
}

func (s *session) state() string {
	return s.machine.Current()
}

// SessionTracker follows the sessions of one namespace. It doubles as the
// streamable HTTP transport's session id manager, so a closed id is
// refused and the client has to initialize a new session.
type SessionTracker struct {
	namespace   string
	idleTimeout time.Duration
	observer    SessionObserver
	logger      *common.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessionTracker creates a tracker. idleTimeout of zero disables
// reaping; observer may be nil.
func NewSessionTracker(namespace string, idleTimeout time.Duration, observer SessionObserver, logger *common.Logger) *SessionTracker {
	return &SessionTracker{
		namespace:   namespace,
		idleTimeout: idleTimeout,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

func (t *SessionTracker) newSession(id string) *session {
	s := &session{id: id, lastSeen: t.now()}
	s.machine = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: eventOpen, Src: []string{StateConnecting}, Dst: StateOpen},
			{Name: eventClose, Src: []string{StateConnecting, StateOpen}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateOpen: func(_ context.Context, e *fsm.Event) {
				if t.observer != nil {
					t.observer.SessionOpened(t.namespace)
				}
				t.logger.Debug().Str("namespace", t.namespace).Str("session", id).Msg("session opened")
			},
			"enter_" + StateClosed: func(_ context.Context, e *fsm.Event) {
				if e.Src == StateOpen && t.observer != nil {
					t.observer.SessionClosed(t.namespace)
				}
				t.logger.Debug().Str("namespace", t.namespace).Str("session", id).Str("from", e.Src).Msg("session closed")
			},
		},
	)
	return s
}

// Begin registers a connecting session. Registering a known id is a no-op.
func (t *SessionTracker) Begin(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		t.sessions[id] = t.newSession(id)
	}
}

// Open moves a session to open once its initialize handshake is done.
func (t *SessionTracker) Open(ctx context.Context, id string) {
	s := t.get(id)
	if s == nil {
		t.Begin(id)
		if s = t.get(id); s == nil {
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Can(eventOpen) {
		_ = s.machine.Event(ctx, eventOpen)
	}
	s.lastSeen = t.now()
}

// Close ends a session. Closing is terminal and idempotent.
func (t *SessionTracker) Close(ctx context.Context, id string) {
	s := t.get(id)
	if s == nil {
		return
	}
	t.close(ctx, s)
}

func (t *SessionTracker) close(ctx context.Context, s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Can(eventClose) {
		_ = s.machine.Event(ctx, eventClose)
		s.closedAt = t.now()
	}
}

// Disconnect handles a dropped transport connection. SSE sessions close
// with their stream; streamable HTTP sessions stay open until deleted or
// reaped.
func (t *SessionTracker) Disconnect(ctx context.Context, id string) {
	s := t.get(id)
	if s == nil || s.streamable {
		return
	}
	t.close(ctx, s)
}

// CloseAll closes every session, used when the namespace goes away.
func (t *SessionTracker) CloseAll(ctx context.Context) {
	t.mu.RLock()
	all := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	t.mu.RUnlock()
	for _, s := range all {
		t.close(ctx, s)
	}
}

// State returns the state of id and whether it is known.
func (t *SessionTracker) State(id string) (string, bool) {
	s := t.get(id)
	if s == nil {
		return "", false
	}
	return s.state(), true
}

// Active returns the number of open sessions.
func (t *SessionTracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.sessions {
		if s.state() == StateOpen {
			n++
		}
	}
	return n
}

// StartInvocation marks activity on a session and counts the invocation
// as in flight. It reports false when the session is closed. Calls
// without a session id, or for sessions the tracker never saw, are
// allowed and untracked.
func (t *SessionTracker) StartInvocation(id string) bool {
	s := t.get(id)
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state() == StateClosed {
		return false
	}
	s.inFlight++
	s.lastSeen = t.now()
	return true
}

// FinishInvocation ends an invocation started with StartInvocation. It
// reports whether the session is still there to receive the result.
func (t *SessionTracker) FinishInvocation(id string) bool {
	s := t.get(id)
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.lastSeen = t.now()
	return s.state() != StateClosed
}

// Touch records activity on a session.
func (t *SessionTracker) Touch(id string) {
	if s := t.get(id); s != nil {
		s.mu.Lock()
		s.lastSeen = t.now()
		s.mu.Unlock()
	}
}

// Reap closes sessions idle for longer than the idle timeout and forgets
// closed sessions past their retention. It returns the number closed.
func (t *SessionTracker) Reap(ctx context.Context) int {
	now := t.now()
	t.mu.Lock()
	var idle []*session
	for id, s := range t.sessions {
		s.mu.Lock()
		switch {
		case s.state() == StateClosed:
			if now.Sub(s.closedAt) > closedRetention {
				delete(t.sessions, id)
			}
		case t.idleTimeout > 0 && s.inFlight == 0 && now.Sub(s.lastSeen) > t.idleTimeout:
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	t.mu.Unlock()

	for _, s := range idle {
		t.close(ctx, s)
	}
	if len(idle) > 0 {
		t.logger.Info().
			Str("namespace", t.namespace).
			Int("sessions", len(idle)).
			Msg("idle sessions closed")
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done.
func (t *SessionTracker) Run(ctx context.Context) {
	interval := t.idleTimeout / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Reap(ctx)
		}
	}
}

func (t *SessionTracker) get(id string) *session {
	if id == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// Generate issues a new session id for the streamable HTTP transport.
func (t *SessionTracker) Generate() string {
	id := "mcp-session-" + uuid.NewString()
	s := t.newSession(id)
	s.streamable = true
	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()
	return id
}

// Validate reports whether a client-supplied session id may be used. A
// closed session reports terminated; an unknown one is an error.
func (t *SessionTracker) Validate(sessionID string) (isTerminated bool, err error) {
	s := t.get(sessionID)
	if s == nil {
		return false, fmt.Errorf("unknown session %q", sessionID)
	}
	if s.state() == StateClosed {
		return true, nil
	}
	t.Touch(sessionID)
	return false, nil
}

// Terminate closes a session on client request.
func (t *SessionTracker) Terminate(sessionID string) (isNotAllowed bool, err error) {
	t.Close(context.Background(), sessionID)
	return false, nil
}

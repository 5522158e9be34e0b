package mcp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/mcp-openapi/internal/common"
)

type countingSessions struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *countingSessions) SessionOpened(string) { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *countingSessions) SessionClosed(string) { c.mu.Lock(); c.closed++; c.mu.Unlock() }

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(idle time.Duration) (*SessionTracker, *fakeClock, *countingSessions) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	obs := &countingSessions{}
	tr := NewSessionTracker("billing", idle, obs, common.NewSilentLogger())
	tr.now = clock.Now
	return tr, clock, obs
}

// --- Lifecycle ---

func TestSessionTracker_Lifecycle(t *testing.T) {
	tr, _, obs := newTestTracker(0)

	tr.Begin("s1")
	state, ok := tr.State("s1")
	require.True(t, ok)
	assert.Equal(t, StateConnecting, state)
	assert.Equal(t, 0, tr.Active())

	tr.Open(t.Context(), "s1")
	state, _ = tr.State("s1")
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, 1, tr.Active())

	tr.Close(t.Context(), "s1")
	state, _ = tr.State("s1")
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, tr.Active())

	// Closed is terminal.
	tr.Open(t.Context(), "s1")
	state, _ = tr.State("s1")
	assert.Equal(t, StateClosed, state)
	tr.Close(t.Context(), "s1")

	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, 1, obs.closed)
}

func TestSessionTracker_CloseWhileConnecting(t *testing.T) {
	tr, _, obs := newTestTracker(0)
	tr.Begin("s1")
	tr.Close(t.Context(), "s1")

	state, _ := tr.State("s1")
	assert.Equal(t, StateClosed, state)
	assert.Zero(t, obs.closed, "a session that never opened is not counted as closing")
}

func TestSessionTracker_EmptyIDIgnored(t *testing.T) {
	tr, _, _ := newTestTracker(0)
	tr.Begin("")
	tr.Open(t.Context(), "")
	_, ok := tr.State("")
	assert.False(t, ok)
	assert.True(t, tr.StartInvocation(""))
	assert.True(t, tr.FinishInvocation(""))
}

// --- Session id manager ---

func TestSessionTracker_IDManager(t *testing.T) {
	tr, _, _ := newTestTracker(0)

	id := tr.Generate()
	assert.NotEmpty(t, id)
	assert.NotEqual(t, id, tr.Generate())

	terminated, err := tr.Validate(id)
	require.NoError(t, err)
	assert.False(t, terminated)

	notAllowed, err := tr.Terminate(id)
	require.NoError(t, err)
	assert.False(t, notAllowed)

	terminated, err = tr.Validate(id)
	require.NoError(t, err)
	assert.True(t, terminated, "a closed session cannot be resumed")

	_, err = tr.Validate("never-issued")
	assert.Error(t, err)
}

func TestSessionTracker_Disconnect(t *testing.T) {
	tr, _, _ := newTestTracker(0)

	streamable := tr.Generate()
	tr.Open(t.Context(), streamable)
	tr.Disconnect(t.Context(), streamable)
	state, _ := tr.State(streamable)
	assert.Equal(t, StateOpen, state, "streamable sessions survive a dropped connection")

	tr.Begin("sse-1")
	tr.Open(t.Context(), "sse-1")
	tr.Disconnect(t.Context(), "sse-1")
	state, _ = tr.State("sse-1")
	assert.Equal(t, StateClosed, state)
}

// --- Invocations ---

func TestSessionTracker_Invocations(t *testing.T) {
	tr, _, _ := newTestTracker(0)
	tr.Begin("s1")
	tr.Open(t.Context(), "s1")

	assert.True(t, tr.StartInvocation("s1"))
	assert.True(t, tr.StartInvocation("s1"), "invocations may overlap")
	assert.True(t, tr.FinishInvocation("s1"))

	tr.Close(t.Context(), "s1")
	assert.False(t, tr.FinishInvocation("s1"), "result of an invocation outliving its session is discarded")
	assert.False(t, tr.StartInvocation("s1"))

	assert.True(t, tr.StartInvocation("untracked"))
}

// --- Reaping ---

func TestSessionTracker_ReapIdle(t *testing.T) {
	tr, clock, _ := newTestTracker(time.Minute)
	tr.Begin("idle")
	tr.Open(t.Context(), "idle")
	tr.Begin("busy")
	tr.Open(t.Context(), "busy")
	tr.Begin("active")
	tr.Open(t.Context(), "active")

	require.True(t, tr.StartInvocation("busy"))
	clock.Advance(50 * time.Second)
	tr.Touch("active")
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, tr.Reap(t.Context()))
	state, _ := tr.State("idle")
	assert.Equal(t, StateClosed, state)
	state, _ = tr.State("busy")
	assert.Equal(t, StateOpen, state, "sessions with invocations in flight are not idle")
	state, _ = tr.State("active")
	assert.Equal(t, StateOpen, state)

	clock.Advance(closedRetention + time.Second)
	tr.Reap(t.Context())
	_, ok := tr.State("idle")
	assert.False(t, ok, "closed sessions are forgotten after retention")
}

func TestSessionTracker_NoIdleTimeout(t *testing.T) {
	tr, clock, _ := newTestTracker(0)
	tr.Begin("s1")
	tr.Open(t.Context(), "s1")
	clock.Advance(24 * time.Hour)
	assert.Zero(t, tr.Reap(t.Context()))
}

func TestSessionTracker_ConcurrentUse(t *testing.T) {
	tr, _, obs := newTestTracker(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tr.Generate()
			tr.Open(t.Context(), id)
			if tr.StartInvocation(id) {
				tr.FinishInvocation(id)
			}
			tr.Reap(t.Context())
			tr.Close(t.Context(), id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Active())
	assert.Equal(t, 50, obs.opened)
	assert.Equal(t, 50, obs.closed)
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/agent/agenttest"
	"github.com/lagz0ne/claude-web/internal/model"
)

func testSession(id string) *Session {
	return newSession(context.Background(), id, "/tmp", time.Now())
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testSession("a")))

	err := r.Register(testSession("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSessionAlreadyActive))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetRemove(t *testing.T) {
	r := NewRegistry()
	s := testSession("a")
	require.NoError(t, r.Register(s))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Same(t, s, removed)

	_, ok = r.Get("a")
	assert.False(t, ok)
	_, ok = r.Remove("a")
	assert.False(t, ok)
}

func TestRegistry_DetachOnlyRemovesSameSession(t *testing.T) {
	r := NewRegistry()
	old := testSession("a")
	require.NoError(t, r.Register(old))
	r.Remove("a")

	replacement := testSession("a")
	require.NoError(t, r.Register(replacement))

	assert.False(t, r.Detach(old))
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	assert.True(t, r.Detach(replacement))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CloseCancelsStreams(t *testing.T) {
	r := NewRegistry()
	factory := agenttest.NewFactory(nil)

	var sessions []*Session
	for _, id := range []string{"a", "b", "c"} {
		s := testSession(id)
		stream, err := factory.Start(s.ctx, agent.Options{SessionID: s.ID, Input: s.queue})
		require.NoError(t, err)
		s.stream = stream
		require.NoError(t, r.Register(s))
		sessions = append(sessions, s)
	}
	assert.Len(t, r.All(), 3)

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())

	for _, s := range sessions {
		assert.Error(t, s.ctx.Err())
	}
	for _, st := range factory.Streams() {
		assert.Error(t, st.Context().Err())
	}
}

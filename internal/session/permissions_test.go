package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/model"
)

func permReq(id string) agent.PermissionRequest {
	return agent.PermissionRequest{ToolName: "Bash", Input: json.RawMessage(`{"command":"ls"}`), ToolUseID: id}
}

func TestPermissionBroker_ResolveDelivers(t *testing.T) {
	b := NewPermissionBroker()
	ch, err := b.Register(permReq("tu-1"))
	require.NoError(t, err)
	assert.True(t, b.Pending("tu-1"))

	require.NoError(t, b.Resolve("tu-1", agent.Allow(json.RawMessage(`{"command":"pwd"}`))))
	assert.False(t, b.Pending("tu-1"))

	d := <-ch
	assert.True(t, d.Allowed())
	assert.JSONEq(t, `{"command":"pwd"}`, string(d.UpdatedInput))
}

func TestPermissionBroker_UnknownID(t *testing.T) {
	b := NewPermissionBroker()

	err := b.Resolve("ghost", agent.Deny("no"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnknownPermissionRequest))
	assert.Contains(t, err.Error(), "ghost")
}

func TestPermissionBroker_DuplicateRegister(t *testing.T) {
	b := NewPermissionBroker()
	_, err := b.Register(permReq("tu-1"))
	require.NoError(t, err)

	_, err = b.Register(permReq("tu-1"))
	assert.Error(t, err)
	assert.Equal(t, 1, b.Len())
}

func TestPermissionBroker_CancelDropsEntry(t *testing.T) {
	b := NewPermissionBroker()
	_, err := b.Register(permReq("tu-1"))
	require.NoError(t, err)

	b.Cancel("tu-1")
	assert.False(t, b.Pending("tu-1"))
	assert.True(t, errors.Is(b.Resolve("tu-1", agent.Allow(nil)), model.ErrUnknownPermissionRequest))
}

func TestPermissionBroker_CloseDeniesPending(t *testing.T) {
	b := NewPermissionBroker()
	ch1, _ := b.Register(permReq("tu-1"))
	ch2, _ := b.Register(permReq("tu-2"))

	b.Close()

	for _, ch := range []<-chan agent.Decision{ch1, ch2} {
		d := <-ch
		assert.Equal(t, agent.BehaviorDeny, d.Behavior)
		assert.Equal(t, "session ended", d.Message)
	}
	assert.Equal(t, 0, b.Len())

	_, err := b.Register(permReq("tu-3"))
	assert.Error(t, err)
}

// However many times a request is resolved, exactly one resolution succeeds
// and exactly one decision is delivered.
func TestPermissionResolveOnceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolve succeeds once per registered id", prop.ForAll(
		func(ids int, attempts int) bool {
			b := NewPermissionBroker()
			chans := make([]<-chan agent.Decision, ids)
			for i := 0; i < ids; i++ {
				ch, err := b.Register(permReq(fmt.Sprintf("tu-%d", i)))
				if err != nil {
					return false
				}
				chans[i] = ch
			}

			for i := 0; i < ids; i++ {
				id := fmt.Sprintf("tu-%d", i)
				successes := 0
				for a := 0; a < attempts; a++ {
					err := b.Resolve(id, agent.Allow(nil))
					if err == nil {
						successes++
					} else if !errors.Is(err, model.ErrUnknownPermissionRequest) {
						return false
					}
				}
				if successes != 1 || len(chans[i]) != 1 {
					return false
				}
			}
			return b.Len() == 0
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

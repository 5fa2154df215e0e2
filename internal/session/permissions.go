package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lagz0ne/claude-web/internal/agent"
	"github.com/lagz0ne/claude-web/internal/model"
)

// teardownReason is the deny message given to requests still pending when a
// session ends.
const teardownReason = "session ended"

var errBrokerClosed = errors.New("permission broker closed")

// PendingPermission is one tool call awaiting a human decision.
type PendingPermission struct {
	Request     agent.PermissionRequest
	RequestedAt time.Time

	decision chan agent.Decision
}

// PermissionBroker correlates permission requests from the agent with
// decisions from clients, keyed by tool-use id. Each entry resolves once.
type PermissionBroker struct {
	mu      sync.Mutex
	pending map[string]*PendingPermission
	closed  bool
}

// NewPermissionBroker returns an empty broker.
func NewPermissionBroker() *PermissionBroker {
	return &PermissionBroker{pending: make(map[string]*PendingPermission)}
}

// Register records req and returns the channel its decision arrives on.
func (b *PermissionBroker) Register(req agent.PermissionRequest) (<-chan agent.Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBrokerClosed
	}
	if _, exists := b.pending[req.ToolUseID]; exists {
		return nil, fmt.Errorf("duplicate permission request: %s", req.ToolUseID)
	}

	p := &PendingPermission{
		Request:     req,
		RequestedAt: time.Now(),
		decision:    make(chan agent.Decision, 1),
	}
	b.pending[req.ToolUseID] = p
	return p.decision, nil
}

// Resolve delivers d to the request registered under toolUseID and removes it.
func (b *PermissionBroker) Resolve(toolUseID string, d agent.Decision) error {
	b.mu.Lock()
	p, ok := b.pending[toolUseID]
	delete(b.pending, toolUseID)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownPermissionRequest, toolUseID)
	}
	p.decision <- d
	return nil
}

// Cancel drops a request without deciding it, for when the asker gave up.
func (b *PermissionBroker) Cancel(toolUseID string) {
	b.mu.Lock()
	delete(b.pending, toolUseID)
	b.mu.Unlock()
}

// Pending reports whether toolUseID still awaits a decision.
func (b *PermissionBroker) Pending(toolUseID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[toolUseID]
	return ok
}

// Len returns the number of outstanding requests.
func (b *PermissionBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close denies every outstanding request and refuses new ones.
func (b *PermissionBroker) Close() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]*PendingPermission)
	b.closed = true
	b.mu.Unlock()

	for _, p := range pending {
		p.decision <- agent.Deny(teardownReason)
	}
}

package session

import (
	"context"
	"sync"

	"github.com/lagz0ne/claude-web/internal/agent"
)

// InputQueue is a session's mailbox of human turns not yet delivered to the
// agent. Push never blocks; Next blocks until a turn is available.
type InputQueue struct {
	mu     sync.Mutex
	buf    []agent.UserTurn
	waiter chan agent.UserTurn
}

// NewInputQueue returns an empty queue.
func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

// Push hands turn to a waiting consumer, or buffers it.
func (q *InputQueue) Push(turn agent.UserTurn) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiter != nil {
		q.waiter <- turn
		q.waiter = nil
		return
	}
	q.buf = append(q.buf, turn)
}

// Next returns the oldest turn, waiting for one if the buffer is empty.
func (q *InputQueue) Next(ctx context.Context) (agent.UserTurn, error) {
	q.mu.Lock()
	if len(q.buf) > 0 {
		turn := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return turn, nil
	}
	wait := make(chan agent.UserTurn, 1)
	q.waiter = wait
	q.mu.Unlock()

	select {
	case turn := <-wait:
		return turn, nil
	case <-ctx.Done():
		q.mu.Lock()
		if q.waiter == wait {
			q.waiter = nil
		}
		q.mu.Unlock()

		// A turn handed over just as ctx ended goes back to the front.
		select {
		case turn := <-wait:
			q.mu.Lock()
			q.buf = append([]agent.UserTurn{turn}, q.buf...)
			q.mu.Unlock()
		default:
		}
		return agent.UserTurn{}, ctx.Err()
	}
}

// Len reports the number of buffered turns.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

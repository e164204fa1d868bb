package session

import (
	"sync"

	"github.com/raphaelgruber/policy-debate/internal/debate"
)

// commandQueue is the unbounded FIFO between command producers and the driver.
// Pushes never block; the driver waits on ready.
type commandQueue struct {
	mu     sync.Mutex
	items  []debate.ControlCommand
	notify chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

func (q *commandQueue) push(cmd debate.ControlCommand) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest command.
func (q *commandQueue) pop() (debate.ControlCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return debate.ControlCommand{}, false
	}
	cmd := q.items[0]
	q.items[0] = debate.ControlCommand{}
	q.items = q.items[1:]
	return cmd, true
}

// takeEnd removes the first end_debate command, leaving the others in order.
func (q *commandQueue) takeEnd() (debate.ControlCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cmd := range q.items {
		if cmd.Type == debate.CommandEnd {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return cmd, true
		}
	}
	return debate.ControlCommand{}, false
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *commandQueue) ready() <-chan struct{} {
	return q.notify
}

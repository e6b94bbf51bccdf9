package negotiation

import (
	"context"
	"sync"
)

type command struct {
	name string
	run  func(ctx context.Context)
}

// commandQueue - неограниченная FIFO очередь с одним потребителем.
// push никогда не блокирует, поэтому ее можно звать из колбеков pion.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	notify chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

func (q *commandQueue) push(cmd command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop ждет следующую команду или отмену контекста.
func (q *commandQueue) pop(ctx context.Context) (command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = command{}
			q.items = q.items[1:]
			q.mu.Unlock()

			return cmd, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return command{}, false
		}
	}
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

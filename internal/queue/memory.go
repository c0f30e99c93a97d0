package queue

import (
	"context"
	"sync"
)

// Memory is an in-process queue backed by a buffered channel. Messages are
// lost when the process exits.
type Memory struct {
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

var _ Queue = (*Memory)(nil)

// NewMemory constructs a queue holding up to size pending messages.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{messages: make(chan Message, size), done: make(chan struct{})}
}

// Publish enqueues msg, blocking while the buffer is full.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.messages <- msg:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next message.
func (m *Memory) Receive(ctx context.Context) (Delivery, error) {
	select {
	case msg := <-m.messages:
		return Delivery{Message: msg}, nil
	case <-m.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Len reports the number of pending messages.
func (m *Memory) Len() int {
	return len(m.messages)
}

// Close stops the queue. Pending messages are dropped.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

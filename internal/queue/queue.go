// Package queue carries normalized merge request events from the ingress to
// the lifecycle workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/splax/instantiate/internal/domain"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("queue closed")

// Message is the queue wire payload.
type Message struct {
	ID          string                `json:"id"`
	Event       domain.CanonicalEvent `json:"event"`
	ProjectKey  string                `json:"projectKey"`
	ForceDeploy bool                  `json:"forceDeploy,omitempty"`
	EnqueuedAt  time.Time             `json:"enqueuedAt"`
}

// NewMessage wraps an event with a fresh id.
func NewMessage(ev domain.CanonicalEvent, projectKey string, force bool) Message {
	return Message{
		ID:          uuid.NewString(),
		Event:       ev,
		ProjectKey:  projectKey,
		ForceDeploy: force,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Delivery is a received message that must be acknowledged once handled.
type Delivery struct {
	Message
	ack func(context.Context) error
}

// Ack marks the delivery as processed.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Queue publishes and receives messages.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Receive blocks until a message is available, ctx is done or the queue closes.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

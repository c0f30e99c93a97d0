// Package ws fans stack status changes out to websocket subscribers.
package ws

import (
	"encoding/json"
	"time"

	"github.com/splax/instantiate/internal/domain"
)

// AllProjects subscribes to every project.
const AllProjects = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// StatusChange is the payload streamed when a stack changes status.
type StatusChange struct {
	ProjectID string             `json:"project_id"`
	MRID      string             `json:"mr_id"`
	Previous  domain.StackStatus `json:"previous"`
	Status    domain.StackStatus `json:"status"`
	Links     map[string]string  `json:"links,omitempty"`
	At        time.Time          `json:"at"`
}

// Hub manages subscriptions by project id. All map access happens on the run
// goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan chan int),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.projectID, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.projectID, msg.payload)
			if msg.projectID != AllProjects {
				h.deliver(AllProjects, msg.payload)
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

func (h *Hub) deliver(projectID string, payload []byte) {
	for c := range h.clients[projectID] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(projectID, c)
		}
	}
}

func (h *Hub) remove(projectID string, client Subscriber) {
	clients, ok := h.clients[projectID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, projectID)
	}
}

// Register adds a client to a project stream, or to every stream with AllProjects.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to the project's subscribers and to AllProjects subscribers.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
	case <-h.done:
	}
}

// PublishStatus encodes and broadcasts a status change.
func (h *Hub) PublishStatus(change StatusChange) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	h.Broadcast(change.ProjectID, payload)
	return nil
}

// Subscribers returns the number of registered clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Package registry tracks the UI clients connected to a session.
package registry

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrUnknownClient = errors.New("unknown client")

// Releaser is a resource a client holds until it disconnects.
type Releaser interface {
	Release()
}

// Client is a connected UI client.
type Client struct {
	ID             string
	RemoteAddr     string
	SubscriptionID string
	ConnectedAt    time.Time
	Ducking        bool

	lease Releaser
}

// ClientRegistry manages clients with thread-safe access.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Join adds a new client and returns its ID.
func (r *ClientRegistry) Join(remoteAddr, subscriptionID string, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.clients[id] = &Client{
		ID:             id,
		RemoteAddr:     remoteAddr,
		SubscriptionID: subscriptionID,
		ConnectedAt:    now,
	}
	return id
}

// Get returns a copy of the client.
func (r *ClientRegistry) Get(clientID string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return Client{}, ErrUnknownClient
	}
	return *c, nil
}

// HoldLease calls acquire and stores the result unless the client already
// holds a lease.
func (r *ClientRegistry) HoldLease(clientID string, acquire func() Releaser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if c.lease != nil {
		return nil
	}
	c.lease = acquire()
	c.Ducking = true
	return nil
}

// TakeLease removes and returns the client's lease, or nil.
func (r *ClientRegistry) TakeLease(clientID string) Releaser {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	l := c.lease
	c.lease = nil
	c.Ducking = false
	return l
}

// Leave removes the client and returns it with any lease it still held.
func (r *ClientRegistry) Leave(clientID string) (Client, Releaser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return Client{}, nil, false
	}
	delete(r.clients, clientID)
	return *c, c.lease, true
}

// All returns copies of all clients.
func (r *ClientRegistry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		result = append(result, *c)
	}
	return result
}

// Count returns the number of clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

package server

import (
	"fmt"
	"sync"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// ClientRegistry is the fixed-capacity table of connected clients.
//
// One reader/writer lock guards the slot array and every client's username,
// joined and room fields. Scans and broadcasts take the read lock; slot
// changes and field mutations take the write lock.
type ClientRegistry struct {
	mu    sync.RWMutex
	slots []*Client
}

// NewClientRegistry creates a registry with capacity slots.
func NewClientRegistry(capacity int) *ClientRegistry {
	return &ClientRegistry{slots: make([]*Client, capacity)}
}

// Capacity returns the number of slots.
func (r *ClientRegistry) Capacity() int {
	return len(r.slots)
}

// FindFreeSlot returns the first free slot index.
func (r *ClientRegistry) FindFreeSlot() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findFreeSlotLocked()
}

func (r *ClientRegistry) findFreeSlotLocked() (int, bool) {
	for i, c := range r.slots {
		if c == nil {
			return i, true
		}
	}
	return -1, false
}

// Insert places c in slot index.
func (r *ClientRegistry) Insert(index int, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(index, c)
}

func (r *ClientRegistry) insertLocked(index int, c *Client) error {
	if index < 0 || index >= len(r.slots) {
		return fmt.Errorf("insert slot %d: %w", index, errSlotOutOfRange)
	}
	if r.slots[index] != nil {
		return fmt.Errorf("insert slot %d: %w", index, errSlotOccupied)
	}
	r.slots[index] = c
	c.slot = index
	return nil
}

// Reserve finds a free slot and inserts c in one critical section, so
// concurrent acceptors cannot claim the same slot.
func (r *ClientRegistry) Reserve(c *Client) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, ok := r.findFreeSlotLocked()
	if !ok {
		return -1, ErrServerFull
	}
	if err := r.insertLocked(index, c); err != nil {
		return -1, err
	}
	return index, nil
}

// Remove clears slot index and returns the client it held.
func (r *ClientRegistry) Remove(index int) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.slots) {
		return nil, fmt.Errorf("remove slot %d: %w", index, errSlotOutOfRange)
	}
	c := r.slots[index]
	if c == nil {
		return nil, fmt.Errorf("remove slot %d: %w", index, errSlotEmpty)
	}
	r.slots[index] = nil
	return c, nil
}

// Get returns the client in slot index, or nil.
func (r *ClientRegistry) Get(index int) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.slots) {
		return nil
	}
	return r.slots[index]
}

// Clients returns a snapshot of every occupied slot.
func (r *ClientRegistry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.slots))
	for _, c := range r.slots {
		if c != nil {
			clients = append(clients, c)
		}
	}
	return clients
}

// Count returns the number of occupied slots.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.slots {
		if c != nil {
			n++
		}
	}
	return n
}

// Broadcast sends p to every joined client. The recipient set is the one
// seen under a single read-lock hold. It returns the number of clients the
// packet was delivered to.
func (r *ClientRegistry) Broadcast(p protocol.Packet) int {
	buf, err := protocol.Encode(p)
	if err != nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, c := range r.slots {
		if c != nil && c.joined && c.deliver(buf) {
			delivered++
		}
	}
	return delivered
}

// Authenticate records username and marks c as joined.
func (r *ClientRegistry) Authenticate(c *Client, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.username = username
	c.joined = true
}

// Rename replaces the username of c and returns the previous one together
// with the room c is in.
func (r *ClientRegistry) Rename(c *Client, username string) (string, *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := c.username
	c.username = username
	return old, c.room
}

// Identity returns the username, joined flag and room of c.
func (r *ClientRegistry) Identity(c *Client) (string, bool, *Room) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.username, c.joined, c.room
}

// Username returns the current username of c.
func (r *ClientRegistry) Username(c *Client) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.username
}

// RoomOf returns the room c is in, or nil.
func (r *ClientRegistry) RoomOf(c *Client) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.room
}

// validateUsername reports whether name has 1..UsernameMaxLength bytes.
func validateUsername(name string) error {
	switch {
	case name == "":
		return ErrEmptyUsername
	case len(name) > protocol.UsernameMaxLength:
		return ErrInvalidUsername
	default:
		return nil
	}
}

package server

import (
	"fmt"
	"sync"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// Room is a named channel with a fixed number of member slots.
//
// mu guards members. name, description and owner never change after
// creation. Lock order across the package is: client registry, room
// registry, room. A room lock is never held while acquiring the client
// registry lock, and no operation holds two room locks.
type Room struct {
	name        string
	description string
	owner       *Client

	mu      sync.RWMutex
	members []*Client
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Description returns the room description.
func (r *Room) Description() string {
	return r.description
}

// Owner returns the client that created the room.
func (r *Room) Owner() *Client {
	return r.owner
}

// FindFreeMemberSlot returns the first free member slot.
func (r *Room) FindFreeMemberSlot() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findFreeMemberSlotLocked()
}

func (r *Room) findFreeMemberSlotLocked() (int, bool) {
	for i, m := range r.members {
		if m == nil {
			return i, true
		}
	}
	return -1, false
}

// Members returns a snapshot of the current members.
func (r *Room) Members() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []*Client {
	members := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		if m != nil {
			members = append(members, m)
		}
	}
	return members
}

// Contains reports whether c occupies a member slot.
func (r *Room) Contains(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m == c {
			return true
		}
	}
	return false
}

// Broadcast sends p to every member.
func (r *Room) Broadcast(p protocol.Packet) {
	buf, err := protocol.Encode(p)
	if err != nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m != nil {
			m.deliver(buf)
		}
	}
}

// RoomInfo is a point-in-time description of a room.
type RoomInfo struct {
	Name        string
	Description string
	Members     int
	Capacity    int
}

// RoomRegistry is the fixed-capacity table of rooms. Its lock is
// independent of the client registry lock and of every room's own lock.
type RoomRegistry struct {
	clients        *ClientRegistry
	memberCapacity int

	mu    sync.RWMutex
	slots []*Room
}

// NewRoomRegistry creates a registry with capacity room slots, each room
// holding at most memberCapacity clients.
func NewRoomRegistry(clients *ClientRegistry, capacity, memberCapacity int) *RoomRegistry {
	return &RoomRegistry{
		clients:        clients,
		memberCapacity: memberCapacity,
		slots:          make([]*Room, capacity),
	}
}

// FindByName returns the room called name, or nil. Names are compared
// exactly.
func (rr *RoomRegistry) FindByName(name string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.findByNameLocked(name)
}

func (rr *RoomRegistry) findByNameLocked(name string) *Room {
	for _, room := range rr.slots {
		if room != nil && room.name == name {
			return room
		}
	}
	return nil
}

// FindFreeRoomSlot returns the first free room slot.
func (rr *RoomRegistry) FindFreeRoomSlot() (int, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.findFreeRoomSlotLocked()
}

func (rr *RoomRegistry) findFreeRoomSlotLocked() (int, bool) {
	for i, room := range rr.slots {
		if room == nil {
			return i, true
		}
	}
	return -1, false
}

// Count returns the number of rooms.
func (rr *RoomRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	n := 0
	for _, room := range rr.slots {
		if room != nil {
			n++
		}
	}
	return n
}

// List describes every room in slot order.
func (rr *RoomRegistry) List() []RoomInfo {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rr.slots))
	for _, room := range rr.slots {
		if room == nil {
			continue
		}
		room.mu.RLock()
		infos = append(infos, RoomInfo{
			Name:        room.name,
			Description: room.description,
			Members:     len(room.membersLocked()),
			Capacity:    len(room.members),
		})
		room.mu.RUnlock()
	}
	return infos
}

func validateRoomName(name string) error {
	if name == "" || len(name) > protocol.RoomNameMaxLength {
		return ErrInvalidRoomName
	}
	return nil
}

// Create makes a room owned by owner with owner as its only member.
func (rr *RoomRegistry) Create(owner *Client, name, description string) (*Room, error) {
	if err := validateRoomName(name); err != nil {
		return nil, err
	}
	if len(description) > protocol.RoomDescMaxLength {
		return nil, ErrInvalidRoomDesc
	}

	rr.clients.mu.Lock()
	defer rr.clients.mu.Unlock()

	if owner.room != nil {
		return nil, ErrAlreadyInRoom
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.findByNameLocked(name) != nil {
		return nil, ErrRoomNameUsed
	}
	index, ok := rr.findFreeRoomSlotLocked()
	if !ok {
		return nil, ErrNoRoomSlot
	}

	room := &Room{
		name:        name,
		description: description,
		owner:       owner,
		members:     make([]*Client, rr.memberCapacity),
	}
	room.members[0] = owner
	rr.slots[index] = room
	owner.room = room
	return room, nil
}

// Join adds c to the room called name and announces it to the members,
// c included.
func (rr *RoomRegistry) Join(c *Client, name string) (*Room, error) {
	rr.clients.mu.Lock()

	if c.room != nil {
		rr.clients.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}

	room := rr.FindByName(name)
	if room == nil {
		rr.clients.mu.Unlock()
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	index, ok := room.findFreeMemberSlotLocked()
	if !ok {
		room.mu.Unlock()
		rr.clients.mu.Unlock()
		return nil, ErrRoomFull
	}
	room.members[index] = c
	c.room = room
	username := c.username
	room.mu.Unlock()
	rr.clients.mu.Unlock()

	room.Broadcast(protocol.Join{Username: username})
	return room, nil
}

// Leave removes c from its room. When c owns the room every member is
// evicted, each eviction is announced to all former members, and the room
// is destroyed.
func (rr *RoomRegistry) Leave(c *Client) error {
	rr.clients.mu.Lock()

	room := c.room
	if room == nil {
		rr.clients.mu.Unlock()
		return ErrNotInRoom
	}

	if room.owner == c {
		recipients, notices := rr.destroyLocked(room)
		rr.clients.mu.Unlock()

		for _, notice := range notices {
			for _, m := range recipients {
				m.deliver(notice)
			}
		}
		return nil
	}

	room.mu.Lock()
	for i, m := range room.members {
		if m == c {
			room.members[i] = nil
		}
	}
	c.room = nil
	username := c.username
	room.mu.Unlock()
	rr.clients.mu.Unlock()

	room.Broadcast(protocol.Leave{Username: username})
	return nil
}

// destroyLocked evicts every member of room and removes it from the
// registry. The caller holds the client registry write lock. It returns the
// evicted members and one encoded leave notice per member.
func (rr *RoomRegistry) destroyLocked(room *Room) ([]*Client, [][]byte) {
	room.mu.Lock()
	members := room.membersLocked()
	for i := range room.members {
		room.members[i] = nil
	}
	room.mu.Unlock()

	notices := make([][]byte, 0, len(members))
	for _, m := range members {
		m.room = nil
		buf, err := protocol.Encode(protocol.Leave{Username: m.username})
		if err == nil {
			notices = append(notices, buf)
		}
	}

	rr.mu.Lock()
	for i, slot := range rr.slots {
		if slot == room {
			rr.slots[i] = nil
		}
	}
	rr.mu.Unlock()

	return members, notices
}

func (info RoomInfo) String() string {
	if info.Description == "" {
		return fmt.Sprintf("%s (%d/%d)", info.Name, info.Members, info.Capacity)
	}
	return fmt.Sprintf("%s (%d/%d) - %s", info.Name, info.Members, info.Capacity, info.Description)
}

package server

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

func newTestRooms(t *testing.T) (*ClientRegistry, *RoomRegistry) {
	t.Helper()
	clients := NewClientRegistry(6)
	return clients, NewRoomRegistry(clients, 2, 3)
}

// checkMembership verifies that every client's room matches the room
// member slots.
func checkMembership(t *testing.T, clients *ClientRegistry, rooms *RoomRegistry) {
	t.Helper()

	for _, c := range clients.Clients() {
		room := clients.RoomOf(c)
		if room == nil {
			continue
		}
		if !room.Contains(c) {
			t.Errorf("Client %s points at room %s but is not a member", clients.Username(c), room.Name())
		}
		if rooms.FindByName(room.Name()) != room {
			t.Errorf("Client %s points at destroyed room %s", clients.Username(c), room.Name())
		}
	}
	for _, info := range rooms.List() {
		room := rooms.FindByName(info.Name)
		for _, m := range room.Members() {
			if clients.RoomOf(m) != room {
				t.Errorf("Member %s of %s does not point back at it", clients.Username(m), info.Name)
			}
		}
	}
}

// TestRoomCreate covers room creation and its rejections, including a
// duplicate name from another client.
func TestRoomCreate(t *testing.T) {
	clients, rooms := newTestRooms(t)
	alice, _ := newTestClient(t, clients, "alice")
	bob, _ := newTestClient(t, clients, "bob")
	carol, _ := newTestClient(t, clients, "carol")

	if index, ok := rooms.FindFreeRoomSlot(); !ok || index != 0 {
		t.Errorf("Expected free room slot 0, got %d (%v)", index, ok)
	}

	room, err := rooms.Create(alice, "general", "chat")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if room.Owner() != alice || room.Description() != "chat" {
		t.Errorf("Unexpected room owner or description: %+v", room)
	}
	if members := room.Members(); len(members) != 1 || members[0] != alice {
		t.Errorf("Expected owner as only member, got %d members", len(members))
	}

	tests := []struct {
		name    string
		client  *Client
		room    string
		desc    string
		wantErr error
	}{
		{"duplicate name", bob, "general", "other", ErrRoomNameUsed},
		{"already in a room", alice, "random", "", ErrAlreadyInRoom},
		{"empty name", bob, "", "", ErrInvalidRoomName},
		{"long name", bob, strings.Repeat("r", protocol.RoomNameMaxLength+1), "", ErrInvalidRoomName},
		{"long description", bob, "random", strings.Repeat("d", protocol.RoomDescMaxLength+1), ErrInvalidRoomDesc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rooms.Create(tt.client, tt.room, tt.desc); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := rooms.Create(bob, "random", ""); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, ok := rooms.FindFreeRoomSlot(); ok {
		t.Error("Expected no free room slot")
	}
	if _, err := rooms.Create(carol, "third", ""); !errors.Is(err, ErrNoRoomSlot) {
		t.Errorf("Expected ErrNoRoomSlot, got %v", err)
	}
	if rooms.Count() != 2 {
		t.Errorf("Expected 2 rooms, got %d", rooms.Count())
	}
	checkMembership(t, clients, rooms)
}

// TestRoomJoin verifies join announcements, exact name matching and the
// member capacity.
func TestRoomJoin(t *testing.T) {
	clients, rooms := newTestRooms(t)
	alice, aliceConn := newTestClient(t, clients, "alice")
	bob, bobConn := newTestClient(t, clients, "bob")
	carol, _ := newTestClient(t, clients, "carol")
	dave, _ := newTestClient(t, clients, "dave")

	if _, err := rooms.Create(alice, "general", ""); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := rooms.Join(bob, "General"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound for different case, got %v", err)
	}
	if _, err := rooms.Join(bob, "general"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, err := rooms.Join(bob, "general"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("Expected ErrAlreadyInRoom, got %v", err)
	}

	for name, conn := range map[string]*recordConn{"alice": aliceConn, "bob": bobConn} {
		pkts := conn.packets(t)
		if len(pkts) != 1 || pkts[0] != (protocol.Join{Username: "bob"}) {
			t.Errorf("%s: expected bob's join, got %+v", name, pkts)
		}
	}

	if _, err := rooms.Join(carol, "general"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if _, err := rooms.Join(dave, "general"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("Expected ErrRoomFull, got %v", err)
	}
	if clients.RoomOf(dave) != nil {
		t.Error("Rejected client must not be in a room")
	}
	checkMembership(t, clients, rooms)
}

// TestRoomLeaveMember verifies that a member leaving frees its slot and is
// announced to the remaining members only.
func TestRoomLeaveMember(t *testing.T) {
	clients, rooms := newTestRooms(t)
	alice, aliceConn := newTestClient(t, clients, "alice")
	bob, bobConn := newTestClient(t, clients, "bob")

	room, _ := rooms.Create(alice, "general", "")
	if _, err := rooms.Join(bob, "general"); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	aliceConn.packets(t)
	bobConn.packets(t)

	if err := rooms.Leave(bob); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}
	if err := rooms.Leave(bob); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("Expected ErrNotInRoom, got %v", err)
	}
	if room.Contains(bob) || clients.RoomOf(bob) != nil {
		t.Error("Bob should no longer be in the room")
	}
	if index, ok := room.FindFreeMemberSlot(); !ok || index != 1 {
		t.Errorf("Expected free member slot 1, got %d (%v)", index, ok)
	}

	if pkts := aliceConn.packets(t); len(pkts) != 1 || pkts[0] != (protocol.Leave{Username: "bob"}) {
		t.Errorf("Expected alice to see bob leave, got %+v", pkts)
	}
	if pkts := bobConn.packets(t); len(pkts) != 0 {
		t.Errorf("Bob should not be notified of his own departure, got %+v", pkts)
	}
	checkMembership(t, clients, rooms)
}

// TestRoomLeaveOwner verifies that the owner leaving destroys the room,
// evicts every member and tells each former member about every eviction.
func TestRoomLeaveOwner(t *testing.T) {
	clients, rooms := newTestRooms(t)
	alice, aliceConn := newTestClient(t, clients, "alice")
	bob, bobConn := newTestClient(t, clients, "bob")
	carol, carolConn := newTestClient(t, clients, "carol")

	rooms.Create(alice, "general", "")
	rooms.Join(bob, "general")
	rooms.Join(carol, "general")
	for _, conn := range []*recordConn{aliceConn, bobConn, carolConn} {
		conn.packets(t)
	}

	if err := rooms.Leave(alice); err != nil {
		t.Fatalf("Leave returned error: %v", err)
	}

	if rooms.FindByName("general") != nil || rooms.Count() != 0 {
		t.Error("Room should be destroyed")
	}
	for _, c := range []*Client{alice, bob, carol} {
		if clients.RoomOf(c) != nil {
			t.Errorf("%s should no longer be in a room", clients.Username(c))
		}
	}

	want := []protocol.Packet{
		protocol.Leave{Username: "alice"},
		protocol.Leave{Username: "bob"},
		protocol.Leave{Username: "carol"},
	}
	for name, conn := range map[string]*recordConn{"alice": aliceConn, "bob": bobConn, "carol": carolConn} {
		pkts := conn.packets(t)
		if len(pkts) != len(want) {
			t.Errorf("%s: expected %d leave packets, got %+v", name, len(want), pkts)
			continue
		}
		for i := range want {
			if pkts[i] != want[i] {
				t.Errorf("%s: packet %d = %+v, want %+v", name, i, pkts[i], want[i])
			}
		}
	}

	if _, err := rooms.Create(bob, "general", ""); err != nil {
		t.Errorf("Room name should be reusable after destruction: %v", err)
	}
	checkMembership(t, clients, rooms)
}

// TestRoomList verifies the room descriptions returned by List.
func TestRoomList(t *testing.T) {
	clients, rooms := newTestRooms(t)
	alice, _ := newTestClient(t, clients, "alice")
	bob, _ := newTestClient(t, clients, "bob")
	carol, _ := newTestClient(t, clients, "carol")

	if got := rooms.List(); len(got) != 0 {
		t.Fatalf("Expected no rooms, got %+v", got)
	}

	rooms.Create(alice, "general", "chat")
	rooms.Join(carol, "general")
	rooms.Create(bob, "quiet", "")

	got := rooms.List()
	want := []string{"general (2/3) - chat", "quiet (1/3)"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d rooms, got %+v", len(want), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("Room %d = %q, want %q", i, got[i].String(), want[i])
		}
	}
}

// TestRoomConcurrentJoinLeave exercises joins and owner departures from
// many goroutines and checks that membership stays consistent.
func TestRoomConcurrentJoinLeave(t *testing.T) {
	clients := NewClientRegistry(12)
	rooms := NewRoomRegistry(clients, 3, 4)

	owners := make([]*Client, 3)
	names := []string{"a", "b", "c"}
	for i := range owners {
		owners[i], _ = newTestClient(t, clients, "owner"+names[i])
		if _, err := rooms.Create(owners[i], names[i], ""); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		c, _ := newTestClient(t, clients, "user"+string(rune('a'+i)))
		wg.Add(1)
		go func(c *Client, i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rooms.Join(c, names[(i+j)%len(names)])
				rooms.Leave(c)
			}
		}(c, i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		rooms.Leave(owners[0])
	}()
	wg.Wait()

	checkMembership(t, clients, rooms)
}

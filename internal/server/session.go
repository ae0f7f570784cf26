package server

import (
	"errors"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// runSession drives one client from authentication to disconnect. It runs
// on its own goroutine for the lifetime of the connection and always ends
// with the disconnect cleanup.
func (s *Server) runSession(c *Client) {
	defer s.sessions.Done()
	defer s.disconnect(c)

	username, ok := s.authenticate(c)
	if !ok {
		return
	}
	s.clients.Broadcast(protocol.Join{Username: username})

	for {
		pkt, err := protocol.ReadPacket(c.conn)
		if err != nil {
			c.logReadError(err)
			return
		}
		if !s.dispatch(c, pkt) {
			c.logf("Client quit")
			return
		}
	}
}

// authenticate receives candidate usernames until one is valid. It returns
// false if the connection ends or the client quits first.
func (s *Server) authenticate(c *Client) (string, bool) {
	for {
		pkt, err := protocol.ReadPacket(c.conn)
		if err != nil {
			c.logReadError(err)
			return "", false
		}

		switch p := pkt.(type) {
		case protocol.DefineUsername:
			if err := validateUsername(p.Username); err != nil {
				c.logf("Received invalid username")
				c.replyError(err)
				continue
			}
			s.clients.Authenticate(c, p.Username)
			c.replySuccess("Ok")
			c.logf("A client connected with username: %s", p.Username)
			return p.Username, true
		case protocol.Quit:
			return "", false
		case protocol.Unknown:
			c.logf("Ignoring unknown packet type %d before authentication", uint8(p.Code))
		default:
			c.replyError(ErrUsernameRequired)
		}
	}
}

// dispatch routes one packet to its handler and reports whether the session
// should continue.
func (s *Server) dispatch(c *Client, pkt protocol.Packet) bool {
	switch p := pkt.(type) {
	case protocol.Quit:
		return false
	case protocol.DefineUsername:
		s.handleUsernameChange(c, p)
	case protocol.Text:
		s.handleText(c, p)
	case protocol.CreateRoom:
		s.handleCreateRoom(c, p)
	case protocol.JoinRoom:
		s.handleJoinRoom(c, p)
	case protocol.LeaveRoom:
		s.handleLeaveRoom(c)
	case protocol.ListRooms:
		s.handleListRooms(c)
	case protocol.FileUploadRequest:
		s.handleUploadRequest(c, p)
	case protocol.FileDataTransfer:
		s.handleFileDataUpload(c, p)
	case protocol.FileDownloadRequest:
		s.handleDownloadRequest(c, p)
	case protocol.FileTransferCancel:
		s.handleTransferCancel(c, p)
	case protocol.Unknown:
		c.logf("Ignoring unknown packet type %d", uint8(p.Code))
	default:
		c.logf("Ignoring unexpected %s packet", pkt.Type())
	}
	return true
}

func (s *Server) handleUsernameChange(c *Client, p protocol.DefineUsername) {
	if err := validateUsername(p.Username); err != nil {
		c.replyError(ErrInvalidUsername)
		return
	}

	old, room := s.clients.Rename(c, p.Username)
	changed := protocol.UsernameChanged{OldUsername: old, NewUsername: p.Username}
	c.logf("Username changed from %s to %s", old, p.Username)
	if room != nil {
		room.Broadcast(changed)
		return
	}
	c.reply(changed)
}

func (s *Server) handleText(c *Client, p protocol.Text) {
	username, _, room := s.clients.Identity(c)
	if room == nil {
		c.replyError(ErrNoRoomForText)
		return
	}
	if p.Message == "" || len(p.Message) > protocol.MessageMaxLength {
		c.replyError(ErrInvalidMessage)
		return
	}
	if !c.checkRateLimit() {
		c.replyError(ErrRateLimited)
		return
	}

	room.Broadcast(protocol.Text{Message: p.Message, Username: username})
}

func (s *Server) handleCreateRoom(c *Client, p protocol.CreateRoom) {
	room, err := s.rooms.Create(c, p.Name, p.Description)
	if err != nil {
		c.replyError(err)
		return
	}
	c.logf("Created room %q", room.Name())
	c.replySuccess("Room created!")
}

func (s *Server) handleJoinRoom(c *Client, p protocol.JoinRoom) {
	room, err := s.rooms.Join(c, p.Name)
	if err != nil {
		c.replyError(err)
		return
	}
	c.logf("Joined room %q", room.Name())
}

func (s *Server) handleLeaveRoom(c *Client) {
	if err := s.rooms.Leave(c); err != nil {
		c.replyError(err)
		return
	}
	c.replySuccess("You left the room.")
}

func (s *Server) handleListRooms(c *Client) {
	rooms := s.rooms.List()
	if len(rooms) == 0 {
		c.replySuccess("No rooms.")
		return
	}
	for _, info := range rooms {
		c.replySuccess(info.String())
	}
}

// disconnect tears a session down: the client leaves its room, its slot is
// freed, the departure is announced, the connection is closed and transfer
// workers are drained.
func (s *Server) disconnect(c *Client) {
	if err := s.rooms.Leave(c); err != nil && !errors.Is(err, ErrNotInRoom) {
		c.logf("Error leaving room on disconnect: %v", err)
	}

	username, joined, _ := s.clients.Identity(c)
	if _, err := s.clients.Remove(c.slot); err != nil {
		c.logf("Error releasing client slot: %v", err)
	}
	if joined {
		s.clients.Broadcast(protocol.Leave{Username: username})
	}

	c.close()
	c.drainTransfers()

	if username == "" {
		username = "(anonymous)"
	}
	c.logf("Client disconnected: %s. Total clients: %d", username, s.clients.Count())
}

// Package testhelpers provides common utilities for testing the chat server.
//
// A Peer is a scripted client: tests send packets through it and assert on
// the packets the server sends back, over either TCP or WebSocket.
package testhelpers

import (
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// DefaultTimeout bounds every read a Peer performs.
const DefaultTimeout = 5 * time.Second

// TestOrigin is the Origin header sent by WebSocket peers.
const TestOrigin = "http://localhost:8080"

type stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Peer is one test client connection.
type Peer struct {
	t    testing.TB
	conn stream
}

// DialTCP connects to a TCP chat listener at addr.
func DialTCP(t testing.TB, addr string) *Peer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	p := &Peer{t: t, conn: conn}
	t.Cleanup(func() { _ = p.conn.Close() })
	return p
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	// Set a proper origin header for testing
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// DialWebSocket connects a Peer to the WebSocket endpoint at url.
func DialWebSocket(t testing.TB, url string) *Peer {
	t.Helper()

	ws, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	p := &Peer{t: t, conn: &wsStream{ws: ws}}
	t.Cleanup(func() { _ = p.conn.Close() })
	return p
}

// Send writes pkt to the server.
func (p *Peer) Send(pkt protocol.Packet) {
	p.t.Helper()

	if _, err := protocol.WritePacket(p.conn, pkt); err != nil {
		p.t.Fatalf("Failed to send %s: %v", pkt.Type(), err)
	}
}

// SendRaw writes raw bytes to the server.
func (p *Peer) SendRaw(data []byte) {
	p.t.Helper()

	if _, err := p.conn.Write(data); err != nil {
		p.t.Fatalf("Failed to send raw bytes: %v", err)
	}
}

// Read returns the next packet or the read error.
func (p *Peer) Read() (protocol.Packet, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		return nil, err
	}
	return protocol.ReadPacket(p.conn)
}

// Next returns the next packet and fails the test if none arrives.
func (p *Peer) Next() protocol.Packet {
	p.t.Helper()

	pkt, err := p.Read()
	if err != nil {
		p.t.Fatalf("Failed to read packet: %v", err)
	}
	return pkt
}

// Expect reads the next packet and fails the test unless it has type T.
func Expect[T protocol.Packet](p *Peer) T {
	p.t.Helper()

	pkt := p.Next()
	got, ok := pkt.(T)
	if !ok {
		var want T
		p.t.Fatalf("Expected %s packet, got %s: %+v", want.Type(), pkt.Type(), pkt)
	}
	return got
}

// ExpectError reads a ServerError and checks its message.
func (p *Peer) ExpectError(message string) {
	p.t.Helper()

	got := Expect[protocol.ServerError](p)
	if got.Message != message {
		p.t.Fatalf("Expected error %q, got %q", message, got.Message)
	}
}

// ExpectSuccess reads a ServerSuccess and checks its message.
func (p *Peer) ExpectSuccess(message string) {
	p.t.Helper()

	got := Expect[protocol.ServerSuccess](p)
	if got.Message != message {
		p.t.Fatalf("Expected success %q, got %q", message, got.Message)
	}
}

// ExpectClosed fails the test unless the server closes the connection
// before sending anything else.
func (p *Peer) ExpectClosed() {
	p.t.Helper()

	pkt, err := p.Read()
	if err == nil {
		p.t.Fatalf("Expected connection to close, got %s: %+v", pkt.Type(), pkt)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		p.t.Fatalf("Expected connection to close, read timed out")
	}
}

// Login authenticates as username and consumes the confirmation and the
// presence announcement the server sends back.
func (p *Peer) Login(username string) {
	p.t.Helper()

	p.Send(protocol.DefineUsername{Username: username})
	p.ExpectSuccess("Ok")
	join := Expect[protocol.Join](p)
	if join.Username != username {
		p.t.Fatalf("Expected own join for %q, got %q", username, join.Username)
	}
}

// Close closes the connection.
func (p *Peer) Close() {
	_ = p.conn.Close()
}

// wsStream presents a WebSocket client connection as a byte stream: each
// write is one binary frame and reads concatenate incoming frames.
type wsStream struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (s *wsStream) Read(b []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(b)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(b []byte) (int, error) {
	if err := s.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *wsStream) Close() error {
	return s.ws.Close()
}

func (s *wsStream) SetReadDeadline(t time.Time) error {
	return s.ws.SetReadDeadline(t)
}

package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// recordConn is a Conn that records every write and never yields input.
type recordConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	failWith error
	writes   int

	// afterWrite, when set, runs after each successful write with the
	// number of writes so far.
	afterWrite func(n int)
}

func (c *recordConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	if c.failWith != nil {
		c.mu.Unlock()
		return 0, c.failWith
	}
	n, err := c.buf.Write(p)
	c.writes++
	writes, hook := c.writes, c.afterWrite
	c.mu.Unlock()

	if hook != nil {
		hook(writes)
	}
	return n, err
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// packets decodes and consumes everything written so far.
func (c *recordConn) packets(t *testing.T) []protocol.Packet {
	t.Helper()

	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.buf.Reset()
	c.mu.Unlock()

	var pkts []protocol.Packet
	r := bytes.NewReader(data)
	for {
		pkt, err := protocol.ReadPacket(r)
		if errors.Is(err, io.EOF) {
			return pkts
		}
		if err != nil {
			t.Fatalf("Failed to decode written packets: %v", err)
		}
		pkts = append(pkts, pkt)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := *NewConfig()
	cfg.Port = "127.0.0.1:0"
	cfg.HTTPPort = ""
	cfg.StorageDir = t.TempDir()
	cfg.WriteTimeout = 0
	cfg.MaxClients = 4
	cfg.MaxRooms = 2
	cfg.MaxRoomMembers = 3
	cfg.MaxTransfers = 2
	cfg.MaxUploadSize = 1024
	return cfg
}

// newTestClient creates a client on a recording connection and reserves a
// registry slot for it. When username is non-empty the client is
// authenticated.
func newTestClient(t *testing.T, reg *ClientRegistry, username string) (*Client, *recordConn) {
	t.Helper()

	conn := &recordConn{}
	c := NewClient(conn, testConfig(t))
	if reg != nil {
		if _, err := reg.Reserve(c); err != nil {
			t.Fatalf("Failed to reserve slot: %v", err)
		}
		if username != "" {
			reg.Authenticate(c, username)
		}
	}
	return c, conn
}

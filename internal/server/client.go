// Package server manages individual chat clients: their connection, send
// serialisation, transfer slots and lifecycle control.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/packetchat/internal/protocol"
)

// Conn is the byte stream a session runs over. *net.TCPConn satisfies it
// directly; WebSocket connections are adapted by wsConn.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// Client represents one connected, possibly authenticated session.
//
// username, joined and room are guarded by the ClientRegistry lock. The
// transfer slot arrays are guarded by transferMu.
type Client struct {
	id           string
	conn         Conn
	addr         string
	slot         int
	writeTimeout time.Duration
	rateLimiter  *rateLimiter
	rateLimit    RateLimitConfig

	sendMu    sync.Mutex
	closeOnce sync.Once

	username string
	joined   bool
	room     *Room

	transferMu sync.Mutex
	uploads    []uploadSlot
	downloads  []downloadSlot
	ctx        context.Context
	cancel     context.CancelFunc
	workers    sync.WaitGroup
}

// NewClient creates a Client for conn with transfer slot arrays sized from cfg.
// The client holds no registry slot until the registry reserves one.
func NewClient(conn Conn, cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	addr := "unknown"
	if conn != nil && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}

	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		addr:         addr,
		slot:         -1,
		writeTimeout: cfg.WriteTimeout,
		rateLimiter:  newRateLimiter(cfg.RateLimit),
		rateLimit:    cfg.RateLimit,
		uploads:      make([]uploadSlot, cfg.MaxTransfers),
		downloads:    make([]downloadSlot, cfg.MaxTransfers),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Addr returns the remote address of the client.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) logf(format string, args ...any) {
	log.Printf("[%s %s] "+format, append([]any{c.id, c.addr}, args...)...)
}

// Send encodes p and writes it as one packet.
func (c *Client) Send(p protocol.Packet) error {
	buf, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	return c.write(buf)
}

// write sends an already encoded packet. Writes are serialised so packets
// from the dispatch loop, download workers and other sessions' broadcasts
// never interleave on the wire.
func (c *Client) write(buf []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(buf)
	return err
}

// deliver writes buf on behalf of another goroutine. A failed write closes
// the connection so the owning session notices and cleans up.
func (c *Client) deliver(buf []byte) bool {
	if err := c.write(buf); err != nil {
		if !isExpectedCloseError(err) {
			c.logf("Dropping connection after failed send: %v", err)
		}
		c.close()
		return false
	}
	return true
}

// reply sends p and logs a failure; the read side detects the broken
// connection on its next receive.
func (c *Client) reply(p protocol.Packet) {
	if err := c.Send(p); err != nil && !isExpectedCloseError(err) {
		c.logf("Error sending %s: %v", p.Type(), err)
	}
}

// replyError reports a request error to the client.
func (c *Client) replyError(err error) {
	c.reply(protocol.ServerError{Message: clientMessage(err)})
}

// replySuccess reports a confirmation to the client.
func (c *Client) replySuccess(msg string) {
	c.reply(protocol.ServerSuccess{Message: msg})
}

// checkRateLimit verifies if the client has exceeded its chat rate limit
// and returns true if the message should be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logf("Rate limit exceeded (%d messages per %s); discarding message", c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// close closes the connection exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logf("Error closing connection: %v", err)
		}
	})
}

// logReadError logs why the receive loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logf("Client closed the connection")
	case errors.Is(err, protocol.ErrTruncated):
		c.logf("Connection closed inside a packet: %v", err)
	case errors.Is(err, net.ErrClosed) || isExpectedCloseError(err):
		c.logf("Connection closed: %v", err)
	default:
		c.logf("Read error: %v", err)
	}
}

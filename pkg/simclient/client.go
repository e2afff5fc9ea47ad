// Package simclient is the simulation side of the crewmind wire protocol.
// It sends event batches to a running `crewmind serve` and reads back the
// action batches and meeting broadcasts. `crewmind replay` and the
// end-to-end tests drive the server through it.
package simclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"crewmind/pkg/protocol"
)

// reconnectBaseInterval is the base retry interval for reconnection.
const reconnectBaseInterval = 2 * time.Second

// reconnectJitter is the maximum jitter added to the reconnect interval.
const reconnectJitter = 500 * time.Millisecond

// maxBufferedLines bounds what Send queues while disconnected.
const maxBufferedLines = 100

// Reply is one line received from the server: either an action batch or a
// meeting broadcast.
type Reply struct {
	Actions   []protocol.ActionRecord
	Broadcast *protocol.Broadcast
}

// IsBatch reports whether r is a batch response (possibly empty).
func (r Reply) IsBatch() bool { return r.Broadcast == nil }

// Exchange is everything the server wrote in answer to one batch.
type Exchange struct {
	Broadcasts []protocol.Broadcast
	Actions    []protocol.ActionRecord
}

// Client holds one TCP connection to the server. Reads happen on a
// background goroutine; Next and Exchange consume them.
type Client struct {
	addr string // empty disables reconnection

	mu           sync.Mutex
	conn         net.Conn
	disconnected bool

	lines  chan []byte
	errs   chan error
	done   chan struct{}
	closed sync.Once

	outbox        *outbox
	reconnectBase time.Duration
}

// Dial connects to the server at addr. The client reconnects to addr when
// the connection drops.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	c := newClient(conn)
	c.addr = addr
	return c, nil
}

// NewWithConn wraps an established connection. It never reconnects.
func NewWithConn(conn net.Conn) *Client {
	return newClient(conn)
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:          conn,
		lines:         make(chan []byte),
		errs:          make(chan error, 1),
		done:          make(chan struct{}),
		outbox:        newOutbox(maxBufferedLines),
		reconnectBase: reconnectBaseInterval,
	}
	go c.readLoop(conn)
	return c
}

// SetReconnectInterval overrides the reconnect base interval (for testing).
func (c *Client) SetReconnectInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectBase = d
}

// Close stops the reader and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.DefaultMaxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case c.lines <- append([]byte(nil), line...):
		case <-c.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.errs <- err:
	case <-c.done:
	}
}

// Send writes one events batch. While reconnecting the batch is queued and
// flushed once the connection is back.
func (c *Client) Send(ctx context.Context, records []protocol.Record) error {
	if records == nil {
		records = []protocol.Record{}
	}
	return c.sendLine(ctx, protocol.Message{Type: protocol.MsgEvents, Events: records})
}

// RequestChat sends a requestChat notification for agent.
func (c *Client) RequestChat(ctx context.Context, agent string) error {
	return c.sendLine(ctx, map[string]string{"type": string(protocol.MsgRequestChat), "agent": agent})
}

// SendRaw writes an already-encoded line, adding the newline.
func (c *Client) SendRaw(ctx context.Context, line []byte) error {
	return c.write(ctx, append(bytes.TrimRight(line, "\n"), '\n'))
}

func (c *Client) sendLine(ctx context.Context, v any) error {
	data, err := protocol.EncodeLine(v)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		c.outbox.add(data)
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := c.conn.Write(data); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Next returns the next line from the server. A dropped connection is
// re-dialed when the client was created with Dial.
func (c *Client) Next(ctx context.Context) (Reply, error) {
	for {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-c.done:
			return Reply{}, &protocol.TransportError{Op: "receive", Err: net.ErrClosed}
		case line := <-c.lines:
			return decodeReply(line)
		case err := <-c.errs:
			if c.addr == "" {
				return Reply{}, &protocol.TransportError{Op: "receive", Err: err}
			}
			if err := c.reconnect(ctx); err != nil {
				return Reply{}, err
			}
		}
	}
}

// Exchange sends records and collects every broadcast up to and including
// the batch response.
func (c *Client) Exchange(ctx context.Context, records []protocol.Record) (Exchange, error) {
	if err := c.Send(ctx, records); err != nil {
		return Exchange{}, err
	}
	return c.Collect(ctx)
}

// Collect reads until the next batch response.
func (c *Client) Collect(ctx context.Context) (Exchange, error) {
	var ex Exchange
	for {
		r, err := c.Next(ctx)
		if err != nil {
			return ex, err
		}
		if !r.IsBatch() {
			ex.Broadcasts = append(ex.Broadcasts, *r.Broadcast)
			continue
		}
		ex.Actions = r.Actions
		return ex, nil
	}
}

func decodeReply(line []byte) (Reply, error) {
	switch line[0] {
	case '[':
		var actions []protocol.ActionRecord
		if err := json.Unmarshal(line, &actions); err != nil {
			return Reply{}, &protocol.ProtocolError{Reason: "malformed action batch", Err: err}
		}
		if actions == nil {
			actions = []protocol.ActionRecord{}
		}
		return Reply{Actions: actions}, nil
	case '{':
		var b protocol.Broadcast
		if err := json.Unmarshal(line, &b); err != nil {
			return Reply{}, &protocol.ProtocolError{Reason: "malformed broadcast", Err: err}
		}
		return Reply{Broadcast: &b}, nil
	default:
		return Reply{}, &protocol.ProtocolError{Reason: fmt.Sprintf("unexpected line %q", line)}
	}
}

// reconnect re-dials addr every base interval ±500ms until it succeeds or
// ctx ends, then flushes the outbox.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.disconnected = true
	base := c.reconnectBase
	_ = c.conn.Close()
	c.mu.Unlock()

	for {
		jitter := time.Duration(rand.Int64N(int64(2*reconnectJitter))) - reconnectJitter //nolint:gosec // jitter doesn't need crypto rand
		wait := max(base+jitter, base/2)

		select {
		case <-ctx.Done():
			return fmt.Errorf("reconnect: %w", ctx.Err())
		case <-c.done:
			return &protocol.TransportError{Op: "reconnect", Err: net.ErrClosed}
		case <-time.After(wait):
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("reconnect: %w", err)
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.disconnected = false
		pending := c.outbox.drain()
		var werr error
		for _, line := range pending {
			if _, werr = conn.Write(line); werr != nil {
				break
			}
		}
		c.mu.Unlock()
		go c.readLoop(conn)
		if werr != nil {
			return &protocol.TransportError{Op: "send", Err: werr}
		}
		return nil
	}
}

// Buffered returns how many lines are queued for the next connection.
func (c *Client) Buffered() int { return c.outbox.len() }

// Package session implements the bidder-facing half of the wire
// protocol: one Client per bidder connection, fanning inbound lines out
// to every auction task currently registered on it, and serializing
// outbound writes from whichever tasks address it.
//
// The session does not interpret message content — it is a passive
// fan-out router. Parsing and session/auction filtering happen inside
// the receiving task (internal/auction).
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Receiver is anything that can accept a raw inbound line into its
// mailbox. internal/auction.Task implements this.
type Receiver interface {
	Enqueue(line string)
}

// Client owns one bidder's bidirectional byte stream. It exclusively owns
// the stream; auction tasks only ever borrow it to send lines.
type Client struct {
	id     string
	conn   io.ReadWriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	regMu     sync.Mutex
	receivers []Receiver
	index     map[Receiver]int // position in receivers, for O(1) unregister
}

// New wraps conn as a Client. id is an opaque label used only for
// logging (typically the remote address).
func New(id string, conn io.ReadWriteCloser, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:     id,
		conn:   conn,
		logger: logger,
		index:  make(map[Receiver]int),
	}
}

// ID returns the client's logging label.
func (c *Client) ID() string { return c.id }

// Register adds task to the set of receivers that get every subsequently
// read inbound line. Thread-safe; idempotent (re-registering is a no-op).
func (c *Client) Register(task Receiver) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if _, ok := c.index[task]; ok {
		return
	}
	c.index[task] = len(c.receivers)
	c.receivers = append(c.receivers, task)
}

// Unregister removes task from the receiver set. A read iteration already
// in flight may still deliver one more line to task — that race is
// tolerated by the receiving task's own session/auction id filter.
func (c *Client) Unregister(task Receiver) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	idx, ok := c.index[task]
	if !ok {
		return
	}
	last := len(c.receivers) - 1
	c.receivers[idx] = c.receivers[last]
	c.index[c.receivers[idx]] = idx
	c.receivers = c.receivers[:last]
	delete(c.index, task)
}

// snapshot copies the current receiver list under the registration lock,
// held only briefly, so delivery to each receiver happens outside the
// lock and can't deadlock against a concurrent Register/Unregister.
func (c *Client) snapshot() []Receiver {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	out := make([]Receiver, len(c.receivers))
	copy(out, c.receivers)
	return out
}

// Send writes line, terminated by a newline, to the underlying stream.
// Concurrent senders are serialized.
func (c *Client) Send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// ReadLoop reads lines from the stream until EOF or ctx is cancelled,
// enqueuing each into every currently registered receiver. It returns
// when the stream is exhausted or errors; callers run it on its own
// goroutine per client.
func (c *Client) ReadLoop(ctx context.Context) error {
	reader := bufio.NewReader(c.conn)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			for _, r := range c.snapshot() {
				r.Enqueue(line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("client disconnected", "client", c.id)
				return nil
			}
			c.logger.Warn("client read error", "client", c.id, "error", err)
			return err
		}
	}
}

// Close closes the underlying stream.
func (c *Client) Close() error {
	return c.conn.Close()
}

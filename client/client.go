// Package client drives a collector over its TCP protocol. It is what
// an instrumented runtime plugin does, and what flowreplay uses to feed
// recorded logs back into a collector.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"flowScope/protocol"
)

// DefaultMaxResponseBytes bounds the size of a response read by End.
const DefaultMaxResponseBytes = 256 << 20

// ErrNoResponse is returned by End when the collector closed the
// connection instead of answering.
var ErrNoResponse = errors.New("collector closed the connection without a response")

// Client is a single collector connection. It is not safe for concurrent use.
type Client struct {
	conn             net.Conn
	maxResponseBytes uint32
	timeout          time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets a deadline applied to every request and response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxResponseBytes overrides DefaultMaxResponseBytes.
func WithMaxResponseBytes(n uint32) Option {
	return func(c *Client) { c.maxResponseBytes = n }
}

// Dial connects to the collector at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial collector %s: %w", addr, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{conn: conn, maxResponseBytes: DefaultMaxResponseBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a profiling session. A nil flowName profiles every flow.
func (c *Client) Start(identifier string, flowName *string) error {
	return c.send(protocol.ProfilerStart{Identifier: identifier, FlowName: flowName})
}

// Log forwards one engine log line observed at timestamp.
func (c *Client) Log(timestamp uint64, message string) error {
	return c.send(protocol.LogMessage{Timestamp: timestamp, Message: message})
}

// End closes the session. Without save the collector sends nothing back
// and End returns a nil response. With save it waits for the file or
// error response.
func (c *Client) End(save bool) (protocol.Response, error) {
	if err := c.send(protocol.ProfilerEnd{Save: save}); err != nil {
		return nil, err
	}
	if !save {
		return nil, nil
	}

	if err := c.deadline(); err != nil {
		return nil, err
	}
	resp, err := protocol.ReadResponse(c.conn, c.maxResponseBytes)
	if err != nil {
		if errors.Is(err, net.ErrClosed) || isEOF(err) {
			return nil, ErrNoResponse
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(req protocol.Request) error {
	if err := c.deadline(); err != nil {
		return err
	}
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return fmt.Errorf("send %s: %w", req.RequestType(), err)
	}
	return nil
}

func (c *Client) deadline() error {
	if c.timeout <= 0 {
		return nil
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrShortFrame)
}

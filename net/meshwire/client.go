package meshwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ServerError is an error string returned by the remote side.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// Client is a synchronous meshwire client. Calls are serialized on the
// connection; mesh exchanges are single-request conversations, so there is
// no pipelining.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex // serializes calls, protects seq and closed
	seq     uint64
	closed  bool
	encoder *cbor.Encoder
	decoder *cbor.Decoder
}

func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// DialTimeout is the variant used by maintenance tasks, where a slow dial
// counts as a connection failure.
func DialTimeout(network, address string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		encoder: cbor.NewEncoder(conn),
		decoder: cbor.NewDecoder(conn),
	}
}

// Call sends one request and waits for its response. A context deadline is
// applied to the connection for the duration of the call.
func (c *Client) Call(ctx context.Context, msgType uint8, req, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	c.seq++
	seq := c.seq

	if err := c.encoder.Encode(&RequestHeader{Seq: seq, Type: msgType}); err != nil {
		return err
	}
	if err := c.encoder.Encode(req); err != nil {
		return err
	}

	resp := &ResponseHeader{}
	if err := c.decoder.Decode(resp); err != nil {
		return err
	}
	if resp.Seq != seq {
		return fmt.Errorf("meshwire: response sequence %d does not match request %d", resp.Seq, seq)
	}
	if resp.Err != "" {
		return ServerError(resp.Err)
	}

	return c.decoder.Decode(reply)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	c.closed = true
	return c.conn.Close()
}

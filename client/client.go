// Package client talks to a taskd agent from the host side.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/chazu/taskd/protocol"
	"github.com/chazu/taskd/server"
)

// Version is the protocol version announced in handshakes.
const Version = 1

// ErrRejected is returned when the agent answers the handshake with an
// error status.
var ErrRejected = errors.New("client: handshake rejected")

// Client runs sessions against one agent endpoint. Each Run opens a new
// connection, since the agent accepts a single recipe per connection.
type Client struct {
	dial  func() (net.Conn, error)
	codec protocol.Codec
	hello string
}

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the wire encoding. It must match the agent's.
func WithCodec(c protocol.Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithHello sets the identifier sent in the handshake.
func WithHello(hello string) Option {
	return func(cl *Client) { cl.hello = hello }
}

// NewTCP returns a client for an agent listening on a tcp address.
func NewTCP(addr string, timeout time.Duration, opts ...Option) *Client {
	return newClient(func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, timeout)
	}, opts)
}

// NewVsock returns a client for an agent listening on vsock (cid, port).
func NewVsock(cid, port uint32, opts ...Option) *Client {
	return newClient(func() (net.Conn, error) {
		return DialVsock(cid, port)
	}, opts)
}

func newClient(dial func() (net.Conn, error), opts []Option) *Client {
	c := &Client{dial: dial, codec: protocol.JSONCodec{}, hello: "taskctl"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the agent's answer to a recipe.
type Result struct {
	// Reports holds the values of each REPORT, in execution order.
	Reports [][]any
	Status  int
}

// Run performs a handshake, sends recipe (a decoded wire recipe, as
// produced by protocol.EncodeRecipe or read from a file) and collects the
// response.
func (c *Client) Run(recipe any) (*Result, error) {
	nc, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	defer nc.Close()

	conn := protocol.NewConn(nc, c.codec, 0)
	if err := conn.WriteHandshake(protocol.Handshake{Hello: c.hello, Version: Version}); err != nil {
		return nil, fmt.Errorf("client: send handshake: %w", err)
	}
	st, err := conn.ReadStatus()
	if err != nil {
		return nil, fmt.Errorf("client: read handshake reply: %w", err)
	}
	if st.Status != protocol.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, st.Status)
	}

	if err := conn.WriteMessage(recipe, protocol.FrameResponse); err != nil {
		return nil, fmt.Errorf("client: send recipe: %w", err)
	}
	reports, st, err := conn.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	return &Result{Reports: reports, Status: st.Status}, nil
}

// DialVsock connects to an AF_VSOCK stream endpoint.
func DialVsock(cid, port uint32) (net.Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("vsock socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrVM{CID: cid, Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock connect %d:%d: %w", cid, port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock nonblock: %w", err)
	}
	local := server.VsockAddr{}
	if sa, err := unix.Getsockname(fd); err == nil {
		if v, ok := sa.(*unix.SockaddrVM); ok {
			local = server.VsockAddr{CID: v.CID, Port: v.Port}
		}
	}
	return server.NewVsockConn(fd, local, server.VsockAddr{CID: cid, Port: port}), nil
}

package server

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// VsockAddr is an AF_VSOCK endpoint.
type VsockAddr struct {
	CID  uint32
	Port uint32
}

func (VsockAddr) Network() string { return "vsock" }

func (a VsockAddr) String() string { return fmt.Sprintf("%d:%d", a.CID, a.Port) }

// ListenVsock listens for stream connections on port from any CID.
func ListenVsock(port uint32, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("vsock socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrVM{CID: unix.VMADDR_CID_ANY, Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vsock listen: %w", err)
	}
	return &vsockListener{
		f:    os.NewFile(uintptr(fd), "vsock-listener"),
		addr: VsockAddr{CID: unix.VMADDR_CID_ANY, Port: port},
	}, nil
}

type vsockListener struct {
	f    *os.File
	addr VsockAddr
}

func (l *vsockListener) Accept() (net.Conn, error) {
	rc, err := l.f.SyscallConn()
	if err != nil {
		return nil, wrapClosed(err)
	}
	var (
		nfd  int
		sa   unix.Sockaddr
		aerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		nfd, sa, aerr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(aerr, unix.EAGAIN)
	})
	if err != nil {
		return nil, wrapClosed(err)
	}
	if aerr != nil {
		return nil, fmt.Errorf("vsock accept: %w", aerr)
	}
	remote := VsockAddr{}
	if v, ok := sa.(*unix.SockaddrVM); ok {
		remote = VsockAddr{CID: v.CID, Port: v.Port}
	}
	return NewVsockConn(nfd, l.addr, remote), nil
}

func (l *vsockListener) Close() error { return l.f.Close() }

func (l *vsockListener) Addr() net.Addr { return l.addr }

// wrapClosed maps the file layer's closed error onto net.ErrClosed.
func wrapClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return net.ErrClosed
	}
	return err
}

// NewVsockConn wraps a connected, non-blocking AF_VSOCK descriptor.
func NewVsockConn(fd int, local, remote VsockAddr) net.Conn {
	return &vsockConn{
		File:   os.NewFile(uintptr(fd), "vsock:"+remote.String()),
		local:  local,
		remote: remote,
	}
}

// vsockConn adapts an *os.File, which already provides deadlines through
// the runtime poller, to net.Conn.
type vsockConn struct {
	*os.File
	local, remote VsockAddr
}

func (c *vsockConn) LocalAddr() net.Addr  { return c.local }
func (c *vsockConn) RemoteAddr() net.Addr { return c.remote }

// Write reports a peer that has gone away as net.ErrClosed.
func (c *vsockConn) Write(p []byte) (int, error) {
	n, err := c.File.Write(p)
	if errors.Is(err, unix.EPIPE) {
		return n, fmt.Errorf("vsock write: %w", net.ErrClosed)
	}
	return n, err
}

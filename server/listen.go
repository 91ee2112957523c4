package server

import (
	"fmt"
	"net"
)

// Listen opens the agent's listener. transport is "vsock", which binds port
// on any CID, or "tcp", which binds address.
func Listen(transport, address string, port uint32, backlog int) (net.Listener, error) {
	switch transport {
	case "", "vsock":
		return ListenVsock(port, backlog)
	case "tcp":
		l, err := net.Listen("tcp", address)
		if err != nil {
			return nil, fmt.Errorf("tcp listen %s: %w", address, err)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

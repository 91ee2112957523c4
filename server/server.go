package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/taskd/protocol"
	"github.com/chazu/taskd/vm"
)

var log = commonlog.GetLogger("taskd.server")

// Server accepts connections and runs one recipe per connection on a
// shared Agent.
type Server struct {
	agent *Agent
	cfg   serverConfig

	// exec serializes recipe execution; the report sink is agent-wide.
	exec sync.Mutex
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	codec      protocol.Codec
	maxBytes   int64
	minVersion int
}

// WithCodec sets the wire encoding. The default is JSON.
func WithCodec(c protocol.Codec) ServerOption {
	return func(cfg *serverConfig) { cfg.codec = c }
}

// WithMaxMessageBytes bounds the bytes read from one connection. Zero
// means unlimited.
func WithMaxMessageBytes(n int64) ServerOption {
	return func(cfg *serverConfig) { cfg.maxBytes = n }
}

// WithMinVersion rejects handshakes announcing an older protocol version.
func WithMinVersion(v int) ServerOption {
	return func(cfg *serverConfig) { cfg.minVersion = v }
}

// New creates a Server that executes recipes on agent.
func New(agent *Agent, opts ...ServerOption) *Server {
	cfg := serverConfig{codec: protocol.JSONCodec{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{agent: agent, cfg: cfg}
}

// Serve accepts connections on l until ctx is cancelled or l fails, then
// waits for open sessions to finish. Cancellation closes l and every open
// connection, and returns nil.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			switch {
			case backoff == 0:
				backoff = 5 * time.Millisecond
			case backoff < time.Second:
				backoff *= 2
			}
			log.Warningf("accept: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// HandleConn runs one session on conn and closes it: a handshake, then at
// most one recipe.
func (s *Server) HandleConn(conn net.Conn) {
	s.handle(context.Background(), conn)
}

// handle is HandleConn with conn closed early once ctx is cancelled.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	id := uuid.NewString()
	log.Infof("session %s: accepted from %s", id, conn.RemoteAddr())

	c := protocol.NewConn(conn, s.cfg.codec, s.cfg.maxBytes)
	if !s.handshake(id, c) {
		return
	}

	prog, err := c.ReadRecipe()
	if err != nil {
		log.Infof("session %s: no recipe: %v", id, err)
		return
	}
	log.Debugf("session %s: recipe of %d instructions\n%s", id, len(prog), vm.Disassemble(prog))

	value, reports, err := s.Execute(prog)
	if err != nil {
		log.Errorf("session %s: %v", id, err)
		return
	}
	log.Infof("session %s: returned %d with %d reports", id, value, len(reports))

	if err := c.WriteResponse(reports, protocol.StatusOK); err != nil {
		log.Warningf("session %s: write response: %v", id, err)
	}
}

func (s *Server) handshake(id string, c *protocol.Conn) bool {
	h, err := c.ReadHandshake()
	if errors.Is(err, io.EOF) {
		log.Infof("session %s: closed before handshake", id)
		return false
	}
	if err == nil && h.Version < s.cfg.minVersion {
		err = errors.New("unsupported protocol version")
	}
	if err != nil {
		log.Infof("session %s: handshake rejected: %v", id, err)
		if werr := c.WriteStatus(protocol.StatusError); werr != nil {
			log.Debugf("session %s: write status: %v", id, werr)
		}
		return false
	}
	if err := c.WriteStatus(protocol.StatusOK); err != nil {
		log.Warningf("session %s: write status: %v", id, err)
		return false
	}
	log.Debugf("session %s: handshake from %q version %d", id, h.Hello, h.Version)
	return true
}

// Execute runs prog on the agent and returns its completion value with the
// reports it emitted, in order. Concurrent calls run one at a time.
func (s *Server) Execute(prog vm.Program) (int, []protocol.ReportMessage, error) {
	s.exec.Lock()
	defer s.exec.Unlock()

	var reports []protocol.ReportMessage
	s.agent.SetReportSink(func(values []vm.Value) {
		reports = append(reports, protocol.NewReport(values))
	})
	defer s.agent.ClearReportSink()

	if _, err := s.agent.Submit(prog); err != nil {
		return 0, nil, err
	}
	value := s.agent.Wait()
	return value, reports, nil
}

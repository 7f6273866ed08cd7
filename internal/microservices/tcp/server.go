package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"runserver/internal/registry"
	"runserver/internal/store"

	"golang.org/x/sync/semaphore"
)

// FrameMode selects how a session finds the end of a request frame
type FrameMode string

const (
	// FrameModeLine dispatches every delimiter found anywhere in the stream
	FrameModeLine FrameMode = "line"
	// FrameModeTail only completes a frame when the last byte of the most
	// recent read is the delimiter (legacy behaviour)
	FrameModeTail FrameMode = "tail"
)

func ParseFrameMode(s string) (FrameMode, error) {
	switch FrameMode(s) {
	case FrameModeLine, FrameModeTail:
		return FrameMode(s), nil
	}
	return "", fmt.Errorf("unknown frame mode %q (expected line or tail)", s)
}

// Options tune a TCPServer. Zero values mean "off" unless noted.
type Options struct {
	Table             string        // record table used by the handlers
	MaxConnections    int           // concurrent sessions; 0 = unbounded
	FrameMode         FrameMode     // default FrameModeLine
	MaxFrameBytes     int           // oversized frames are dropped; default 1MB
	ReadBufferSize    int           // bytes per read in tail mode; default 1024
	IdleTimeout       time.Duration // read deadline per frame; 0 = wait forever
	ResponseDelimiter bool          // append '\n' after each response
	RateLimit         float64       // frames per second per session; 0 = unlimited
	RateBurst         int
	StoreTimeout      time.Duration // per store call; default 5s
	StrictLogin       bool          // fail login when no content id is found
}

func DefaultOptions() Options {
	return Options{
		Table:          "clients",
		MaxConnections: 1024,
		FrameMode:      FrameModeLine,
		MaxFrameBytes:  1024 * 1024,
		ReadBufferSize: 1024,
		RateBurst:      20,
		StoreTimeout:   5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Table == "" {
		o.Table = d.Table
	}
	if o.FrameMode == "" {
		o.FrameMode = d.FrameMode
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = d.MaxFrameBytes
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.RateBurst <= 0 {
		o.RateBurst = d.RateBurst
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	return o
}

// TCPServer is the listener: it accepts connections and runs one Session
// per connection until Stop.
type TCPServer struct {
	opts     Options
	Manager  *SessionManager
	Registry *registry.LoginRegistry
	Router   *Router

	logger   *slog.Logger
	metrics  *serverMetrics
	sem      *semaphore.Weighted // nil when unbounded
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // session goroutines + accept loop
	stopOnce sync.Once
	mu       sync.Mutex // guards listener
}

// NewServer wires a registry, session manager and router around st
func NewServer(st store.Client, opts Options, logger *slog.Logger) *TCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &TCPServer{
		opts:     opts,
		Manager:  NewSessionManager(logger),
		Registry: registry.New(logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.metrics = newServerMetrics(s.Manager.Count, s.Registry.Len)
	s.Router = NewRouter(NewHandlers(st, s.Registry, opts, logger), s.metrics, logger)
	if opts.MaxConnections > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConnections))
	}
	return s
}

// Start binds address:port and accepts connections in the background.
// A bind failure is returned and nothing keeps running.
func (s *TCPServer) Start(address string, port int) error {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("tcp_server_started",
		"addr", listener.Addr().String(),
		"frame_mode", string(s.opts.FrameMode),
		"max_connections", s.opts.MaxConnections,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(listener)
	}()
	return nil
}

// Addr is the bound address, nil before Start
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.metrics.acceptErrors.Inc()
			s.logger.Error("failed_to_accept_connection", "error", err)
			// avoid spinning on persistent errors such as EMFILE
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.metrics.rejected.Inc()
			s.logger.Warn("connection_rejected_server_full",
				"remote_addr", conn.RemoteAddr().String(),
				"max_connections", s.opts.MaxConnections,
			)
			conn.Close()
			continue
		}
		s.metrics.accepted.Inc()

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.handleConnection(conn)
		}(conn)
	}
}

// handleConnection runs the lifecycle of a single client connection
func (s *TCPServer) handleConnection(conn net.Conn) {
	session := NewSession(conn, s)
	s.Manager.Add(session)
	session.Run(s.ctx)
	s.Manager.Remove(session)
}

// Stop halts accepting, closes every live session and waits for them.
// Safe to call more than once.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		s.Manager.CloseAll()
		s.wg.Wait()
		s.Registry.Clear()
		s.logger.Info("tcp_server_stopped")
	})
}

// WritePrometheus exposes the server's metrics
func (s *TCPServer) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

func (s *TCPServer) Options() Options {
	return s.opts
}

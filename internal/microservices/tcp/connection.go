package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"runserver/internal/protocol"
	"runserver/internal/registry"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// SessionInfo is a read-only view of a live session
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ClientID    string    `json:"client_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Frames      uint64    `json:"frames"`
}

// Session owns one connection: it reads frames, dispatches them through the
// router and writes one response per routed request. It holds at most one
// login registry entry and releases it when closed.
type Session struct {
	ID          string // unique identifier = key in the session manager
	conn        net.Conn
	writer      *bufio.Writer
	router      *Router
	registry    *registry.LoginRegistry
	opts        Options
	metrics     *serverMetrics
	limiter     *rate.Limiter // nil when rate limiting is off
	logger      *slog.Logger
	connectedAt time.Time
	frames      atomic.Uint64

	mu       sync.Mutex
	loggedIn bool
	clientID string // logged-in identity, valid while loggedIn
	closed   bool

	closeOnce sync.Once
}

func NewSession(conn net.Conn, server *TCPServer) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		conn:        conn,
		writer:      bufio.NewWriter(conn),
		router:      server.Router,
		registry:    server.Registry,
		opts:        server.opts,
		metrics:     server.metrics,
		connectedAt: time.Now(),
	}
	if server.opts.RateLimit > 0 {
		// tokens refill over time, Allow consumes one per frame
		s.limiter = rate.NewLimiter(rate.Limit(server.opts.RateLimit), server.opts.RateBurst)
	}
	s.logger = server.logger.With("session_id", s.ID)
	return s
}

// Run is the read -> frame -> parse -> dispatch -> respond loop. It returns
// when the peer disconnects, an I/O error occurs or the session is closed.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()
	if ctx.Err() != nil {
		return
	}

	s.logger.Info("client_connected", "remote_addr", s.RemoteAddr())

	var err error
	switch s.opts.FrameMode {
	case FrameModeTail:
		err = s.readTail(ctx)
	default:
		err = s.readLines(ctx)
	}
	s.logDisconnect(err)
}

// readLines splits the stream on every delimiter
func (s *Session) readLines(ctx context.Context) error {
	reader := bufio.NewReaderSize(s.conn, 4096)
	for {
		s.armDeadline()
		frame, oversize, err := s.readFrame(reader)
		if err != nil {
			// bytes after the last delimiter never formed a frame
			return err
		}
		if oversize {
			s.dropOversize()
			continue
		}
		if err := s.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

// readFrame reads up to and including the next delimiter without holding
// more than MaxFrameBytes in memory.
func (s *Session) readFrame(r *bufio.Reader) ([]byte, bool, error) {
	var frame []byte
	oversize := false
	for {
		chunk, err := r.ReadSlice(protocol.FrameDelimiter)
		if !oversize {
			if len(frame)+len(chunk) > s.opts.MaxFrameBytes {
				oversize = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return frame, oversize, err
	}
}

// readTail accumulates reads and completes a frame only when a read ends
// on the delimiter. Delimiters inside a read stay part of the frame.
func (s *Session) readTail(ctx context.Context) error {
	buf := make([]byte, s.opts.ReadBufferSize)
	var pending bytes.Buffer
	discarding := false

	for {
		s.armDeadline()
		n, err := s.conn.Read(buf)
		if n > 0 {
			complete := buf[n-1] == protocol.FrameDelimiter
			if !discarding {
				pending.Write(buf[:n])
				if pending.Len() > s.opts.MaxFrameBytes {
					pending.Reset()
					discarding = true
				}
			}

			switch {
			case complete && discarding:
				discarding = false
				s.dropOversize()
			case complete:
				frame := bytes.Clone(pending.Bytes())
				pending.Reset()
				if herr := s.handleFrame(ctx, frame); herr != nil {
					return herr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

// handleFrame turns one frame into at most one response
func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	s.frames.Add(1)

	if protocol.IsNoop(frame) {
		s.metrics.framesDropped.Inc()
		s.logger.Debug("empty_frame_dropped", "size", len(frame))
		return nil
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.rateLimited.Inc()
		s.logger.Warn("rate_limit_exceeded")
		return s.Send(protocol.Fail(MsgRateLimited))
	}

	var resp protocol.Response
	res := protocol.ParseRequest(frame)
	switch res.Status {
	case protocol.Malformed:
		s.metrics.malformed.Inc()
		s.logger.Warn("invalid_json_received", "error", res.Err.Error())
		resp = protocol.Fail(MsgInvalidFormat)
	case protocol.Untyped:
		s.logger.Warn("request_without_type")
		resp = protocol.Fail(MsgInvalidRequest)
	default:
		resp = s.router.Route(ctx, s, res.Request)
	}
	return s.Send(resp)
}

// Send writes one encoded response, followed by '\n' only when the server
// is configured for delimited responses.
func (s *Session) Send(resp protocol.Response) error {
	raw, err := resp.Encode()
	if err != nil {
		s.logger.Error("failed_to_encode_response", "error", err)
		raw, _ = protocol.Fail(MsgInternalError).Encode()
	}
	if s.opts.ResponseDelimiter {
		raw = append(raw, protocol.FrameDelimiter)
	}

	if _, err := s.writer.Write(raw); err != nil {
		s.metrics.writeErrors.Inc()
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		s.metrics.writeErrors.Inc()
		return fmt.Errorf("failed to flush response: %w", err)
	}
	s.logger.Debug("response_sent", "success", resp.Success, "message", resp.Message)
	return nil
}

// BindLogin records clientID as this session's identity and registers it.
// A different identity held before is released first. Returns false when
// the session is already closed.
func (s *Session) BindLogin(clientID, contentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.loggedIn && s.clientID != clientID {
		s.registry.RemoveOwned(s.clientID, s.ID)
	}
	s.loggedIn = true
	s.clientID = clientID
	s.registry.Register(clientID, contentID, s.ID)
	return true
}

func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr(),
		ClientID:    s.ClientID(),
		ConnectedAt: s.connectedAt,
		Frames:      s.frames.Load(),
	}
}

// Close releases the connection and the registry entry exactly once
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		loggedIn, clientID := s.loggedIn, s.clientID
		s.loggedIn, s.clientID = false, ""
		s.mu.Unlock()

		if loggedIn && s.registry.RemoveOwned(clientID, s.ID) {
			s.logger.Info("client_logged_out", "client_id", clientID)
		}
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) armDeadline() {
	if s.opts.IdleTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	}
}

func (s *Session) dropOversize() {
	s.metrics.framesDropped.Inc()
	s.logger.Warn("message_too_large", "max_size", s.opts.MaxFrameBytes)
}

func (s *Session) logDisconnect(err error) {
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, io.EOF):
		s.logger.Info("client_disconnected", "client_id", s.ClientID())
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Warn("client_read_timeout", "client_id", s.ClientID())
	case errors.Is(err, net.ErrClosed):
		// closed by Stop or CloseAll
		s.logger.Info("session_closed", "client_id", s.ClientID())
	default:
		s.logger.Error("client_read_error", "error", err)
	}
}

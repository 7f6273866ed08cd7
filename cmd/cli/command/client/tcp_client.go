package client

// tcp_client.go = speaks the newline-framed JSON protocol of the TCP server.

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"runserver/internal/protocol"
)

// TCPClient keeps one connection open so a login stays registered for as
// long as the client lives.
type TCPClient struct {
	serverAddr string
	timeout    time.Duration
	conn       net.Conn
	dec        *json.Decoder
	mu         sync.Mutex
	stats      ConnectionStats
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	ConnectedAt      time.Time
	MessagesSent     int
	MessagesReceived int
}

func NewTCPClient(serverAddr string, timeout time.Duration) *TCPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TCPClient{serverAddr: serverAddr, timeout: timeout}
}

// Connect establishes the connection
func (c *TCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.serverAddr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	c.conn = conn
	// responses may or may not end in '\n'; a decoder handles both
	c.dec = json.NewDecoder(conn)
	c.stats = ConnectionStats{ConnectedAt: time.Now()}
	return nil
}

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.dec = nil
	return err
}

func (c *TCPClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *TCPClient) GetStats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Do sends one request and waits for its response
func (c *TCPClient) Do(ctx context.Context, reqType string, data map[string]any) (protocol.Response, error) {
	frame, err := protocol.EncodeRequest(protocol.Request{Type: reqType, Data: protocol.FromMap(data)})
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.DoRaw(ctx, frame)
}

// DoRaw sends frame as-is (it must end with the delimiter) and waits for
// one response. Frames the server drops silently never get one; the call
// then fails with a timeout.
func (c *TCPClient) DoRaw(ctx context.Context, frame []byte) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return protocol.Response{}, fmt.Errorf("not connected")
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return protocol.Response{}, err
	}

	if _, err := c.conn.Write(frame); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	c.stats.MessagesSent++

	var resp protocol.Response
	if err := c.dec.Decode(&resp); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to read response: %w", err)
	}
	c.stats.MessagesReceived++
	return resp, nil
}

package tcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"runserver/internal/protocol"
	"runserver/internal/store"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore() *store.MemoryStore {
	m := store.NewMemoryStore("")
	m.Seed("clients",
		store.Record{"id": protocol.String("alice"), "contentId": protocol.String("c1"), "name": protocol.String("Alice")},
		store.Record{"id": protocol.String("bob"), "contentId": protocol.String("c2")},
		store.Record{"id": protocol.String("carol"), "contentId": protocol.String("c3")},
	)
	return m
}

// testClient speaks the wire protocol: delimited requests out, back-to-back
// JSON responses in.
type testClient struct {
	t    *testing.T
	conn net.Conn
	dec  *json.Decoder
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{t: t, conn: conn, dec: json.NewDecoder(conn)}
}

func dialTestClient(t *testing.T, addr net.Addr) *testClient {
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newTestClient(t, conn)
}

func (c *testClient) writeRaw(raw string) {
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write([]byte(raw))
	require.NoError(c.t, err)
}

func (c *testClient) send(reqType string, data map[string]any) {
	frame, err := protocol.EncodeRequest(protocol.Request{Type: reqType, Data: protocol.FromMap(data)})
	require.NoError(c.t, err)
	c.writeRaw(string(frame))
}

func (c *testClient) read() wireResponse {
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wireResponse
	require.NoError(c.t, c.dec.Decode(&resp))
	return resp
}

func (c *testClient) do(reqType string, data map[string]any) wireResponse {
	c.send(reqType, data)
	return c.read()
}

// expectSilence asserts no response arrives within d
func (c *testClient) expectSilence(d time.Duration) {
	c.conn.SetReadDeadline(time.Now().Add(d))
	var resp wireResponse
	err := c.dec.Decode(&resp)
	require.Error(c.t, err, "unexpected response: %+v", resp)
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	require.True(c.t, netErr.Timeout())
	// a timed-out decoder is unusable, start a fresh one
	c.dec = json.NewDecoder(c.conn)
}

// wireResponse decodes a response with plain Go types for assertions
type wireResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

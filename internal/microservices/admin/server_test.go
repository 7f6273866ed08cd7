package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"runserver/internal/microservices/tcp"
	"runserver/internal/protocol"
	"runserver/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type AdminServerTestSuite struct {
	suite.Suite
	tcpServer *tcp.TCPServer
	store     *store.MemoryStore
}

func (s *AdminServerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *AdminServerTestSuite) SetupTest() {
	s.store = store.NewMemoryStore("")
	s.store.Seed("clients",
		store.Record{"id": protocol.String("alice"), "contentId": protocol.String("c1")},
		store.Record{"id": protocol.String("bob"), "contentId": protocol.String("c2")},
	)
	s.tcpServer = tcp.NewServer(s.store, tcp.DefaultOptions(), discardLogger())
}

func (s *AdminServerTestSuite) TearDownTest() {
	s.tcpServer.Stop()
}

func (s *AdminServerTestSuite) router(auth *Auth) http.Handler {
	return NewServer(NewHandler(s.tcpServer, s.store, auth), discardLogger()).Handler()
}

func (s *AdminServerTestSuite) get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *AdminServerTestSuite) TestHealth() {
	w := s.get(s.router(nil), "/health", "")
	require.Equal(s.T(), http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(s.T(), "ok", body["status"])
	assert.EqualValues(s.T(), 0, body["logged_in"])
}

func (s *AdminServerTestSuite) TestClients() {
	sess := tcp.NewSession(nil, s.tcpServer)
	require.True(s.T(), sess.BindLogin("alice", "c1"))

	w := s.get(s.router(nil), "/clients", "")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.JSONEq(s.T(), `{"alice":"c1"}`, w.Body.String())
}

func (s *AdminServerTestSuite) TestSessionsEmpty() {
	w := s.get(s.router(nil), "/sessions", "")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.JSONEq(s.T(), `[]`, w.Body.String())
}

func (s *AdminServerTestSuite) TestRecords() {
	w := s.get(s.router(nil), "/records", "")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.JSONEq(s.T(),
		`[{"id":"alice","contentId":"c1"},{"id":"bob","contentId":"c2"}]`,
		w.Body.String())
}

func (s *AdminServerTestSuite) TestMetrics() {
	w := s.get(s.router(nil), "/metrics", "")
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), "runserver_sessions_active 0")
	assert.Contains(s.T(), w.Body.String(), "process_")
}

func (s *AdminServerTestSuite) TestTokenFlow() {
	hash, err := HashPassword("s3cret")
	require.NoError(s.T(), err)
	auth, err := NewAuth(hash, "signing-key", time.Minute)
	require.NoError(s.T(), err)
	h := s.router(auth)

	// health stays open
	assert.Equal(s.T(), http.StatusOK, s.get(h, "/health", "").Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.get(h, "/clients", "").Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.get(h, "/clients", "garbage").Code)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(s.T(), http.StatusUnauthorized, post(`{"password":"wrong"}`).Code)
	assert.Equal(s.T(), http.StatusBadRequest, post(`{}`).Code)

	w := post(`{"password":"s3cret"}`)
	require.Equal(s.T(), http.StatusOK, w.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(s.T(), out.Token)

	assert.Equal(s.T(), http.StatusOK, s.get(h, "/clients", out.Token).Code)
}

func (s *AdminServerTestSuite) TestTokenWhenAuthDisabled() {
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(`{"password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router(nil).ServeHTTP(w, req)
	assert.Equal(s.T(), http.StatusNotFound, w.Code)
}

func TestAdminServerSuite(t *testing.T) {
	suite.Run(t, new(AdminServerTestSuite))
}

func TestAuthTokenExpiry(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	auth, err := NewAuth(hash, "key", time.Minute)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }
	token, exp, err := auth.IssueToken("pw")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), exp)
	assert.NoError(t, auth.ValidateToken(token))

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, auth.ValidateToken(token), ErrInvalidToken)
}

func TestAuthRejectsForeignSignature(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	issuer, err := NewAuth(hash, "key-one", time.Minute)
	require.NoError(t, err)
	verifier, err := NewAuth(hash, "key-two", time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken("pw")
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.ValidateToken(token), ErrInvalidToken)
}

func TestNewAuthRequiresSecret(t *testing.T) {
	_, err := NewAuth("$2a$10$abc", "", 0)
	assert.Error(t, err)

	auth, err := NewAuth("", "", 0)
	require.NoError(t, err)
	assert.False(t, auth.Enabled())
}

func TestServerStartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := store.NewMemoryStore("")
	tcpServer := tcp.NewServer(st, tcp.DefaultOptions(), discardLogger())
	defer tcpServer.Stop()

	srv := NewServer(NewHandler(tcpServer, st, nil), discardLogger())
	require.NoError(t, srv.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

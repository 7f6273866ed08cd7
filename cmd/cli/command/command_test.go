package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"runserver/internal/microservices/admin"
	"runserver/internal/microservices/tcp"
	"runserver/internal/protocol"
	"runserver/internal/store"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func startServer(t *testing.T) (*tcp.TCPServer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore("")
	st.Seed("clients", store.Record{"id": protocol.String("alice"), "contentId": protocol.String("c1")})
	srv := tcp.NewServer(st, tcp.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, srv.Start("127.0.0.1", 0))
	t.Cleanup(srv.Stop)
	return srv, st
}

// run executes the CLI with args against addr and returns stdout
func run(t *testing.T, addr string, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--addr", addr, "--raw"}, args...))
	err := root.Execute()
	return out.String(), err
}

func decode(t *testing.T, line string) protocol.Response {
	t.Helper()
	var resp protocol.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestOneShotCommands(t *testing.T) {
	srv, st := startServer(t)
	addr := srv.Addr().String()

	out, err := run(t, addr, "", "status")
	require.NoError(t, err)
	assert.Equal(t, tcp.MsgPong, decode(t, out).Message)

	out, err = run(t, addr, "", "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello world", decode(t, out).Message)

	out, err = run(t, addr, "", "save", "dave", "contentId=c4", "age=31")
	require.NoError(t, err)
	assert.Equal(t, tcp.MsgSaveSuccess, decode(t, out).Message)

	rec, err := st.GetRecordByID(context.Background(), "clients", "dave")
	require.NoError(t, err)
	n, ok := rec["age"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, float64(31), n)

	out, err = run(t, addr, "", "search", "dave")
	require.NoError(t, err)
	assert.Equal(t, "c4", decode(t, out).Data["contentId"].String())

	out, err = run(t, addr, "", "list")
	require.NoError(t, err)
	assert.Empty(t, decode(t, out).Data)
}

func TestFailedResponseIsAnError(t *testing.T) {
	srv, _ := startServer(t)

	out, err := run(t, srv.Addr().String(), "", "status", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), tcp.MsgInvalidRequest)
	assert.False(t, decode(t, out).Success)
}

func TestShellKeepsLogin(t *testing.T) {
	srv, _ := startServer(t)

	script := strings.Join([]string{
		"login id=alice",
		"list",
		`{"type":"echo","data":{"message":"raw"}}`,
		"save name=x",
		"bogus=",
		"quit",
	}, "\n")
	out, err := run(t, srv.Addr().String(), script, "shell")
	require.NoError(t, err)

	var responses []protocol.Response
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimPrefix(line, "> ")
		if strings.HasPrefix(line, "{") {
			responses = append(responses, decode(t, line))
		}
	}
	require.Len(t, responses, 5)
	assert.Equal(t, tcp.MsgLoginSuccess, responses[0].Message)
	assert.Equal(t, "c1", responses[1].Data["alice"].String())
	assert.Equal(t, "echo: raw", responses[2].Message)
	assert.Equal(t, tcp.MsgNoDataForSave, responses[3].Message)
	// a bare word is sent as a request type
	assert.Equal(t, tcp.MsgInvalidType, responses[4].Message)
}

func TestSaveData(t *testing.T) {
	data, err := saveData([]string{"alice", "n=2", "flag=true", "name=Alice Smith", "tags=[1,2]"}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":   "alice",
		"n":    float64(2),
		"flag": true,
		"name": "Alice Smith",
		"tags": []any{float64(1), float64(2)},
	}, data)

	data, err = saveData(nil, `{"id":"bob","contentId":"c2"}`)
	require.NoError(t, err)
	assert.Equal(t, "bob", data["id"])

	_, err = saveData([]string{"x"}, `{"id":"y"}`)
	assert.Error(t, err)
	_, err = saveData(nil, "")
	assert.Error(t, err)
	_, err = saveData([]string{"x", "novalue"}, "")
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("s3cret\n"))
	root.SetArgs([]string{"hash-password"})
	require.NoError(t, root.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	auth, err := admin.NewAuth(hash, strings.Repeat("k", 32), 0)
	require.NoError(t, err)
	_, _, err = auth.IssueToken("s3cret")
	assert.NoError(t, err)
}

func TestPrintResponseHuman(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	resp := protocol.OK("search successful").WithData(map[string]protocol.Value{"id": protocol.String("alice")})
	require.NoError(t, printResponse(&out, resp, false))
	assert.Equal(t, "ok: search successful\n{\n  \"id\": \"alice\"\n}\n", out.String())

	out.Reset()
	require.NoError(t, printResponse(&out, protocol.Fail("invalid type"), false))
	assert.Equal(t, "failed: invalid type\n", out.String())
}

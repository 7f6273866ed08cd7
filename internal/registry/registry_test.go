package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *LoginRegistry {
	// debug level so the dump path runs too
	return New(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := newTestRegistry()

	_, replaced := r.Register("alice", "c1", "s1")
	assert.False(t, replaced)
	r.Register("bob", "c2", "s2")

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.Contains("alice"))
	assert.Equal(t, map[string]string{"alice": "c1", "bob": "c2"}, r.Snapshot())

	entry, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, Entry{ContentID: "c2", SessionID: "s2"}, entry)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c1", "s1")

	snap := r.Snapshot()
	r.Register("bob", "c2", "s2")
	snap["mallory"] = "x"

	assert.Len(t, snap, 2)
	assert.False(t, r.Contains("mallory"))
}

func TestReloginOverwrites(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c1", "s1")

	prev, replaced := r.Register("alice", "c9", "s2")
	assert.True(t, replaced)
	assert.Equal(t, "s1", prev.SessionID)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "c9", r.Snapshot()["alice"])
}

func TestRemoveOwned(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c1", "s1")
	r.Register("alice", "c1", "s2")

	// s1 lost ownership to s2, so its cleanup is a no-op
	assert.False(t, r.RemoveOwned("alice", "s1"))
	assert.True(t, r.Contains("alice"))

	assert.True(t, r.RemoveOwned("alice", "s2"))
	assert.False(t, r.Contains("alice"))

	// second removal does nothing
	assert.False(t, r.RemoveOwned("alice", "s2"))
	assert.False(t, r.RemoveOwned("nobody", "s2"))
	assert.Equal(t, 0, r.Len())
}

func TestRemoveAndClear(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c1", "s1")
	r.Register("bob", "c2", "s2")

	assert.True(t, r.Remove("alice"))
	assert.False(t, r.Remove("alice"))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestConcurrentWriters(t *testing.T) {
	r := New(nil)
	const writers = 64

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", i)
			r.Register(id, "content-"+id, fmt.Sprintf("s%d", i))
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Len(t, snap, writers)
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("client-%d", i)
		assert.Equal(t, "content-"+id, snap[id])
	}

	// concurrent owners removing their own entries
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.True(t, r.RemoveOwned(fmt.Sprintf("client-%d", i), fmt.Sprintf("s%d", i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

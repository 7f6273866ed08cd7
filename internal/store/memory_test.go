package store

import (
	"context"
	"testing"

	"runserver/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LookupContentID(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")
	m.Seed("clients",
		Record{"id": protocol.String("alice"), "contentId": protocol.String("c1")},
		Record{"id": protocol.String("ghost")},
	)

	contentID, found, err := m.LookupContentID(ctx, "alice", "clients")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "c1", contentID)

	_, found, err = m.LookupContentID(ctx, "ghost", "clients")
	require.NoError(t, err)
	assert.False(t, found, "row without content id")

	_, found, err = m.LookupContentID(ctx, "nobody", "clients")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.LookupContentID(ctx, "alice", "other")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_GetRecordByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")
	m.Seed("clients", Record{"id": protocol.String("alice"), "level": protocol.Number(3)})

	rec, err := m.GetRecordByID(ctx, "clients", "alice")
	require.NoError(t, err)
	assert.Equal(t, "3", rec["level"].String())

	// the returned record is a copy
	rec["level"] = protocol.Number(99)
	again, _ := m.GetRecordByID(ctx, "clients", "alice")
	assert.Equal(t, "3", again["level"].String())

	missing, err := m.GetRecordByID(ctx, "clients", "bob")
	require.NoError(t, err)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestMemoryStore_Upsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")

	ok, err := m.UpsertRecord(ctx, "clients", Record{"id": protocol.String("bob"), "name": protocol.String("Bob")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.UpsertRecord(ctx, "clients", Record{"id": protocol.String("bob"), "contentId": protocol.String("c2")})
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := m.GetRecordByID(ctx, "clients", "bob")
	assert.Equal(t, "Bob", rec["name"].String(), "update keeps untouched columns")
	assert.Equal(t, "c2", rec["contentId"].String())

	all, err := m.ListAllRecords(ctx, "clients")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_UpsertRejects(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")

	_, err := m.UpsertRecord(ctx, "clients", Record{"name": protocol.String("x")})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = m.UpsertRecord(ctx, "clients", Record{"id": protocol.String("x"), "bad name": protocol.String("y")})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = m.UpsertRecord(ctx, "clients; drop", Record{"id": protocol.String("x")})
	assert.ErrorIs(t, err, ErrInvalidName)

	all, _ := m.ListAllRecords(ctx, "clients")
	assert.Empty(t, all)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryStore("")
	_, _, err := m.LookupContentID(ctx, "alice", "clients")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.UpsertRecord(ctx, "clients", Record{"id": protocol.String("a")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"id", "contentId", "_x1", "clients"} {
		assert.NoError(t, ValidateIdentifier(ok), ok)
	}
	for _, bad := range []string{"", "1abc", "a-b", `a"b`, "a b", "x;y"} {
		assert.ErrorIs(t, ValidateIdentifier(bad), ErrInvalidName, bad)
	}
}

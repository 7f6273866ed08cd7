package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", DefaultPoolOptions(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid database url")
}

func TestConnectAndEnsureTable(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Connect(ctx, dsn, DefaultPoolOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer Close(db)

	table := fmt.Sprintf("ensure_test_%d", time.Now().UnixNano()%100000)
	defer db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))

	require.NoError(t, EnsureTable(ctx, db, table, ""))
	// idempotent
	require.NoError(t, EnsureTable(ctx, db, table, ""))

	require.NoError(t, db.Exec(fmt.Sprintf(`INSERT INTO %q (id, "contentId") VALUES ('a', 'c1')`, table)).Error)
	var count int64
	require.NoError(t, db.Table(table).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnsureTableValidatesNames(t *testing.T) {
	// validation happens before the handle is touched
	assert.Error(t, EnsureTable(context.Background(), nil, "bad table", ""))
	assert.Error(t, EnsureTable(context.Background(), nil, "clients", "content;id"))
}

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps tables in process memory. Used for tests and for running
// the server without a database (DB_DRIVER=memory).
type MemoryStore struct {
	mu            sync.RWMutex
	tables        map[string]map[string]Record // table -> id -> record
	contentColumn string
}

func NewMemoryStore(contentColumn string) *MemoryStore {
	if contentColumn == "" {
		contentColumn = DefaultContentColumn
	}
	return &MemoryStore{
		tables:        make(map[string]map[string]Record),
		contentColumn: contentColumn,
	}
}

func (m *MemoryStore) LookupContentID(ctx context.Context, clientID, table string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tables[table][clientID]
	if !ok {
		return "", false, nil
	}
	for k, v := range rec {
		if strings.EqualFold(k, m.contentColumn) && !v.IsNull() {
			return v.String(), true, nil
		}
	}
	// row exists but has no content identity
	return "", false, nil
}

func (m *MemoryStore) GetRecordByID(ctx context.Context, table, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tables[table][id]
	if !ok {
		return Record{}, nil
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) UpsertRecord(ctx context.Context, table string, data Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, ok := data.ID()
	if !ok {
		return false, ErrMissingID
	}
	if err := ValidateIdentifier(table); err != nil {
		return false, err
	}
	for col := range data {
		if err := ValidateIdentifier(col); err != nil {
			return false, fmt.Errorf("upsert %s: %w", table, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]Record)
		m.tables[table] = rows
	}
	if existing, ok := rows[id]; ok {
		// update only touches the given columns
		for k, v := range data {
			existing[k] = v
		}
		return true, nil
	}
	rows[id] = copyRecord(data)
	return true, nil
}

func (m *MemoryStore) ListAllRecords(ctx context.Context, table string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.tables[table]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(rows[id]))
	}
	return out, nil
}

// Seed inserts records directly, bypassing validation
func (m *MemoryStore) Seed(table string, records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]Record)
		m.tables[table] = rows
	}
	for _, rec := range records {
		if id, ok := rec.ID(); ok {
			rows[id] = copyRecord(rec)
		}
	}
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

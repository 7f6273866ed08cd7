package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"runserver/internal/protocol"
)

// DefaultContentColumn holds the content identity looked up at login
const DefaultContentColumn = "contentId"

var (
	ErrMissingID     = errors.New("record has no id")
	ErrInvalidName   = errors.New("invalid table or column name")
	identifierRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Record is one row, keyed by its "id" field
type Record map[string]protocol.Value

// ID returns the record's id as text
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v.IsNull() {
		return "", false
	}
	return v.String(), true
}

// Client is the record store the request handlers talk to.
// Implementations must be safe for concurrent use.
type Client interface {
	// LookupContentID returns the content identity stored for clientID.
	// found is false when no row exists.
	LookupContentID(ctx context.Context, clientID, table string) (contentID string, found bool, err error)
	// GetRecordByID returns an empty record (not an error) when id is absent
	GetRecordByID(ctx context.Context, table, id string) (Record, error)
	// UpsertRecord inserts data, or updates the existing row with data["id"]
	UpsertRecord(ctx context.Context, table string, data Record) (bool, error)
	ListAllRecords(ctx context.Context, table string) ([]Record, error)
}

// ValidateIdentifier guards table and column names that end up in SQL
func ValidateIdentifier(name string) error {
	if !identifierRegexp.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func recordFromRow(row map[string]any) Record {
	return Record(protocol.FromMap(row))
}

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"runserver/internal/protocol"

	"gorm.io/gorm"
)

// GormStore is the SQL-backed record store. Tables are addressed by name,
// rows are read into maps so the schema is not fixed at compile time.
type GormStore struct {
	db            *gorm.DB
	contentColumn string
	logger        *slog.Logger
}

func NewGormStore(db *gorm.DB, contentColumn string, logger *slog.Logger) *GormStore {
	if contentColumn == "" {
		contentColumn = DefaultContentColumn
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{db: db, contentColumn: contentColumn, logger: logger}
}

func (s *GormStore) LookupContentID(ctx context.Context, clientID, table string) (string, bool, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", false, err
	}

	row := map[string]any{}
	err := s.db.WithContext(ctx).Table(table).Where("id = ?", clientID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Debug("content_id_not_found", "table", table, "client_id", clientID)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up content id: %w", err)
	}

	// postgres folds unquoted names, so match the column case-insensitively
	for col, v := range row {
		if strings.EqualFold(col, s.contentColumn) {
			if v == nil {
				return "", false, nil
			}
			return protocol.FromInterface(v).String(), true, nil
		}
	}
	return "", false, nil
}

func (s *GormStore) GetRecordByID(ctx context.Context, table, id string) (Record, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	row := map[string]any{}
	err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return recordFromRow(row), nil
}

// UpsertRecord = insert when no row has data["id"], update otherwise
func (s *GormStore) UpsertRecord(ctx context.Context, table string, data Record) (bool, error) {
	id, ok := data.ID()
	if !ok {
		return false, ErrMissingID
	}
	if err := ValidateIdentifier(table); err != nil {
		return false, err
	}
	values, err := columnValues(data)
	if err != nil {
		return false, err
	}

	var affected int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Table(table).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing record: %w", err)
		}

		if count == 0 {
			res := tx.Table(table).Create(values)
			if res.Error != nil {
				return fmt.Errorf("failed to insert record: %w", res.Error)
			}
			affected = res.RowsAffected
			return nil
		}

		res := tx.Table(table).Where("id = ?", id).Updates(values)
		if res.Error != nil {
			return fmt.Errorf("failed to update record: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Debug("record_upserted", "table", table, "id", id, "rows", affected)
	return affected > 0, nil
}

func (s *GormStore) ListAllRecords(ctx context.Context, table string) ([]Record, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := s.db.WithContext(ctx).Table(table).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, recordFromRow(row))
	}
	return out, nil
}

// columnValues maps a record onto driver values. Nested objects and arrays
// are stored as JSON text.
func columnValues(data Record) (map[string]any, error) {
	values := make(map[string]any, len(data))
	for col, v := range data {
		if err := ValidateIdentifier(col); err != nil {
			return nil, err
		}
		switch v.Kind() {
		case protocol.KindObject, protocol.KindArray:
			values[col] = v.String()
		default:
			values[col] = v.Interface()
		}
	}
	return values, nil
}

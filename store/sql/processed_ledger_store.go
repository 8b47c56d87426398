package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-dynsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProcessedLedgerStore keeps fingerprints of records handled in prior runs.
// (stream, fingerprint) is unique; a duplicate append is treated as already
// recorded.
type ProcessedLedgerStore struct {
	db    *bun.DB
	repo  repository.Repository[*processedRecord]
	runID string
}

func NewProcessedLedgerStore(db *bun.DB, runID string) (*ProcessedLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*processedRecord](db, processedRecordHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid processed record repository wiring: %w", err)
		}
	}
	return &ProcessedLedgerStore{
		db:    db,
		repo:  repo,
		runID: strings.TrimSpace(runID),
	}, nil
}

func (s *ProcessedLedgerStore) Seen(ctx context.Context, stream string, hash string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: processed ledger store is not configured")
	}
	stream = strings.TrimSpace(stream)
	hash = strings.TrimSpace(hash)
	if stream == "" || hash == "" {
		return false, fmt.Errorf("sqlstore: stream and fingerprint are required")
	}

	exists, err := s.db.NewSelect().
		Model((*processedRecord)(nil)).
		Where("?TableAlias.stream = ?", stream).
		Where("?TableAlias.fingerprint = ?", hash).
		Exists(ctx)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return exists, nil
}

func (s *ProcessedLedgerStore) Append(ctx context.Context, stream string, hash string, state core.SyncState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: processed ledger store is not configured")
	}
	stream = strings.TrimSpace(stream)
	hash = strings.TrimSpace(hash)
	if stream == "" || hash == "" {
		return fmt.Errorf("sqlstore: stream and fingerprint are required")
	}

	encoded, err := stateToMap(state)
	if err != nil {
		return err
	}
	record := &processedRecord{
		ID:          uuid.NewString(),
		RunID:       s.runID,
		Stream:      stream,
		Fingerprint: hash,
		State:       encoded,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func stateToMap(state core.SyncState) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode sync state: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("sqlstore: encode sync state: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dynsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	runStatusRunning   = "running"
	runStatusSucceeded = "succeeded"
	runStatusFailed    = "failed"
)

// SyncRun is the durable record of one synchronization run.
type SyncRun struct {
	ID         string
	Status     string
	Error      string
	Summary    core.Summary
	AuthState  map[string]any
	StartedAt  time.Time
	FinishedAt *time.Time
}

type SyncRunStore struct {
	db   *bun.DB
	repo repository.Repository[*syncRunRecord]
	now  func() time.Time
}

func NewSyncRunStore(db *bun.DB) (*SyncRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncRunRecord](db, syncRunHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync run repository wiring: %w", err)
		}
	}
	return &SyncRunStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Begin opens a run row and returns its id.
func (s *SyncRunStore) Begin(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: sync run store is not configured")
	}
	now := s.now()
	record := &syncRunRecord{
		ID:        uuid.NewString(),
		Status:    runStatusRunning,
		Summary:   map[string]any{},
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Finish closes a run row with its final state. A non-nil runErr marks the
// run failed; the accumulated state is persisted either way.
func (s *SyncRunStore) Finish(ctx context.Context, id string, state *core.RunState, runErr error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync run store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: run id is required")
	}

	now := s.now()
	record := &syncRunRecord{
		ID:         id,
		Status:     runStatusSucceeded,
		Summary:    map[string]any{},
		FinishedAt: &now,
		UpdatedAt:  now,
	}
	if runErr != nil {
		record.Status = runStatusFailed
		record.Error = runErr.Error()
	}
	if state != nil {
		summary, err := summaryToMap(state.Summary)
		if err != nil {
			return err
		}
		record.Summary = summary
		record.AuthState = copyAnyMap(state.AuthState)
	}

	_, err := s.db.NewUpdate().
		Model(record).
		Column("status", "error", "summary", "auth_state", "finished_at", "updated_at").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Get loads a run row.
func (s *SyncRunStore) Get(ctx context.Context, id string) (SyncRun, error) {
	if s == nil || s.db == nil {
		return SyncRun{}, fmt.Errorf("sqlstore: sync run store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SyncRun{}, fmt.Errorf("sqlstore: run id is required")
	}

	record := &syncRunRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return SyncRun{}, fmt.Errorf("sqlstore: sync run %s not found", id)
		}
		return SyncRun{}, err
	}

	summary, err := summaryFromMap(record.Summary)
	if err != nil {
		return SyncRun{}, err
	}
	return SyncRun{
		ID:         record.ID,
		Status:     record.Status,
		Error:      record.Error,
		Summary:    summary,
		AuthState:  copyAnyMap(record.AuthState),
		StartedAt:  record.StartedAt,
		FinishedAt: record.FinishedAt,
	}, nil
}

func summaryToMap(summary core.Summary) (map[string]any, error) {
	if len(summary) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode run summary: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("sqlstore: encode run summary: %w", err)
	}
	return out, nil
}

func summaryFromMap(value map[string]any) (core.Summary, error) {
	summary := core.Summary{}
	if len(value) == 0 {
		return summary, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode run summary: %w", err)
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("sqlstore: decode run summary: %w", err)
	}
	return summary, nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type syncRunRecord struct {
	bun.BaseModel `bun:"table:sync_runs,alias:sr"`

	ID         string         `bun:"id,pk"`
	Status     string         `bun:"status,notnull"`
	Summary    map[string]any `bun:"summary,type:jsonb,notnull"`
	AuthState  map[string]any `bun:"auth_state,type:jsonb"`
	Error      string         `bun:"error"`
	StartedAt  time.Time      `bun:"started_at,nullzero,notnull"`
	FinishedAt *time.Time     `bun:"finished_at,nullzero"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type processedRecord struct {
	bun.BaseModel `bun:"table:processed_records,alias:pr"`

	ID          string         `bun:"id,pk"`
	RunID       string         `bun:"run_id"`
	Stream      string         `bun:"stream,notnull"`
	Fingerprint string         `bun:"fingerprint,notnull"`
	State       map[string]any `bun:"state,type:jsonb,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

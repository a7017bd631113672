package repository

import (
	"context"

	"judgehub/internal/judge/model"
)

// RecordStore persists judge records.
// Update applies all sets, appends and unsets of one RecordUpdate atomically.
// A missing record is reported as appErr.RecordNotFound; records are never created implicitly.
type RecordStore interface {
	Get(ctx context.Context, domainID, recordID string) (*model.Record, error)
	Update(ctx context.Context, domainID, recordID string, update model.RecordUpdate) (*model.Record, error)
	// Reset returns the record to a queued, re-judgeable state.
	Reset(ctx context.Context, domainID, recordID string, rejudge bool) error
	// Insert seeds a new record. Existing records are rejected.
	Insert(ctx context.Context, record *model.Record) error
}

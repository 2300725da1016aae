// Package repository declares storage contracts for file records.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/a-morozov/filevault/internal/model"
)

// FileRepository owns the canonical collection of file records. It is the
// single writer; services read-through and write-through it. Implementations
// must make each method atomic with respect to other operations on the same
// record id. Both the in-memory and the PostgreSQL implementation satisfy
// the same contract.
type FileRepository interface {
	// Create inserts a new record with its first version. The record keeps
	// whatever status the caller set (normally processing).
	Create(ctx context.Context, rec *model.FileRecord) error

	// Get returns a record by id, including soft-deleted ones; callers decide
	// how deletion affects their operation. Fails with errs.ErrNotFound for
	// unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*model.FileRecord, error)

	// ListVisible returns non-deleted records owned by or shared with the user.
	// Each call re-reads the collection; order is unspecified.
	ListVisible(ctx context.Context, userID uuid.UUID) ([]model.FileRecord, error)

	// ListAll returns all non-deleted records.
	ListAll(ctx context.Context) ([]model.FileRecord, error)

	// StorePayload saves the envelope for the latest version and moves the
	// record to the given status, bumping UpdatedAt.
	StorePayload(ctx context.Context, id uuid.UUID, env *model.Envelope, status model.FileStatus) error

	// SetStatus updates only the status, bumping UpdatedAt.
	SetStatus(ctx context.Context, id uuid.UUID, status model.FileStatus) error

	// Envelope returns the stored payload for the latest version. Fails with
	// errs.ErrNotFound if the record is unknown, deleted, or has no payload.
	Envelope(ctx context.Context, id uuid.UUID) (*model.Envelope, error)

	// AppendVersion atomically appends a snapshot with the given size together
	// with its envelope, updates Size, moves the record to encrypted and bumps
	// UpdatedAt. Fails with errs.ErrNotFound on unknown or deleted records.
	AppendVersion(ctx context.Context, id uuid.UUID, size int64, env *model.Envelope) (model.FileVersion, error)

	// UpdateMetadata merges the provided patch fields and bumps UpdatedAt.
	UpdateMetadata(ctx context.Context, id uuid.UUID, patch model.MetadataPatch) (*model.FileRecord, error)

	// AddShare grants read access. Fails with errs.ErrConflict when the target
	// already has a grant or is the owner.
	AddShare(ctx context.Context, id uuid.UUID, targetUserID uuid.UUID) error

	// SoftDelete marks the record deleted. Repeating it is a no-op success.
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// Purge hard-deletes a record and its versions. Fails with
	// errs.ErrConflict unless the record was soft-deleted first.
	Purge(ctx context.Context, id uuid.UUID) error
}

// Package memory contains an in-memory implementation of the repository
// contracts, used for tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/a-morozov/filevault/internal/errs"
	"github.com/a-morozov/filevault/internal/model"
)

// FileRepo keeps records in a map guarded by a repo-level RWMutex plus a
// per-record mutex. Operations on one record appear atomic to each other;
// operations on distinct records interleave freely.
type FileRepo struct {
	mu    sync.RWMutex
	files map[uuid.UUID]*entry
}

type entry struct {
	mu  sync.Mutex
	rec model.FileRecord
	env *model.Envelope
}

// NewFileRepo constructs an empty in-memory repository.
func NewFileRepo() *FileRepo {
	return &FileRepo{files: make(map[uuid.UUID]*entry)}
}

// Create inserts a new record.
func (r *FileRepo) Create(_ context.Context, rec *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[rec.ID]; ok {
		return errs.ErrConflict
	}
	r.files[rec.ID] = &entry{rec: cloneRecord(rec)}
	return nil
}

// Get returns a copy of the record, including soft-deleted ones.
func (r *FileRepo) Get(_ context.Context, id uuid.UUID) (*model.FileRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cloneRecord(&e.rec)
	return &out, nil
}

// ListVisible returns non-deleted records owned by or shared with the user.
func (r *FileRepo) ListVisible(_ context.Context, userID uuid.UUID) ([]model.FileRecord, error) {
	return r.list(func(rec *model.FileRecord) bool {
		return rec.OwnerID == userID || rec.IsSharedWith(userID)
	}), nil
}

// ListAll returns all non-deleted records.
func (r *FileRepo) ListAll(_ context.Context) ([]model.FileRecord, error) {
	return r.list(func(*model.FileRecord) bool { return true }), nil
}

// StorePayload saves the envelope and moves the record to the given status.
func (r *FileRepo) StorePayload(_ context.Context, id uuid.UUID, env *model.Envelope, status model.FileStatus) error {
	return r.mutate(id, func(e *entry) error {
		e.env = cloneEnvelope(env)
		e.rec.Status = status
		return nil
	})
}

// SetStatus updates only the status.
func (r *FileRepo) SetStatus(_ context.Context, id uuid.UUID, status model.FileStatus) error {
	return r.mutate(id, func(e *entry) error {
		e.rec.Status = status
		return nil
	})
}

// Envelope returns the stored payload for the latest version.
func (r *FileRepo) Envelope(_ context.Context, id uuid.UUID) (*model.Envelope, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.IsDeleted || e.env == nil {
		return nil, errs.ErrNotFound
	}
	return cloneEnvelope(e.env), nil
}

// AppendVersion appends a snapshot and replaces the payload atomically.
func (r *FileRepo) AppendVersion(_ context.Context, id uuid.UUID, size int64, env *model.Envelope) (model.FileVersion, error) {
	var ver model.FileVersion
	err := r.mutateLive(id, func(e *entry) error {
		vid, err := uuid.NewV4()
		if err != nil {
			return err
		}
		ver = model.FileVersion{ID: vid, CreatedAt: time.Now(), Size: size}
		e.rec.Versions = append(e.rec.Versions, ver)
		e.rec.Size = size
		e.rec.Status = model.StatusEncrypted
		e.env = cloneEnvelope(env)
		return nil
	})
	return ver, err
}

// UpdateMetadata merges provided patch fields and returns the updated record.
func (r *FileRepo) UpdateMetadata(_ context.Context, id uuid.UUID, patch model.MetadataPatch) (*model.FileRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.IsDeleted {
		return nil, errs.ErrNotFound
	}
	if patch.Name != nil {
		e.rec.Name = *patch.Name
	}
	if patch.Tags != nil {
		e.rec.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.IsStarred != nil {
		e.rec.IsStarred = *patch.IsStarred
	}
	e.rec.UpdatedAt = time.Now()
	out := cloneRecord(&e.rec)
	return &out, nil
}

// AddShare grants read access with duplicate and self-share protection under
// the record lock, so two concurrent calls cannot both pass the check.
func (r *FileRepo) AddShare(_ context.Context, id uuid.UUID, targetUserID uuid.UUID) error {
	return r.mutateLive(id, func(e *entry) error {
		if targetUserID == e.rec.OwnerID || e.rec.IsSharedWith(targetUserID) {
			return errs.ErrConflict
		}
		e.rec.SharedWith = append(e.rec.SharedWith, targetUserID)
		return nil
	})
}

// SoftDelete marks the record deleted; repeating it is a no-op success.
func (r *FileRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.IsDeleted {
		return nil
	}
	e.rec.IsDeleted = true
	e.rec.UpdatedAt = time.Now()
	return nil
}

// Purge hard-deletes a soft-deleted record.
func (r *FileRepo) Purge(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.files[id]
	if !ok {
		return errs.ErrNotFound
	}
	e.mu.Lock()
	deleted := e.rec.IsDeleted
	e.mu.Unlock()
	if !deleted {
		return errs.ErrConflict
	}
	delete(r.files, id)
	return nil
}

func (r *FileRepo) entry(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.files[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return e, nil
}

// mutate applies fn under the record lock and bumps UpdatedAt on success.
func (r *FileRepo) mutate(id uuid.UUID, fn func(*entry) error) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e); err != nil {
		return err
	}
	e.rec.UpdatedAt = time.Now()
	return nil
}

// mutateLive is mutate restricted to non-deleted records.
func (r *FileRepo) mutateLive(id uuid.UUID, fn func(*entry) error) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.IsDeleted {
		return errs.ErrNotFound
	}
	if err := fn(e); err != nil {
		return err
	}
	e.rec.UpdatedAt = time.Now()
	return nil
}

func (r *FileRepo) list(match func(*model.FileRecord) bool) []model.FileRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.files))
	for _, e := range r.files {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.FileRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.rec.IsDeleted && match(&e.rec) {
			out = append(out, cloneRecord(&e.rec))
		}
		e.mu.Unlock()
	}
	return out
}

func cloneRecord(rec *model.FileRecord) model.FileRecord {
	out := *rec
	out.Versions = append([]model.FileVersion(nil), rec.Versions...)
	out.SharedWith = append([]uuid.UUID(nil), rec.SharedWith...)
	out.Tags = append([]string(nil), rec.Tags...)
	return out
}

func cloneEnvelope(env *model.Envelope) *model.Envelope {
	if env == nil {
		return nil
	}
	return &model.Envelope{
		Salt:       append([]byte(nil), env.Salt...),
		Nonce:      append([]byte(nil), env.Nonce...),
		KeyCheck:   append([]byte(nil), env.KeyCheck...),
		Ciphertext: append([]byte(nil), env.Ciphertext...),
	}
}

// Package service contains the file lifecycle application service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/a-morozov/filevault/internal/authz"
	"github.com/a-morozov/filevault/internal/crypto"
	"github.com/a-morozov/filevault/internal/errs"
	"github.com/a-morozov/filevault/internal/limiter"
	"github.com/a-morozov/filevault/internal/metrics"
	"github.com/a-morozov/filevault/internal/model"
	"github.com/a-morozov/filevault/internal/password"
	"github.com/a-morozov/filevault/internal/repository"
)

// FileService orchestrates upload, download, sharing and deletion of
// encrypted file records, enforcing the authorization matrix and password
// policy on every operation.
type FileService interface {
	// Upload creates a record, encrypts the payload and stores the envelope.
	Upload(ctx context.Context, actor model.Actor, name, mimeType string, data []byte, pw string) (*model.FileRecord, error)
	// Download authorizes the actor and returns the decrypted payload.
	// Decryption is transient; nothing decrypted is ever written back.
	Download(ctx context.Context, actor model.Actor, fileID uuid.UUID, pw string) ([]byte, error)
	// ListVisible returns records owned by or shared with the actor.
	ListVisible(ctx context.Context, actor model.Actor) ([]model.FileRecord, error)
	// ListAll returns every live record; admin only.
	ListAll(ctx context.Context, actor model.Actor) ([]model.FileRecord, error)
	// Share grants read access to another user; owner only.
	Share(ctx context.Context, actor model.Actor, fileID, targetUserID uuid.UUID) error
	// UpdateMetadata merges the provided fields; owner or admin.
	UpdateMetadata(ctx context.Context, actor model.Actor, fileID uuid.UUID, patch model.MetadataPatch) (*model.FileRecord, error)
	// UpdateContent encrypts new content and appends a version; owner or admin.
	UpdateContent(ctx context.Context, actor model.Actor, fileID uuid.UUID, data []byte, pw string) (model.FileVersion, error)
	// Delete soft-deletes the record; owner or admin, idempotent for them.
	Delete(ctx context.Context, actor model.Actor, fileID uuid.UUID) error
	// RetryEncryption re-encrypts a record stuck in the error state.
	RetryEncryption(ctx context.Context, actor model.Actor, fileID uuid.UUID, data []byte, pw string) (*model.FileRecord, error)
	// Purge hard-deletes a soft-deleted record; admin only.
	Purge(ctx context.Context, actor model.Actor, fileID uuid.UUID) error
}

type FileServiceImpl struct {
	repo    repository.FileRepository
	gateway crypto.Gateway
	lim     limiter.Limiter
	log     *zap.Logger
}

// NewFileService constructs FileService with required dependencies.
func NewFileService(repo repository.FileRepository, gw crypto.Gateway, lim limiter.Limiter, log *zap.Logger) *FileServiceImpl {
	return &FileServiceImpl{
		repo:    repo,
		gateway: gw,
		lim:     lim,
		log:     log.With(zap.String("service", "files")),
	}
}

// Upload validates the password policy, creates the record in processing
// state and runs the gateway. On encryption failure the record stays present
// in the error state so the caller can retry or delete it.
func (s *FileServiceImpl) Upload(ctx context.Context, actor model.Actor, name, mimeType string, data []byte, pw string) (rec *model.FileRecord, err error) {
	defer func() { metrics.Operation("upload", err) }()

	if actor.ID == uuid.Nil {
		return nil, fmt.Errorf("empty actor id: %w", errs.ErrInvalidArgument)
	}
	if name == "" {
		return nil, fmt.Errorf("empty file name: %w", errs.ErrInvalidArgument)
	}
	if res := password.Validate(pw); !res.Valid {
		return nil, fmt.Errorf("%s: %w", res.Reason.Message(), errs.ErrPolicyViolation)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	verID, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rec = &model.FileRecord{
		ID:        id,
		Name:      name,
		MIMEType:  mimeType,
		Size:      int64(len(data)),
		OwnerID:   actor.ID,
		Status:    model.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		Versions:  []model.FileVersion{{ID: verID, CreatedAt: now, Size: int64(len(data))}},
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	// The gateway call and the follow-up status write must land even if the
	// caller abandons the request, or the record stays stuck in processing.
	bg := context.WithoutCancel(ctx)
	env, gwErr := s.encrypt(bg, data, pw)
	if gwErr != nil {
		if serr := s.repo.SetStatus(bg, id, model.StatusError); serr != nil {
			s.log.Error("set error status", zap.String("file", id.String()), zap.Error(serr))
		}
		s.log.Warn("encryption failed", zap.String("file", id.String()), zap.Error(gwErr))
		return nil, fmt.Errorf("file %s: %w", id, errs.ErrEncryptionFailed)
	}
	if err := s.repo.StorePayload(bg, id, env, model.StatusEncrypted); err != nil {
		return nil, err
	}
	rec.Status = model.StatusEncrypted
	s.log.Info("uploaded", zap.String("file", id.String()), zap.Int64("size", rec.Size))
	return rec, nil
}

// Download authorizes per the matrix, then decrypts the latest version. A
// wrong password never mutates status; structural corruption flags the
// record as error.
func (s *FileServiceImpl) Download(ctx context.Context, actor model.Actor, fileID uuid.UUID, pw string) (out []byte, err error) {
	defer func() { metrics.Operation("download", err) }()

	rec, err := s.liveRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(authz.OpDownload, actor, rec) {
		return nil, forbidden(authz.OpDownload, fileID)
	}
	if rec.Status != model.StatusEncrypted {
		return nil, fmt.Errorf("file %s is %s: %w", fileID, rec.Status, errs.ErrConflict)
	}

	allowed, retryAfter, err := s.lim.Allow(ctx, fileID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("retry after %s: %w", retryAfter, errs.ErrRateLimited)
	}

	env, err := s.repo.Envelope(ctx, fileID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	plaintext, err := s.gateway.Decrypt(ctx, env, pw)
	metrics.GatewayCall("decrypt", start)
	switch {
	case err == nil:
		_ = s.lim.Success(ctx, fileID, actor.ID)
		return plaintext, nil
	case errors.Is(err, crypto.ErrWrongPassword):
		if blocked, after, ferr := s.lim.Failure(ctx, fileID, actor.ID); ferr == nil && blocked {
			return nil, fmt.Errorf("retry after %s: %w", after, errs.ErrRateLimited)
		}
		return nil, fmt.Errorf("file %s: wrong password: %w", fileID, errs.ErrDecryptionFailed)
	case errors.Is(err, crypto.ErrCorruptPayload):
		if serr := s.repo.SetStatus(context.WithoutCancel(ctx), fileID, model.StatusError); serr != nil {
			s.log.Error("set error status", zap.String("file", fileID.String()), zap.Error(serr))
		}
		s.log.Warn("corrupt payload", zap.String("file", fileID.String()))
		return nil, fmt.Errorf("file %s: corrupt payload: %w", fileID, errs.ErrDecryptionFailed)
	default:
		return nil, err
	}
}

// ListVisible returns non-deleted records owned by or shared with the actor.
func (s *FileServiceImpl) ListVisible(ctx context.Context, actor model.Actor) ([]model.FileRecord, error) {
	if actor.ID == uuid.Nil {
		return nil, fmt.Errorf("empty actor id: %w", errs.ErrInvalidArgument)
	}
	return s.repo.ListVisible(ctx, actor.ID)
}

// ListAll returns every live record; admin only.
func (s *FileServiceImpl) ListAll(ctx context.Context, actor model.Actor) ([]model.FileRecord, error) {
	if !authz.CanPerform(authz.OpListAll, actor, nil) {
		return nil, forbidden(authz.OpListAll, uuid.Nil)
	}
	return s.repo.ListAll(ctx)
}

// Share grants read access; owner only. Duplicate grants and self-shares
// fail with Conflict, the duplicate check running under the record lock.
func (s *FileServiceImpl) Share(ctx context.Context, actor model.Actor, fileID, targetUserID uuid.UUID) (err error) {
	defer func() { metrics.Operation("share", err) }()

	if targetUserID == uuid.Nil {
		return fmt.Errorf("empty target user: %w", errs.ErrInvalidArgument)
	}
	rec, err := s.liveRecord(ctx, fileID)
	if err != nil {
		return err
	}
	if !authz.CanPerform(authz.OpShare, actor, rec) {
		return forbidden(authz.OpShare, fileID)
	}
	if err := s.repo.AddShare(ctx, fileID, targetUserID); err != nil {
		return fmt.Errorf("share file %s with %s: %w", fileID, targetUserID, err)
	}
	return nil
}

// UpdateMetadata merges only the provided fields and always bumps UpdatedAt.
func (s *FileServiceImpl) UpdateMetadata(ctx context.Context, actor model.Actor, fileID uuid.UUID, patch model.MetadataPatch) (out *model.FileRecord, err error) {
	defer func() { metrics.Operation("update_metadata", err) }()

	if patch.Name != nil && *patch.Name == "" {
		return nil, fmt.Errorf("empty file name: %w", errs.ErrInvalidArgument)
	}
	rec, err := s.liveRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(authz.OpUpdateMetadata, actor, rec) {
		return nil, forbidden(authz.OpUpdateMetadata, fileID)
	}
	return s.repo.UpdateMetadata(ctx, fileID, patch)
}

// UpdateContent encrypts new content under the given password and appends
// an immutable version snapshot.
func (s *FileServiceImpl) UpdateContent(ctx context.Context, actor model.Actor, fileID uuid.UUID, data []byte, pw string) (ver model.FileVersion, err error) {
	defer func() { metrics.Operation("update_content", err) }()

	if res := password.Validate(pw); !res.Valid {
		return model.FileVersion{}, fmt.Errorf("%s: %w", res.Reason.Message(), errs.ErrPolicyViolation)
	}
	rec, err := s.liveRecord(ctx, fileID)
	if err != nil {
		return model.FileVersion{}, err
	}
	if !authz.CanPerform(authz.OpUpdateContent, actor, rec) {
		return model.FileVersion{}, forbidden(authz.OpUpdateContent, fileID)
	}

	bg := context.WithoutCancel(ctx)
	env, gwErr := s.encrypt(bg, data, pw)
	if gwErr != nil {
		if serr := s.repo.SetStatus(bg, fileID, model.StatusError); serr != nil {
			s.log.Error("set error status", zap.String("file", fileID.String()), zap.Error(serr))
		}
		return model.FileVersion{}, fmt.Errorf("file %s: %w", fileID, errs.ErrEncryptionFailed)
	}
	return s.repo.AppendVersion(bg, fileID, int64(len(data)), env)
}

// Delete soft-deletes the record. Repeating it as owner or admin is a no-op
// success; anyone else gets NotFound once the record is gone from listings.
func (s *FileServiceImpl) Delete(ctx context.Context, actor model.Actor, fileID uuid.UUID) (err error) {
	defer func() { metrics.Operation("delete", err) }()

	rec, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.IsDeleted {
		if authz.CanPerform(authz.OpDelete, actor, rec) {
			return nil
		}
		return fmt.Errorf("file %s: %w", fileID, errs.ErrNotFound)
	}
	if !authz.CanPerform(authz.OpDelete, actor, rec) {
		return forbidden(authz.OpDelete, fileID)
	}
	if err := s.repo.SoftDelete(ctx, fileID); err != nil {
		return err
	}
	s.log.Info("deleted", zap.String("file", fileID.String()), zap.String("actor", actor.ID.String()))
	return nil
}

// RetryEncryption re-runs the gateway over caller-supplied bytes for a
// record in the error state. Plaintext is never retained server-side, so the
// caller resubmits it.
func (s *FileServiceImpl) RetryEncryption(ctx context.Context, actor model.Actor, fileID uuid.UUID, data []byte, pw string) (out *model.FileRecord, err error) {
	defer func() { metrics.Operation("retry_encryption", err) }()

	if res := password.Validate(pw); !res.Valid {
		return nil, fmt.Errorf("%s: %w", res.Reason.Message(), errs.ErrPolicyViolation)
	}
	rec, err := s.liveRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(authz.OpRetry, actor, rec) {
		return nil, forbidden(authz.OpRetry, fileID)
	}
	if rec.Status != model.StatusError {
		return nil, fmt.Errorf("file %s is %s, not %s: %w", fileID, rec.Status, model.StatusError, errs.ErrConflict)
	}

	bg := context.WithoutCancel(ctx)
	env, gwErr := s.encrypt(bg, data, pw)
	if gwErr != nil {
		return nil, fmt.Errorf("file %s: %w", fileID, errs.ErrEncryptionFailed)
	}
	if err := s.repo.StorePayload(bg, fileID, env, model.StatusEncrypted); err != nil {
		return nil, err
	}
	s.log.Info("re-encrypted", zap.String("file", fileID.String()))
	return s.repo.Get(ctx, fileID)
}

// Purge hard-deletes a soft-deleted record; admin only.
func (s *FileServiceImpl) Purge(ctx context.Context, actor model.Actor, fileID uuid.UUID) (err error) {
	defer func() { metrics.Operation("purge", err) }()

	rec, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if !authz.CanPerform(authz.OpPurge, actor, rec) {
		return forbidden(authz.OpPurge, fileID)
	}
	if err := s.repo.Purge(ctx, fileID); err != nil {
		return fmt.Errorf("purge file %s: %w", fileID, err)
	}
	s.log.Info("purged", zap.String("file", fileID.String()))
	return nil
}

// liveRecord fetches a record, hiding soft-deleted ones as NotFound.
func (s *FileServiceImpl) liveRecord(ctx context.Context, fileID uuid.UUID) (*model.FileRecord, error) {
	rec, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted {
		return nil, fmt.Errorf("file %s: %w", fileID, errs.ErrNotFound)
	}
	return rec, nil
}

func (s *FileServiceImpl) encrypt(ctx context.Context, data []byte, pw string) (*model.Envelope, error) {
	start := time.Now()
	env, err := s.gateway.Encrypt(ctx, data, pw)
	metrics.GatewayCall("encrypt", start)
	return env, err
}

// forbidden builds a Forbidden error carrying the operation and file id.
func forbidden(op authz.Operation, fileID uuid.UUID) error {
	if fileID == uuid.Nil {
		return fmt.Errorf("%s: %w", op, errs.ErrForbidden)
	}
	return fmt.Errorf("%s file %s: %w", op, fileID, errs.ErrForbidden)
}

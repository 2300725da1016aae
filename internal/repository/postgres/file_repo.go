package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/a-morozov/filevault/internal/errs"
	"github.com/a-morozov/filevault/internal/model"
)

// FileRepo implements FileRepository using PostgreSQL. Shares live in a
// separate table so a duplicate grant surfaces as a unique violation, and
// versions cascade on purge.
type FileRepo struct{ db *DB }

// NewFileRepo constructs a file repository.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

const recordColumns = `id, name, mime_type, size, owner_id, status, created_at, updated_at, is_starred, is_deleted, tags`

// Create inserts the record and its first version in one transaction.
func (r *FileRepo) Create(ctx context.Context, rec *model.FileRecord) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insFile = `
INSERT INTO files (id, name, mime_type, size, owner_id, status, created_at, updated_at, is_starred, is_deleted, tags)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	if _, err = tx.Exec(ctx, insFile,
		rec.ID, rec.Name, rec.MIMEType, rec.Size, rec.OwnerID, string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt, rec.IsStarred, rec.IsDeleted, tags,
	); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}

	const insVer = `INSERT INTO file_versions (id, file_id, created_at, size) VALUES ($1,$2,$3,$4)`
	for _, v := range rec.Versions {
		if _, err = tx.Exec(ctx, insVer, v.ID, rec.ID, v.CreatedAt, v.Size); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a record by id, including soft-deleted ones. The record row
// and its relations are read under one repeatable-read transaction so a
// concurrent version append cannot surface half-applied.
func (r *FileRepo) Get(ctx context.Context, id uuid.UUID) (rec *model.FileRecord, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const q = `SELECT ` + recordColumns + ` FROM files WHERE id=$1`
	rec, err = scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if err = loadRelations(ctx, tx, []*model.FileRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListVisible returns non-deleted records owned by or shared with the user.
func (r *FileRepo) ListVisible(ctx context.Context, userID uuid.UUID) ([]model.FileRecord, error) {
	const q = `
SELECT ` + recordColumns + `
FROM files f
WHERE NOT f.is_deleted
  AND (f.owner_id=$1 OR EXISTS (SELECT 1 FROM file_shares s WHERE s.file_id=f.id AND s.user_id=$1))`
	return r.queryRecords(ctx, q, userID)
}

// ListAll returns all non-deleted records.
func (r *FileRepo) ListAll(ctx context.Context) ([]model.FileRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM files WHERE NOT is_deleted`
	return r.queryRecords(ctx, q)
}

// StorePayload saves the envelope and moves the record to the given status.
func (r *FileRepo) StorePayload(ctx context.Context, id uuid.UUID, env *model.Envelope, status model.FileStatus) error {
	const q = `
UPDATE files
SET salt=$2, nonce=$3, key_check=$4, ciphertext=$5, status=$6, updated_at=now()
WHERE id=$1 AND NOT is_deleted`
	tag, err := r.db.Pool.Exec(ctx, q, id, env.Salt, env.Nonce, env.KeyCheck, env.Ciphertext, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetStatus updates only the status.
func (r *FileRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.FileStatus) error {
	const q = `UPDATE files SET status=$2, updated_at=now() WHERE id=$1 AND NOT is_deleted`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Envelope returns the stored payload for the latest version.
func (r *FileRepo) Envelope(ctx context.Context, id uuid.UUID) (*model.Envelope, error) {
	const q = `SELECT salt, nonce, key_check, ciphertext FROM files WHERE id=$1 AND NOT is_deleted`
	var env model.Envelope
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&env.Salt, &env.Nonce, &env.KeyCheck, &env.Ciphertext); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if env.Ciphertext == nil {
		return nil, errs.ErrNotFound
	}
	return &env, nil
}

// AppendVersion appends a snapshot and replaces the payload atomically.
func (r *FileRepo) AppendVersion(ctx context.Context, id uuid.UUID, size int64, env *model.Envelope) (ver model.FileVersion, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.FileVersion{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT is_deleted FROM files WHERE id=$1 FOR UPDATE`
	var deleted bool
	if err = tx.QueryRow(ctx, sel, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FileVersion{}, errs.ErrNotFound
		}
		return model.FileVersion{}, err
	}
	if deleted {
		return model.FileVersion{}, errs.ErrNotFound
	}

	verID, err := uuid.NewV4()
	if err != nil {
		return model.FileVersion{}, err
	}
	const insVer = `INSERT INTO file_versions (id, file_id, size) VALUES ($1,$2,$3) RETURNING created_at`
	ver = model.FileVersion{ID: verID, Size: size}
	if err = tx.QueryRow(ctx, insVer, verID, id, size).Scan(&ver.CreatedAt); err != nil {
		return model.FileVersion{}, err
	}

	const upd = `
UPDATE files
SET size=$2, salt=$3, nonce=$4, key_check=$5, ciphertext=$6, status=$7, updated_at=now()
WHERE id=$1`
	if _, err = tx.Exec(ctx, upd, id, size, env.Salt, env.Nonce, env.KeyCheck, env.Ciphertext, string(model.StatusEncrypted)); err != nil {
		return model.FileVersion{}, err
	}
	return ver, nil
}

// UpdateMetadata merges provided patch fields and returns the updated record.
func (r *FileRepo) UpdateMetadata(ctx context.Context, id uuid.UUID, patch model.MetadataPatch) (*model.FileRecord, error) {
	var tags []string
	if patch.Tags != nil {
		tags = *patch.Tags
		if tags == nil {
			tags = []string{}
		}
	}
	const q = `
UPDATE files
SET name=COALESCE($2, name),
    tags=COALESCE($3, tags),
    is_starred=COALESCE($4, is_starred),
    updated_at=now()
WHERE id=$1 AND NOT is_deleted`
	tag, err := r.db.Pool.Exec(ctx, q, id, patch.Name, tags, patch.IsStarred)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.ErrNotFound
	}
	return r.Get(ctx, id)
}

// AddShare grants read access; duplicate grants and self-shares fail with
// Conflict. The owner check runs under FOR UPDATE, the duplicate check rides
// on the primary key.
func (r *FileRepo) AddShare(ctx context.Context, id uuid.UUID, targetUserID uuid.UUID) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT owner_id, is_deleted FROM files WHERE id=$1 FOR UPDATE`
	var ownerID uuid.UUID
	var deleted bool
	if err = tx.QueryRow(ctx, sel, id).Scan(&ownerID, &deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	if deleted {
		return errs.ErrNotFound
	}
	if ownerID == targetUserID {
		return errs.ErrConflict
	}

	const ins = `INSERT INTO file_shares (file_id, user_id) VALUES ($1,$2)`
	if _, err = tx.Exec(ctx, ins, id, targetUserID); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}

	const upd = `UPDATE files SET updated_at=now() WHERE id=$1`
	_, err = tx.Exec(ctx, upd, id)
	return err
}

// SoftDelete marks the record deleted; repeating it is a no-op success.
func (r *FileRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE files SET is_deleted=true, updated_at=now() WHERE id=$1 AND NOT is_deleted`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	const exists = `SELECT 1 FROM files WHERE id=$1`
	var one int
	if err := r.db.Pool.QueryRow(ctx, exists, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return nil
}

// Purge hard-deletes a soft-deleted record; versions and shares cascade.
func (r *FileRepo) Purge(ctx context.Context, id uuid.UUID) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT is_deleted FROM files WHERE id=$1 FOR UPDATE`
	var deleted bool
	if err = tx.QueryRow(ctx, sel, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	if !deleted {
		return errs.ErrConflict
	}

	_, err = tx.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	return err
}

// queryRecords runs a listing query and fills relations under one
// repeatable-read transaction, so every returned record is a consistent
// snapshot even while writers commit.
func (r *FileRepo) queryRecords(ctx context.Context, q string, args ...any) (out []model.FileRecord, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*model.FileRecord
	for rows.Next() {
		rec, serr := scanRecord(rows)
		if serr != nil {
			return nil, serr
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if err = loadRelations(ctx, tx, recs); err != nil {
		return nil, err
	}
	out = make([]model.FileRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	return out, nil
}

// querier is the read subset shared by PgxPool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadRelations fills versions and share grants for the given records.
func loadRelations(ctx context.Context, q querier, recs []*model.FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*model.FileRecord, len(recs))
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
		ids = append(ids, rec.ID.String())
	}

	const qv = `
SELECT file_id, id, created_at, size
FROM file_versions
WHERE file_id = ANY($1::uuid[])
ORDER BY created_at ASC, id ASC`
	rows, err := q.Query(ctx, qv, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fileID uuid.UUID
		var v model.FileVersion
		if err := rows.Scan(&fileID, &v.ID, &v.CreatedAt, &v.Size); err != nil {
			return err
		}
		if rec, ok := byID[fileID]; ok {
			rec.Versions = append(rec.Versions, v)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const qs = `SELECT file_id, user_id FROM file_shares WHERE file_id = ANY($1::uuid[])`
	srows, err := q.Query(ctx, qs, ids)
	if err != nil {
		return err
	}
	defer srows.Close()
	for srows.Next() {
		var fileID, userID uuid.UUID
		if err := srows.Scan(&fileID, &userID); err != nil {
			return err
		}
		if rec, ok := byID[fileID]; ok {
			rec.SharedWith = append(rec.SharedWith, userID)
		}
	}
	return srows.Err()
}

func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var rec model.FileRecord
	var status string
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.MIMEType, &rec.Size, &rec.OwnerID, &status,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.IsStarred, &rec.IsDeleted, &rec.Tags,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	rec.Status = model.FileStatus(status)
	return &rec, nil
}

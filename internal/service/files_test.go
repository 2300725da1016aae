package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/a-morozov/filevault/internal/crypto"
	"github.com/a-morozov/filevault/internal/errs"
	"github.com/a-morozov/filevault/internal/limiter"
	"github.com/a-morozov/filevault/internal/model"
	"github.com/a-morozov/filevault/internal/repository/memory"
)

// fakeGateway mirrors the real gateway's error contract without the cost of
// key derivation. The password is remembered in KeyCheck so Decrypt can tell
// a wrong password from a corrupted envelope.
type fakeGateway struct {
	failEncrypt bool
	corrupt     bool
}

func (g *fakeGateway) Encrypt(_ context.Context, data []byte, pw string) (*model.Envelope, error) {
	if g.failEncrypt {
		return nil, errors.New("gateway unavailable")
	}
	return &model.Envelope{
		KeyCheck:   []byte(pw),
		Ciphertext: bytes.Clone(data),
	}, nil
}

func (g *fakeGateway) Decrypt(_ context.Context, env *model.Envelope, pw string) ([]byte, error) {
	if g.corrupt {
		return nil, crypto.ErrCorruptPayload
	}
	if string(env.KeyCheck) != pw {
		return nil, crypto.ErrWrongPassword
	}
	return bytes.Clone(env.Ciphertext), nil
}

const goodPassword = "Str0ng!Pass"

func newService(gw crypto.Gateway) *FileServiceImpl {
	repo := memory.NewFileRepo()
	lim := limiter.NewLRU(128, time.Minute, 5, time.Minute)
	return NewFileService(repo, gw, lim, zap.NewNop())
}

func user() model.Actor {
	return model.Actor{ID: uuid.Must(uuid.NewV4()), Role: model.RoleUser}
}

func admin() model.Actor {
	return model.Actor{ID: uuid.Must(uuid.NewV4()), Role: model.RoleAdmin}
}

func mustUpload(t *testing.T, s *FileServiceImpl, owner model.Actor, data []byte) *model.FileRecord {
	t.Helper()
	rec, err := s.Upload(context.Background(), owner, "doc.txt", "text/plain", data, goodPassword)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return rec
}

func TestUpload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner := user()

	rec := mustUpload(t, s, owner, []byte("hello"))
	if rec.Status != model.StatusEncrypted {
		t.Fatalf("status %s, want encrypted", rec.Status)
	}
	if rec.OwnerID != owner.ID || rec.Size != 5 || len(rec.Versions) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := s.Upload(ctx, owner, "doc.txt", "text/plain", nil, "weak"); !errors.Is(err, errs.ErrPolicyViolation) {
		t.Fatalf("weak password: want ErrPolicyViolation, got %v", err)
	}
	if _, err := s.Upload(ctx, owner, "", "text/plain", nil, goodPassword); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty name: want ErrInvalidArgument, got %v", err)
	}
}

func TestUpload_EncryptFailureLeavesErrorRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{failEncrypt: true}
	s := newService(gw)
	owner := user()

	_, err := s.Upload(ctx, owner, "doc.txt", "text/plain", []byte("x"), goodPassword)
	if !errors.Is(err, errs.ErrEncryptionFailed) {
		t.Fatalf("want ErrEncryptionFailed, got %v", err)
	}

	// The record must survive in the error state for retry or delete.
	recs, err := s.ListVisible(ctx, owner)
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != model.StatusError {
		t.Fatalf("want one record in error state, got %+v", recs)
	}

	// Retry with a healthy gateway succeeds and flips the status.
	gw.failEncrypt = false
	rec, err := s.RetryEncryption(ctx, owner, recs[0].ID, []byte("x"), goodPassword)
	if err != nil {
		t.Fatalf("RetryEncryption: %v", err)
	}
	if rec.Status != model.StatusEncrypted {
		t.Fatalf("status after retry %s, want encrypted", rec.Status)
	}
}

func TestDownload_Authorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, friend, stranger, root := user(), user(), user(), admin()

	rec := mustUpload(t, s, owner, []byte("secret"))
	if err := s.Share(ctx, owner, rec.ID, friend.ID); err != nil {
		t.Fatalf("Share: %v", err)
	}

	for _, a := range []model.Actor{owner, friend, root} {
		out, err := s.Download(ctx, a, rec.ID, goodPassword)
		if err != nil {
			t.Fatalf("Download as %s: %v", a.Role, err)
		}
		if string(out) != "secret" {
			t.Fatalf("payload %q", out)
		}
	}

	if _, err := s.Download(ctx, stranger, rec.ID, goodPassword); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("stranger: want ErrForbidden, got %v", err)
	}
	if _, err := s.Download(ctx, owner, uuid.Must(uuid.NewV4()), goodPassword); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown id: want ErrNotFound, got %v", err)
	}
}

func TestDownload_WrongPasswordKeepsStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner := user()

	rec := mustUpload(t, s, owner, []byte("secret"))

	_, err := s.Download(ctx, owner, rec.ID, "Wr0ng!Pass!")
	if !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Fatalf("want ErrDecryptionFailed, got %v", err)
	}

	// Wrong password must not flip the record to error.
	recs, _ := s.ListVisible(ctx, owner)
	if recs[0].Status != model.StatusEncrypted {
		t.Fatalf("status %s, want encrypted", recs[0].Status)
	}

	// Correct password still works afterwards.
	if _, err := s.Download(ctx, owner, rec.ID, goodPassword); err != nil {
		t.Fatalf("Download after failure: %v", err)
	}
}

func TestDownload_CorruptPayloadFlagsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	s := newService(gw)
	owner := user()

	rec := mustUpload(t, s, owner, []byte("secret"))
	gw.corrupt = true

	_, err := s.Download(ctx, owner, rec.ID, goodPassword)
	if !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Fatalf("want ErrDecryptionFailed, got %v", err)
	}
	recs, _ := s.ListVisible(ctx, owner)
	if recs[0].Status != model.StatusError {
		t.Fatalf("status %s, want error", recs[0].Status)
	}

	// A record out of the encrypted state refuses downloads with Conflict.
	gw.corrupt = false
	if _, err := s.Download(ctx, owner, rec.ID, goodPassword); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("download in error state: want ErrConflict, got %v", err)
	}
}

func TestDownload_RateLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := memory.NewFileRepo()
	lim := limiter.NewLRU(128, time.Minute, 2, time.Minute)
	s := NewFileService(repo, &fakeGateway{}, lim, zap.NewNop())
	owner := user()

	rec := mustUpload(t, s, owner, []byte("secret"))

	if _, err := s.Download(ctx, owner, rec.ID, "Wr0ng!Pass!"); !errors.Is(err, errs.ErrDecryptionFailed) {
		t.Fatalf("first failure: %v", err)
	}
	// Second failure hits the threshold and reports the block immediately.
	if _, err := s.Download(ctx, owner, rec.ID, "Wr0ng!Pass!"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("second failure: want ErrRateLimited, got %v", err)
	}
	// Even the right password is refused while blocked.
	if _, err := s.Download(ctx, owner, rec.ID, goodPassword); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("blocked download: want ErrRateLimited, got %v", err)
	}
}

func TestShare(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, friend, root := user(), user(), admin()

	rec := mustUpload(t, s, owner, []byte("x"))

	if err := s.Share(ctx, owner, rec.ID, friend.ID); err != nil {
		t.Fatalf("Share: %v", err)
	}
	if err := s.Share(ctx, owner, rec.ID, friend.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate share: want ErrConflict, got %v", err)
	}
	if err := s.Share(ctx, owner, rec.ID, owner.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("self-share: want ErrConflict, got %v", err)
	}
	// Sharing is owner-only, admins included.
	if err := s.Share(ctx, root, rec.ID, friend.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("admin share: want ErrForbidden, got %v", err)
	}
	if err := s.Share(ctx, friend, rec.ID, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("recipient re-share: want ErrForbidden, got %v", err)
	}
	if err := s.Share(ctx, owner, rec.ID, uuid.Nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("nil target: want ErrInvalidArgument, got %v", err)
	}
}

func TestUpdateMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, stranger := user(), user()

	rec := mustUpload(t, s, owner, []byte("x"))

	name := "renamed.txt"
	got, err := s.UpdateMetadata(ctx, owner, rec.ID, model.MetadataPatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if got.Name != "renamed.txt" {
		t.Fatalf("name %q", got.Name)
	}

	empty := ""
	if _, err := s.UpdateMetadata(ctx, owner, rec.ID, model.MetadataPatch{Name: &empty}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty name: want ErrInvalidArgument, got %v", err)
	}
	if _, err := s.UpdateMetadata(ctx, stranger, rec.ID, model.MetadataPatch{Name: &name}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("stranger: want ErrForbidden, got %v", err)
	}
}

func TestUpdateContent_AppendsVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, friend := user(), user()

	rec := mustUpload(t, s, owner, []byte("v1"))
	if err := s.Share(ctx, owner, rec.ID, friend.ID); err != nil {
		t.Fatalf("Share: %v", err)
	}

	ver, err := s.UpdateContent(ctx, owner, rec.ID, []byte("version two"), goodPassword)
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if ver.Size != int64(len("version two")) {
		t.Fatalf("version size %d", ver.Size)
	}

	recs, _ := s.ListVisible(ctx, owner)
	if len(recs[0].Versions) != 2 || recs[0].Size != ver.Size {
		t.Fatalf("record after update: %+v", recs[0])
	}

	out, err := s.Download(ctx, owner, rec.ID, goodPassword)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(out) != "version two" {
		t.Fatalf("payload %q, want latest version", out)
	}

	// Read access does not grant write access.
	if _, err := s.UpdateContent(ctx, friend, rec.ID, []byte("v3"), goodPassword); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("shared writer: want ErrForbidden, got %v", err)
	}
	if _, err := s.UpdateContent(ctx, owner, rec.ID, []byte("v3"), "weak"); !errors.Is(err, errs.ErrPolicyViolation) {
		t.Fatalf("weak password: want ErrPolicyViolation, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, friend, stranger := user(), user(), user()

	rec := mustUpload(t, s, owner, []byte("x"))
	if err := s.Share(ctx, owner, rec.ID, friend.ID); err != nil {
		t.Fatalf("Share: %v", err)
	}

	if err := s.Delete(ctx, friend, rec.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("shared delete: want ErrForbidden, got %v", err)
	}
	if err := s.Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Repeat by the owner is a quiet no-op.
	if err := s.Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
	// Everyone else cannot even tell the record existed.
	if err := s.Delete(ctx, stranger, rec.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("stranger delete after delete: want ErrNotFound, got %v", err)
	}
	if _, err := s.Download(ctx, owner, rec.ID, goodPassword); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("download after delete: want ErrNotFound, got %v", err)
	}

	recs, _ := s.ListVisible(ctx, owner)
	if len(recs) != 0 {
		t.Fatalf("deleted record still visible")
	}
}

func TestRetryEncryption_Preconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, stranger := user(), user()

	rec := mustUpload(t, s, owner, []byte("x"))

	// A healthy record refuses retry with Conflict.
	if _, err := s.RetryEncryption(ctx, owner, rec.ID, []byte("x"), goodPassword); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("retry on encrypted: want ErrConflict, got %v", err)
	}
	if _, err := s.RetryEncryption(ctx, stranger, rec.ID, []byte("x"), goodPassword); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("stranger retry: want ErrForbidden, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, root := user(), admin()

	rec := mustUpload(t, s, owner, []byte("x"))

	if err := s.Purge(ctx, owner, rec.ID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("owner purge: want ErrForbidden, got %v", err)
	}
	if err := s.Purge(ctx, root, rec.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("purge of live record: want ErrConflict, got %v", err)
	}

	if err := s.Delete(ctx, owner, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Purge(ctx, root, rec.ID); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if err := s.Purge(ctx, root, rec.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("repeat purge: want ErrNotFound, got %v", err)
	}
}

func TestListAll_AdminOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newService(&fakeGateway{})
	owner, root := user(), admin()

	mustUpload(t, s, owner, []byte("x"))
	mustUpload(t, s, user(), []byte("y"))

	all, err := s.ListAll(ctx, root)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d records, want 2", len(all))
	}
	if _, err := s.ListAll(ctx, owner); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("user ListAll: want ErrForbidden, got %v", err)
	}
}

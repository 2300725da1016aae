package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/a-morozov/filevault/internal/errs"
	"github.com/a-morozov/filevault/internal/model"
	"github.com/a-morozov/filevault/internal/password"
	"github.com/a-morozov/filevault/internal/service"
)

// maxUploadBytes bounds multipart parsing memory; larger parts spill to disk.
const maxUploadBytes = 64 << 20

// Handler exposes the file lifecycle service over REST.
type Handler struct {
	files service.FileService
	log   *zap.Logger
}

// NewHandler constructs the API handler.
func NewHandler(files service.FileService, log *zap.Logger) *Handler {
	return &Handler{files: files, log: log}
}

type fileVersionJSON struct {
	VersionID string    `json:"versionId"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
}

type fileRecordJSON struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	MIMEType   string            `json:"mimeType"`
	Size       int64             `json:"size"`
	OwnerID    string            `json:"ownerId"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Versions   []fileVersionJSON `json:"versions"`
	SharedWith []string          `json:"sharedWith"`
	Tags       []string          `json:"tags"`
	IsStarred  bool              `json:"isStarred"`
}

func toFileJSON(rec *model.FileRecord) fileRecordJSON {
	out := fileRecordJSON{
		ID:         rec.ID.String(),
		Name:       rec.Name,
		MIMEType:   rec.MIMEType,
		Size:       rec.Size,
		OwnerID:    rec.OwnerID.String(),
		Status:     string(rec.Status),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		Versions:   make([]fileVersionJSON, 0, len(rec.Versions)),
		SharedWith: make([]string, 0, len(rec.SharedWith)),
		Tags:       rec.Tags,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	for _, v := range rec.Versions {
		out.Versions = append(out.Versions, fileVersionJSON{
			VersionID: v.ID.String(),
			CreatedAt: v.CreatedAt,
			Size:      v.Size,
		})
	}
	for _, id := range rec.SharedWith {
		out.SharedWith = append(out.SharedWith, id.String())
	}
	out.IsStarred = rec.IsStarred
	return out
}

// requireActor returns the actor set by AuthMiddleware. A missing actor
// means the route was mounted without the middleware; refuse the request
// rather than act on a zero identity.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

// Upload handles POST /api/v1/files (multipart: file, password).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	name, mimeType, data, pw, err := parseFileForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.files.Upload(r.Context(), actor, name, mimeType, data, pw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toFileJSON(rec))
}

// ListVisible handles GET /api/v1/files.
func (h *Handler) ListVisible(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	recs, err := h.files.ListVisible(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRecordList(w, recs)
}

// ListAll handles GET /api/v1/files/all (admin).
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	recs, err := h.files.ListAll(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRecordList(w, recs)
}

// Download handles POST /api/v1/files/{id}/download.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errs.ErrInvalidArgument)
		return
	}
	data, err := h.files.Download(r.Context(), actor, fileID, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// Share handles POST /api/v1/files/{id}/share.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errs.ErrInvalidArgument)
		return
	}
	target, err := uuid.FromString(req.TargetUserID)
	if err != nil {
		h.writeError(w, errs.ErrInvalidArgument)
		return
	}
	if err := h.files.Share(r.Context(), actor, fileID, target); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateMetadata handles PATCH /api/v1/files/{id}.
func (h *Handler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		Name      *string   `json:"name"`
		Tags      *[]string `json:"tags"`
		IsStarred *bool     `json:"isStarred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errs.ErrInvalidArgument)
		return
	}
	patch := model.MetadataPatch{Name: req.Name, Tags: req.Tags, IsStarred: req.IsStarred}
	rec, err := h.files.UpdateMetadata(r.Context(), actor, fileID, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toFileJSON(rec))
}

// UpdateContent handles POST /api/v1/files/{id}/content (multipart).
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_, _, data, pw, err := parseFileForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ver, err := h.files.UpdateContent(r.Context(), actor, fileID, data, pw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, fileVersionJSON{
		VersionID: ver.ID.String(),
		CreatedAt: ver.CreatedAt,
		Size:      ver.Size,
	})
}

// Retry handles POST /api/v1/files/{id}/retry (multipart).
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_, _, data, pw, err := parseFileForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.files.RetryEncryption(r.Context(), actor, fileID, data, pw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toFileJSON(rec))
}

// Delete handles DELETE /api/v1/files/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.files.Delete(r.Context(), actor, fileID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purge handles DELETE /api/v1/files/{id}/purge (admin).
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	fileID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.files.Purge(r.Context(), actor, fileID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckPassword handles POST /api/v1/password/check. It exposes the policy
// so callers can render guidance before uploading.
func (h *Handler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errs.ErrInvalidArgument)
		return
	}
	res := password.Validate(req.Password)
	out := struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason,omitempty"`
		Score  int    `json:"score"`
	}{Valid: res.Valid, Score: password.Score(req.Password)}
	if !res.Valid {
		out.Reason = res.Reason.Message()
	}
	h.writeJSON(w, http.StatusOK, out)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errs.ErrInvalidArgument
	}
	return id, nil
}

// parseFileForm extracts the file part and the encryption password from a
// multipart form.
func parseFileForm(r *http.Request) (name, mimeType string, data []byte, pw string, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", nil, "", errs.ErrInvalidArgument
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return "", "", nil, "", errs.ErrInvalidArgument
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		return "", "", nil, "", err
	}
	return hdr.Filename, hdr.Header.Get("Content-Type"), data, r.FormValue("password"), nil
}

func (h *Handler) writeRecordList(w http.ResponseWriter, recs []model.FileRecord) {
	out := make([]fileRecordJSON, 0, len(recs))
	for i := range recs {
		out = append(out, toFileJSON(&recs[i]))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrPolicyViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrDecryptionFailed), errors.Is(err, errs.ErrEncryptionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.log.Error("internal error", zap.Error(err))
		http.Error(w, "internal", status)
		return
	}
	h.writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

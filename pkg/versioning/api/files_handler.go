package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

// Request headers carrying version metadata
const (
	HeaderFileID     = "X-File-Id"
	HeaderFileName   = "X-File-Name"
	HeaderAttrPrefix = "X-Attr-"
	HeaderVersion    = "X-File-Version"
)

// DefaultMaxUploadBytes bounds request bodies unless overridden.
const DefaultMaxUploadBytes int64 = 32 << 20

// FilesHandler exposes versioned file operations over HTTP
type FilesHandler struct {
	service        versioning.Service
	maxUploadBytes int64
}

// NewFilesHandler creates a handler. A maxUploadBytes <= 0 uses DefaultMaxUploadBytes.
func NewFilesHandler(service versioning.Service, maxUploadBytes int64) *FilesHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &FilesHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes returns the router for files endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateFile)
	r.Post("/{id}", h.CreateFile)
	r.Put("/{id}", h.UpdateFile)
	r.Get("/{id}", h.GetActive)
	r.Get("/{id}/versions", h.ListVersions)
	r.Get("/{id}/content", h.DownloadActive)
	r.Delete("/{id}", h.DeleteFile)
	return r
}

// VersionResponse is the JSON form of a version record
type VersionResponse struct {
	ID          string            `json:"id"`
	Version     int               `json:"version"`
	Status      string            `json:"status"`
	StoragePath string            `json:"storage_path"`
	FileName    string            `json:"file_name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
}

// ListVersionsResponse wraps the versions of one file, newest first
type ListVersionsResponse struct {
	ID       string            `json:"id"`
	Versions []VersionResponse `json:"versions"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

func toVersionResponse(v *versioning.Version) VersionResponse {
	return VersionResponse{
		ID:          v.ID,
		Version:     v.Version,
		Status:      string(v.Status),
		StoragePath: v.StoragePath,
		FileName:    v.FileName,
		ContentType: v.ContentType,
		Size:        v.Size,
		Attributes:  v.Attributes,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
		DeletedAt:   v.DeletedAt,
	}
}

// CreateFile stores version 1 of a new file. The id comes from the URL, the
// X-File-Id header, or is generated.
func (h *FilesHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.Header.Get(HeaderFileID)
	}
	if id == "" {
		id = uuid.New().String()
	}

	content, ok := h.readBody(w, r)
	if !ok {
		return
	}

	version, err := h.service.CreateFile(r.Context(), versioning.CreateFileRequest{
		ID:          id,
		Content:     content,
		ContentType: r.Header.Get("Content-Type"),
		FileName:    r.Header.Get(HeaderFileName),
		Attributes:  attributesFromHeaders(r.Header),
	})
	if err != nil {
		writeError(w, r, "Failed to create file", err)
		return
	}

	slog.Info("File created", "id", version.ID, "version", version.Version)
	w.Header().Set(HeaderVersion, strconv.Itoa(version.Version))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toVersionResponse(version))
}

// UpdateFile stores a new version of an existing file
func (h *FilesHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	content, ok := h.readBody(w, r)
	if !ok {
		return
	}

	version, err := h.service.UpdateFile(r.Context(), versioning.UpdateFileRequest{
		ID:          id,
		Content:     content,
		ContentType: r.Header.Get("Content-Type"),
		FileName:    r.Header.Get(HeaderFileName),
		Attributes:  attributesFromHeaders(r.Header),
	})
	if err != nil {
		writeError(w, r, "Failed to update file", err)
		return
	}

	slog.Info("File updated", "id", version.ID, "version", version.Version)
	w.Header().Set(HeaderVersion, strconv.Itoa(version.Version))
	render.JSON(w, r, toVersionResponse(version))
}

// GetActive returns the metadata of the ACTIVE version
func (h *FilesHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.GetActive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to get active version", err)
		return
	}
	render.JSON(w, r, toVersionResponse(version))
}

// ListVersions returns every version in any status
func (h *FilesHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	versions, err := h.service.ListVersions(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to list versions", err)
		return
	}

	resp := ListVersionsResponse{ID: id, Versions: make([]VersionResponse, 0, len(versions))}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, toVersionResponse(v))
	}
	render.JSON(w, r, resp)
}

// DownloadActive streams the content of the ACTIVE version
func (h *FilesHandler) DownloadActive(w http.ResponseWriter, r *http.Request) {
	version, rc, err := h.service.DownloadActive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Failed to download file", err)
		return
	}
	defer rc.Close()

	contentType := version.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(HeaderVersion, strconv.Itoa(version.Version))
	if version.FileName != "" {
		if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": version.FileName}); disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
	}
	if version.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(version.Size, 10))
	}

	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Failed to stream file content", "id", version.ID, "version", version.Version, "error", err)
	}
}

// DeleteFile marks every version DELETED; with ?physical=true the stored
// content is removed as well
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	physical := false
	if raw := r.URL.Query().Get("physical"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Error: "invalid physical parameter"})
			return
		}
		physical = parsed
	}

	if err := h.service.DeleteFile(r.Context(), versioning.DeleteFileRequest{ID: id, Physical: physical}); err != nil {
		writeError(w, r, "Failed to delete file", err)
		return
	}

	slog.Info("File deleted", "id", id, "physical", physical)
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilesHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		slog.Error("Failed to read request body", "error", err)
		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return content, true
}

// attributesFromHeaders collects X-Attr-* headers. Keys are lower-cased.
func attributesFromHeaders(header http.Header) map[string]string {
	var attrs map[string]string
	for name, values := range header {
		if len(values) == 0 || !strings.HasPrefix(name, HeaderAttrPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, HeaderAttrPrefix))
		if key == "" {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[key] = values[0]
	}
	return attrs
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var permErr *versioning.PermissionError
	switch {
	case errors.Is(err, versioning.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, versioning.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, versioning.ErrVersionExists), errors.Is(err, versioning.ErrVersionConflict):
		return http.StatusConflict
	case errors.As(err, &permErr):
		return http.StatusForbidden
	case errors.Is(err, versioning.ErrDownloadUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	} else {
		slog.Warn(msg, "error", err)
	}

	resp := ErrorResponse{Error: err.Error()}
	var opErr *versioning.OperationError
	if errors.As(err, &opErr) {
		resp.Step = opErr.Step
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}

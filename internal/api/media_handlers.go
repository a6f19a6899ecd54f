package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"clipfetch/internal/artifact"
	"clipfetch/internal/media"
	"clipfetch/internal/models"
	"clipfetch/internal/runner"
	"clipfetch/internal/storage"
)

type infoRequest struct {
	URL string `json:"url"`
}

type infoResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Duration   int64  `json:"duration"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Uploader   string `json:"uploader,omitempty"`
	ViewCount  int64  `json:"viewCount"`
	WebpageURL string `json:"webpageUrl,omitempty"`
}

// Info probes metadata for a single target through the cache.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req infoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := h.Orchestrator.Info(r.Context(), req.URL)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		ID:         info.ID,
		Title:      info.Title,
		Duration:   info.Duration,
		Thumbnail:  info.Thumbnail,
		Uploader:   info.Uploader,
		ViewCount:  info.ViewCount,
		WebpageURL: info.WebpageURL,
	})
}

type downloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	Type    string `json:"type,omitempty"`
}

type downloadResponse struct {
	Success bool     `json:"success"`
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Kind    string   `json:"kind"`
	File    string   `json:"file,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// Download runs a download synchronously and reports the resolved artifacts.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := parseKind(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.Orchestrator.Download(r.Context(), media.DownloadRequest{
		URL:     req.URL,
		Quality: req.Quality,
		Kind:    kind,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	resp := downloadResponse{
		Success: true,
		ID:      record.ID,
		Title:   record.Title,
		Kind:    string(record.Kind),
		Files:   record.Files,
	}
	if record.Kind != models.KindPlaylist && len(record.Files) == 1 {
		resp.File = record.Files[0]
		resp.Files = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// Downloads serves the history listing and single-record lookups.
func (h *Handler) Downloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	id := strings.Trim(strings.TrimPrefix(path.Clean(r.URL.Path), "/api/downloads"), "/")
	if id == "" {
		h.listDownloads(w, r)
		return
	}
	record, ok := h.Store.GetDownload(id)
	if !ok {
		writeError(w, http.StatusNotFound, storage.ErrDownloadNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) listDownloads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"downloads": h.Store.ListDownloads(limit),
	})
}

func parseKind(raw string) (models.DownloadKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "video":
		return models.KindVideo, nil
	case "audio":
		return models.KindAudio, nil
	case "playlist":
		return models.KindPlaylist, nil
	default:
		return "", fmt.Errorf("unknown download type %q", raw)
	}
}

// statusForError maps the domain error taxonomy onto HTTP statuses. Upstream
// tool failures surface as 502 so callers can tell them apart from bugs here.
func statusForError(err error) int {
	switch {
	case errors.Is(err, media.ErrMissingInput),
		errors.Is(err, media.ErrUnsupportedTarget):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrDownloadInFlight):
		return http.StatusConflict
	case errors.Is(err, storage.ErrDownloadNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, runner.ErrCanceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, runner.ErrProcessFailed),
		errors.Is(err, runner.ErrOutputTooLarge),
		errors.Is(err, media.ErrMalformedMetadata),
		errors.Is(err, artifact.ErrArtifactNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wbscanner/pkg/domain"
	"wbscanner/pkg/logger"
	"wbscanner/pkg/serrors"
	"wbscanner/pkg/urlx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultLimit is the page size used by ListScans when none is given.
const DefaultLimit = 20

// MaxLimit caps the page size a client can request.
const MaxLimit = 100

// Handler serves the v1 JSON API.
type Handler struct {
	deps Deps
}

// NewHandler returns a Handler backed by the given collaborators.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// CreateScanRequest is the body of POST /v1/scans.
type CreateScanRequest struct {
	URL string `json:"url"`
}

// CreateMessageScansRequest is the body of POST /v1/messages.
type CreateMessageScansRequest struct {
	Text string `json:"text"`
}

// CreateMessageScansResponse lists the scans scheduled for the URLs found in
// a message.
type CreateMessageScansResponse struct {
	Scans []ScanResponse `json:"scans"`
}

// ScanResponse is the JSON shape of a scan returned by the API.
type ScanResponse struct {
	ID         uuid.UUID                `json:"id"`
	URLHash    string                   `json:"urlHash"`
	URL        string                   `json:"url"`
	Status     domain.ScanStatus        `json:"status"`
	Verdict    *domain.Verdict          `json:"verdict,omitempty"`
	Resolution *domain.ResolutionResult `json:"resolution,omitempty"`
	Attempts   uint                     `json:"attempts"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  *time.Time               `json:"updatedAt,omitempty"`
}

// ListScansResponse is a page of scans plus the cursor for the next page.
type ListScansResponse struct {
	Scans      []ScanResponse `json:"scans"`
	NextCursor *time.Time     `json:"nextCursor,omitempty"`
}

func scanResponse(in *domain.Scan) ScanResponse {
	out := ScanResponse{
		ID:        uuid.UUID(in.ID),
		URLHash:   in.URLHash,
		URL:       in.URL,
		Status:    in.Status,
		Attempts:  in.Attempts,
		CreatedAt: in.CreatedAt,
	}
	if !in.UpdatedAt.IsZero() {
		updatedAt := in.UpdatedAt
		out.UpdatedAt = &updatedAt
	}
	// a pending scan has no verdict or resolution yet
	if in.Status == domain.ScanStatusCompleted {
		verdict := in.Verdict
		resolution := in.Resolution
		out.Verdict = &verdict
		out.Resolution = &resolution
	}

	return out
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateScan schedules a new scan for the submitted URL. When a fresh verdict
// already exists for the URL's hash the response is already completed.
func (h *Handler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req CreateScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, serrors.Wrap(serrors.ErrBadRequest, err, "invalid request body"))

		return
	}
	if req.URL == "" {
		writeError(w, r, serrors.With(serrors.ErrBadRequest, "url is required"))

		return
	}

	scan, err := h.deps.Pipeline.Enqueue(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)

		return
	}

	status := http.StatusAccepted
	if scan.Status == domain.ScanStatusCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, scanResponse(scan))
}

// CreateMessageScans extracts every URL from a message and schedules a scan
// for each. URLs the pipeline rejects are skipped rather than failing the
// whole message; a message with no acceptable URL is a bad request.
func (h *Handler) CreateMessageScans(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageScansRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, serrors.Wrap(serrors.ErrBadRequest, err, "invalid request body"))

		return
	}
	if req.Text == "" {
		writeError(w, r, serrors.With(serrors.ErrBadRequest, "text is required"))

		return
	}

	urls := urlx.Extract(req.Text)
	if len(urls) == 0 {
		writeError(w, r, serrors.With(serrors.ErrBadRequest, "no URLs found in message"))

		return
	}

	resp := CreateMessageScansResponse{Scans: make([]ScanResponse, 0, len(urls))}
	for _, rawURL := range urls {
		scan, err := h.deps.Pipeline.Enqueue(r.Context(), rawURL)
		if err != nil {
			logger.Warn(r.Context(), "skipping extracted URL",
				zap.String("url", rawURL), zap.Error(err))

			continue
		}
		resp.Scans = append(resp.Scans, scanResponse(scan))
	}
	if len(resp.Scans) == 0 {
		writeError(w, r, serrors.With(serrors.ErrBadRequest, "no scannable URLs in message"))

		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// GetScan returns a single scan by its ID.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, serrors.Wrap(serrors.ErrInvalidIdentifier, err, "invalid scan ID"))

		return
	}

	scan, err := h.deps.Storage.ScanByID(r.Context(), domain.ScanID(id))
	if err != nil {
		writeError(w, r, err)

		return
	}
	if scan == nil {
		writeError(w, r, serrors.With(serrors.ErrNotFound, "scan not found"))

		return
	}

	writeJSON(w, http.StatusOK, scanResponse(scan))
}

// GetVerdict returns the latest completed verdict for a url hash.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	urlHash := chi.URLParam(r, "urlHash")
	if !validHash(urlHash) {
		writeError(w, r, serrors.With(serrors.ErrInvalidIdentifier, "invalid url hash"))

		return
	}

	scan, err := h.deps.Pipeline.VerdictByHash(r.Context(), urlHash)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, scanResponse(scan))
}

// ListScans returns a page of recent scans, optionally filtered by status and
// paginated with a created-at cursor.
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := domain.ScanStatus(query.Get("status"))
	switch status {
	case "", domain.ScanStatusPending, domain.ScanStatusCompleted, domain.ScanStatusFailed:
	default:
		writeError(w, r, serrors.With(serrors.ErrBadRequest, "unknown status %q", status))

		return
	}

	limit := uint(DefaultLimit)
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || parsed == 0 {
			writeError(w, r, serrors.With(serrors.ErrBadRequest, "invalid limit %q", raw))

			return
		}
		limit = uint(parsed)
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}

	var cursor time.Time
	if raw := query.Get("cursor"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, r, serrors.Wrap(serrors.ErrBadRequest, err, "invalid cursor"))

			return
		}
		cursor = parsed
	}

	page, err := h.deps.Storage.RecentScans(r.Context(), status, cursor, limit)
	if err != nil {
		writeError(w, r, err)

		return
	}

	resp := ListScansResponse{
		Scans:      make([]ScanResponse, 0, len(page.Scans)),
		NextCursor: page.NextCursor,
	}
	for i := range page.Scans {
		resp.Scans = append(resp.Scans, scanResponse(&page.Scans[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// validHash accepts exactly 64 lowercase hex characters, the shape produced
// by the url hasher.
func validHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error's kind to an HTTP status and writes a JSON body.
// Internal failures are logged and never leak their message to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	var serr *serrors.Error
	if errors.As(err, &serr) {
		switch {
		case errors.Is(err, serrors.ErrBadRequest), errors.Is(err, serrors.ErrInvalidIdentifier):
			status, msg = http.StatusBadRequest, serr.Message()
		case errors.Is(err, serrors.ErrNotFound):
			status, msg = http.StatusNotFound, serr.Message()
		case errors.Is(err, serrors.ErrConflict):
			status, msg = http.StatusConflict, serr.Message()
		case errors.Is(err, serrors.ErrRateLimited):
			status, msg = http.StatusTooManyRequests, serr.Message()
		case errors.Is(err, serrors.ErrUnavailable):
			status, msg = http.StatusServiceUnavailable, serr.Message()
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package api exposes the verification pipeline and the audit ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psantana5/physician/internal/pipeline"
	"github.com/psantana5/physician/internal/simulation"
	"github.com/psantana5/physician/pkg/logging"
	"github.com/psantana5/physician/pkg/metrics"
	"github.com/psantana5/physician/pkg/models"
	"github.com/psantana5/physician/pkg/perception"
	"github.com/psantana5/physician/pkg/store"
)

// ErrorPrefix starts every error detail returned by the API
const ErrorPrefix = "Verification Engine Error: "

// DefaultMaxUploadBytes caps the multipart body of POST /verify
const DefaultMaxUploadBytes = 10 << 20

// Verifier runs one verification. *pipeline.Pipeline implements it.
type Verifier interface {
	Verify(ctx context.Context, req pipeline.Request) (*models.VerificationResult, error)
}

// Options configures a Handler
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	Slots          metrics.SlotUsage // physics session pool, for /health
	Metrics        http.Handler      // served at /metrics when set
	Logger         *logging.Logger
}

// Handler serves the PHYSICIAN API
type Handler struct {
	verifier  Verifier
	store     store.Store
	uploadDir string
	maxUpload int64
	slots     metrics.SlotUsage
	metrics   http.Handler
	logger    *logging.Logger
}

// NewHandler creates a handler. s may be nil when no ledger is configured.
func NewHandler(v Verifier, s store.Store, opts Options) *Handler {
	h := &Handler{
		verifier:  v,
		store:     s,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUploadBytes,
		slots:     opts.Slots,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if h.uploadDir == "" {
		h.uploadDir = os.TempDir()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadBytes
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	h.logger = h.logger.WithField("component", "api")
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.Root).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/verify", h.Verify).Methods("POST")

	// Register /verifications/stats before the parameterized route
	r.HandleFunc("/verifications/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/verifications", h.ListVerifications).Methods("GET")
	r.HandleFunc("/verifications/{id}", h.GetVerification).Methods("GET")

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
}

// Root is the liveness probe
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "online",
		"system": "PHYSICIAN Kinematic Layer",
	})
}

// Health reports the physics slot pool, the ledger and the host
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
		"host":   metrics.CollectHostStats(),
	}
	if h.slots != nil {
		if usage, err := h.slots(); err == nil {
			body["physics"] = usage
		} else {
			body["physics"] = map[string]string{"error": err.Error()}
		}
	}
	if h.store != nil {
		if err := h.store.HealthCheck(); err != nil {
			body["status"] = "degraded"
			body["ledger"] = err.Error()
		} else {
			body["ledger"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// Verify accepts a multipart form with "command" and "image" and returns the verdict.
// The uploaded image lives in a temp file only for the duration of the request.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		writeError(w, http.StatusBadRequest, "missing form field 'command'")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing form file 'image'")
		return
	}
	defer file.Close()

	path, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("Failed to store upload", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(path)

	img, err := perception.LoadImage(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(img.Data) == 0 {
		writeError(w, http.StatusBadRequest, "image is empty")
		return
	}
	if ct := header.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		img.MimeType = ct
	}

	result, err := h.verifier.Verify(r.Context(), pipeline.Request{Image: img, Command: command})
	if err != nil {
		status := StatusFor(err)
		h.logger.Warn("Verification failed", map[string]interface{}{
			"request_id": models.RequestIDFromContext(r.Context()),
			"status":     status,
			"error":      err.Error(),
		})
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.NewVerifyResponse(result))
}

// saveUpload copies src to <uploadDir>/<uuid><ext>
func (h *Handler) saveUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	path := filepath.Join(h.uploadDir, uuid.New().String()+ext)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return path, nil
}

// ListVerifications returns recent audit records, newest first.
// Query: verdict=GO|BLOCKED, limit=N, since=RFC3339.
func (h *Handler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListVerifications(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list verifications", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to list verifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"verifications": records,
		"count":         len(records),
	})
}

// GetVerification returns one audit record
func (h *Handler) GetVerification(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := h.store.GetVerification(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("verification %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get verification")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetStats returns ledger aggregates
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "audit ledger is disabled")
		return false
	}
	return true
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	var f store.ListFilter

	if v := q.Get("verdict"); v != "" {
		status := models.VerdictStatus(strings.ToUpper(v))
		if status != models.VerdictGo && status != models.VerdictBlocked {
			return f, fmt.Errorf("invalid verdict %q, want GO or BLOCKED", v)
		}
		f.Verdict = status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid since %q, want RFC3339", v)
		}
		f.Since = t
	}
	return f, nil
}

// StatusFor maps a pipeline error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, perception.ErrPerceptionFailure):
		return http.StatusBadGateway
	case errors.Is(err, simulation.ErrSimulationBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{"detail": ErrorPrefix + msg})
}

package trigger

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadencecrm/backlog/pkg/queue"
	"github.com/cadencecrm/backlog/pkg/runner"
)

// SecretHeader carries the shared secret supplied by the external scheduler.
const SecretHeader = "X-Trigger-Secret"

// API is the HTTP surface for external triggers and batch monitoring.
//
// POST /internal/run          process next batch (shared-secret protected)
// GET  /batches/{batchID}     aggregate status counts
// POST /batches/{batchID}/cancel   cancel an owner's queued jobs
type API struct {
	runner *runner.Runner
	queue  *queue.Queue
	secret string
	logger *slog.Logger
}

// NewAPI creates the HTTP API. The secret protects the run endpoint; an
// empty secret rejects all trigger calls rather than running open.
func NewAPI(r *runner.Runner, q *queue.Queue, secret string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{runner: r, queue: q, secret: secret, logger: logger}
}

// Router builds the chi router for the API.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(a.requireSecret)
		r.Post("/internal/run", a.handleRun)
	})

	r.Get("/batches/{batchID}", a.handleBatchStatus)
	r.Post("/batches/{batchID}/cancel", a.handleCancelBatch)

	return r
}

func (a *API) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get(SecretHeader)
		if a.secret == "" || supplied == "" ||
			subtle.ConstantTimeCompare([]byte(supplied), []byte(a.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "INVALID_SECRET", "Missing or invalid trigger secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type runRequest struct {
	BatchSize int `json:"batch_size"`
}

// handleRun is the idempotent "process next batch" entry point. Invoking it
// twice concurrently is safe; the store claim splits the queue between the
// two passes.
func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body")
			return
		}
	}

	sum, err := a.runner.RunOnce(r.Context(), req.BatchSize)
	if err != nil {
		a.logger.Error("trigger pass failed", "error", err)
		writeError(w, http.StatusInternalServerError, "RUN_FAILED", "Job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	counts, err := a.queue.BatchStatus(r.Context(), batchID)
	if err != nil {
		a.logger.Error("batch status query failed", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "STATUS_FAILED", "Job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type cancelRequest struct {
	OwnerID string `json:"owner_id"`
}

type cancelResponse struct {
	Cancelled int64 `json:"cancelled"`
}

func (a *API) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "owner_id is required")
		return
	}

	n, err := a.queue.CancelBatch(r.Context(), batchID, req.OwnerID)
	if err != nil {
		a.logger.Error("batch cancel failed", "batch_id", batchID, "error", err)
		writeError(w, http.StatusInternalServerError, "CANCEL_FAILED", "Job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: n})
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

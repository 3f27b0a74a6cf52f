package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/quartzci/quartz/internal/errors"
	"github.com/quartzci/quartz/pkg/runstore"
)

// RunsHandler serves the read-only run history endpoints.
type RunsHandler struct {
	store  *runstore.Store
	logger *zap.Logger
}

// NewRunsHandler wraps a run history store.
func NewRunsHandler(store *runstore.Store, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{store: store, logger: logger}
}

// RunListResponse is the body returned by GET /runs.
type RunListResponse struct {
	Runs  []runstore.Run `json:"runs"`
	Count int            `json:"count"`
}

// List serves GET /runs. Accepts an optional ?limit=N (default 50).
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apperrors.WriteError(w, http.StatusBadRequest,
				apperrors.CodeInvalidArgument, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		apperrors.WriteError(w, http.StatusInternalServerError,
			apperrors.CodeInternalError, "failed to list runs")
		return
	}

	writeJSON(w, RunListResponse{Runs: runs, Count: len(runs)})
}

// Get serves GET /runs/{runID} with full stage detail.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound,
				apperrors.CodeNotFound, "run not found: "+runID)
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		apperrors.WriteError(w, http.StatusInternalServerError,
			apperrors.CodeInternalError, "failed to load run")
		return
	}

	writeJSON(w, run)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-retail/harrier/internal/analysis"
	"github.com/opensource-retail/harrier/internal/domain"
	"github.com/opensource-retail/harrier/internal/ingest"
	"github.com/opensource-retail/harrier/internal/repository"
)

// Default listing limits. The score listing is effectively unbounded
// because the dashboard renders the full ranked table.
const (
	defaultScoreLimit = 15000
	defaultAlertLimit = 20
	defaultPageLimit  = 100
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	ingest  *ingest.Service
	runner  *analysis.Runner
	config  *domain.Config
	version string

	// pipelineMu serializes dataset replacement and analysis runs. Both
	// rewrite derived state, so they must never interleave.
	pipelineMu sync.Mutex
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, ingestSvc *ingest.Service, runner *analysis.Runner, cfg *domain.Config, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		ingest:  ingestSvc,
		runner:  runner,
		config:  cfg,
		version: version,
	}
}

// UploadCSV handles POST /upload-csv. The upload replaces the entire
// dataset, including scores and alerts from previous runs.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	maxBytes := h.config.Server.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	h.pipelineMu.Lock()
	stats, err := h.ingest.UploadCSV(ctx, header.Filename, file)
	h.pipelineMu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrNotCSV):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid file format, please upload a CSV",
			})
		case errors.Is(err, ingest.ErrEmptyDataset):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "the uploaded CSV file is empty",
			})
		case errors.Is(err, ingest.ErrBadFormat):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "failed to parse CSV: " + err.Error(),
			})
		default:
			slog.Error("csv upload failed", "filename", header.Filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to process CSV",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "CSV processed successfully",
		"stats":   stats,
	})
}

// RunAnalysis handles POST /run-analysis.
func (h *Handler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.pipelineMu.Lock()
	result, err := h.runner.Run(ctx)
	h.pipelineMu.Unlock()

	if err != nil {
		if errors.Is(err, analysis.ErrNoUsers) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "no users found, upload CSV data first",
			})
			return
		}
		slog.Error("analysis run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// FraudUsers handles GET /fraud-users: behavior scores ranked by risk.
func (h *Handler) FraudUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", defaultScoreLimit)

	cacheable := limit == defaultScoreLimit
	if cacheable && h.serveCached(w, r, domain.CacheKeyFraudUsers) {
		return
	}

	scores, err := h.repo.ListBehaviorScores(ctx, limit)
	if err != nil {
		slog.Error("failed to list behavior scores", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list behavior scores",
		})
		return
	}

	resp := map[string]any{
		"fraudUsers": scores,
		"count":      len(scores),
	}
	if cacheable {
		h.storeCached(ctx, domain.CacheKeyFraudUsers, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Alerts handles GET /alerts: alerts sorted by date, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", defaultAlertLimit)

	cacheable := limit == defaultAlertLimit
	if cacheable && h.serveCached(w, r, domain.CacheKeyAlerts) {
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	resp := map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	}
	if cacheable {
		h.storeCached(ctx, domain.CacheKeyAlerts, resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultPageLimit)

	users, err := h.repo.ListUsers(ctx, skip, limit)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list users",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// UserDetailResponse joins a user with its current score and alert history.
type UserDetailResponse struct {
	*domain.User
	BehaviorScore *domain.BehaviorScore `json:"behaviorScore"`
	FraudAlerts   []*domain.FraudAlert  `json:"fraudAlerts"`
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id must be an integer",
		})
		return
	}

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "user not found",
			})
			return
		}
		slog.Error("failed to get user", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get user",
		})
		return
	}

	resp := UserDetailResponse{User: user, FraudAlerts: []*domain.FraudAlert{}}

	// Score and alerts are optional: a user may not have been analyzed yet.
	score, err := h.repo.GetBehaviorScore(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to get behavior score", "user_id", userID, "error", err)
	}
	resp.BehaviorScore = score

	alerts, err := h.repo.AlertsByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to get alerts", "user_id", userID, "error", err)
	}
	if alerts != nil {
		resp.FraudAlerts = alerts
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListTransactions handles GET /transactions: recent first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultPageLimit)

	txns, err := h.repo.ListTransactions(ctx, skip, limit)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"count":        len(txns),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// serveCached writes a cached response if present. Returns true on a hit.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.cache == nil {
		return false
	}
	data, err := h.cache.Get(r.Context(), key)
	if err != nil || data == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return true
}

// storeCached caches a response body under the given key. Entries are
// also invalidated eagerly on ingest and analysis, so the TTL is a backstop.
func (h *Handler) storeCached(ctx context.Context, key string, v any) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := h.config.Cache.LocalTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := h.cache.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("failed to cache response", "key", key, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/config"
	"github.com/Sternrassler/jira-dashboard/pkg/dashboard"
	"github.com/Sternrassler/jira-dashboard/pkg/issue"
	"github.com/Sternrassler/jira-dashboard/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// api serves the dashboard endpoints.
type api struct {
	svc    *dashboard.Service
	cfg    *config.Config
	redis  *redis.Client
	logger zerolog.Logger
}

func serve(ctx context.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &api{svc: rt.svc, cfg: rt.cfg, redis: rt.redis, logger: rt.logger.With().Str("component", "http").Logger()}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(rt.cfg.Port),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Str("jira", rt.cfg.BaseURL()).Msg("Starting dashboard server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", a.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/dashboard-data", a.dashboardData)
	mux.HandleFunc("GET /api/initiatives", a.initiatives)
	mux.HandleFunc("GET /api/trees/{key}", a.tree)
	mux.HandleFunc("GET /api/descendants/{key}", a.descendants)
	mux.HandleFunc("GET /api/issues", a.issuesByLabel)
	mux.HandleFunc("GET /api/sprints", a.sprints)
	mux.HandleFunc("GET /api/sprint-progress/{sprintId}", a.sprintProgress)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while a configured Redis is unreachable.
func (a *api) readyHandler(w http.ResponseWriter, r *http.Request) {
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn().Err(err).Msg("Redis not ready")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *api) dashboardData(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Snapshot(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{
		"data":             snap.Initiatives,
		"supportIssues":    snap.SupportIssues,
		"timeTrackingData": snap.TimeTracking,
		"timeFrameStart":   snap.TimeFrameStart,
		"timeFrameEnd":     snap.TimeFrameEnd,
		"tshirtFieldId":    snap.SizeFieldID,
	})
}

func (a *api) initiatives(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		label = a.cfg.Label
	}
	if label == "" {
		a.badRequest(w, "label is required")
		return
	}
	trees, err := a.svc.BuildInitiativeTrees(r.Context(), label)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"data": trees})
}

func (a *api) tree(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	tree, err := a.svc.BuildTree(r.Context(), key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if tree == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "issue " + key + " not found"})
		return
	}
	a.ok(w, map[string]any{"data": tree})
}

func (a *api) descendants(w http.ResponseWriter, r *http.Request) {
	includeSize := false
	if v := r.URL.Query().Get("includeSize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			a.badRequest(w, "includeSize must be a boolean")
			return
		}
		includeSize = b
	}

	issues, err := a.svc.CollectDescendants(r.Context(), r.PathValue("key"), includeSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"issues": issues, "count": len(issues)})
}

func (a *api) issuesByLabel(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		a.badRequest(w, "label is required")
		return
	}
	issues, err := a.svc.FetchIssuesByLabel(r.Context(), label)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"issues": issues, "count": len(issues)})
}

func (a *api) sprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := a.svc.ListSprints(r.Context(), a.cfg.BoardID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if sprints == nil {
		sprints = []issue.Sprint{}
	}
	a.ok(w, map[string]any{"sprints": sprints})
}

func (a *api) sprintProgress(w http.ResponseWriter, r *http.Request) {
	sprintID, err := strconv.Atoi(r.PathValue("sprintId"))
	if err != nil || sprintID <= 0 {
		a.badRequest(w, "invalid sprint id")
		return
	}
	report, err := a.svc.GetSprintReport(r.Context(), a.cfg.BoardID, sprintID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"sprintReport": report})
}

func (a *api) ok(w http.ResponseWriter, body map[string]any) {
	body["success"] = true
	a.writeJSON(w, http.StatusOK, body)
}

func (a *api) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	a.writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// Package api exposes document checks, session history and the allowlist
// over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valpere/kosei/internal/checker"
	"github.com/valpere/kosei/internal/markdown"
	"github.com/valpere/kosei/internal/observe"
	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB

type CheckRequest struct {
	Text     string `json:"text"`
	Markdown bool   `json:"markdown"`
	Lint     bool   `json:"lint"`
	NoCache  bool   `json:"no_cache"`
}

type Deps struct {
	Checker   *checker.Service
	Store     *store.Store       // optional; history and allowlist routes return 503 without it
	Allowlist *checker.Allowlist // optional; reloaded after allowlist edits
	Metrics   *observe.Metrics
	Token     string
}

func NewHandler(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	r := chi.NewRouter()
	r.Use(Instrument(deps.Metrics))

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/check", handleCheck(deps))
		r.Get("/v1/sessions", handleListSessions(deps))
		r.Get("/v1/sessions/{id}", handleGetSession(deps))
		r.Delete("/v1/sessions/{id}", handleDeleteSession(deps))
		r.Get("/v1/stats", handleStats(deps))
		r.Get("/v1/allowlist", handleListAllow(deps))
		r.Post("/v1/allowlist", handleAddAllow(deps))
		r.Delete("/v1/allowlist/{term}", handleDeleteAllow(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCheck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		text := req.Text
		if req.Markdown {
			text = markdown.ToPlainText([]byte(text))
		}

		rep, err := deps.Checker.Check(r.Context(), text, checker.Options{
			Source:  "api",
			Lint:    req.Lint,
			NoCache: req.NoCache,
		})
		switch {
		case errors.Is(err, orchestrator.ErrEmptyInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		case errors.Is(err, orchestrator.ErrModelInvocation):
			httpError(w, http.StatusBadGateway, "model_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, rep)
	}
}

func requireStore(w http.ResponseWriter, deps Deps) bool {
	if deps.Store == nil {
		httpError(w, http.StatusServiceUnavailable, "api_error", "history is disabled")
		return false
	}
	return true
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", v)
				return
			}
			limit = n
		}

		sessions, err := deps.Store.ListSessions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		entry, res, err := deps.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": entry,
			"result":  res,
		})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		err := deps.Store.DeleteSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type allowRequest struct {
	Term string `json:"term"`
	Note string `json:"note"`
}

func handleListAllow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		entries, err := deps.Store.ListAllowTerms(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list allowlist: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleAddAllow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req allowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		id, err := deps.Store.AddAllowTerm(r.Context(), req.Term, req.Note)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		reloadAllowlist(r, deps)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id, "term": req.Term})
	}
}

func handleDeleteAllow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStore(w, deps) {
			return
		}
		err := deps.Store.DeleteAllowTerm(r.Context(), chi.URLParam(r, "term"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete term: %v", err)
			return
		}
		reloadAllowlist(r, deps)
		w.WriteHeader(http.StatusNoContent)
	}
}

func reloadAllowlist(r *http.Request, deps Deps) {
	if deps.Allowlist == nil {
		return
	}
	if err := deps.Allowlist.Reload(r.Context(), deps.Store); err != nil {
		observe.Logger(r.Context()).Warn("allowlist reload failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

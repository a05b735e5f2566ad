package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cobaltlabs/conductor/internal/statestore"
	"github.com/cobaltlabs/conductor/pkg/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps domain error codes onto HTTP statuses.
func statusForError(err error) int {
	var domainErr *errors.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case errors.BundleErrNotFound, errors.BundleErrInstanceNotFound,
			errors.BundleErrEndpointNotFound, errors.LifecycleErrUnknownService:
			return http.StatusNotFound
		case errors.BundleErrAlreadyRegistered:
			return http.StatusConflict
		case errors.BundleErrInvalidSchema:
			return http.StatusBadRequest
		case errors.LifecycleErrNotReady:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"registered": s.registry.RegisteredServices(),
		"ready":      s.registry.ReadyServices(),
	})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, summary := range s.registry.Summary() {
		if summary.Name == name {
			s.writeJSON(w, http.StatusOK, summary)
			return
		}
	}
	s.writeError(w, http.StatusNotFound,
		errors.NewLifecycleError(errors.LifecycleErrUnknownService, "service "+name+" is not registered", nil))
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.ServiceStatus(name); !ok {
		s.writeError(w, http.StatusNotFound,
			errors.NewLifecycleError(errors.LifecycleErrUnknownService, "service "+name+" is not registered", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.CheckHealth(r.Context(), name))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Summary())
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.SystemHealth(r.Context()))
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.Bundles())
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	summary, err := s.orchestrator.BundleStatus(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStartBundle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orchestrator.StartBundle(r.Context(), name); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	summary, err := s.orchestrator.BundleStatus(name)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStopBundle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.orchestrator.StopBundle(r.Context(), name); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	summary, err := s.orchestrator.BundleStatus(name)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleRecentEvents serves the statestore's bounded event history, newest
// first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := s.registry.Get("statestore").(*statestore.Store)
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable,
			errors.NewLifecycleError(errors.LifecycleErrNotReady, "statestore is not ready", nil))
		return
	}

	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := store.RecentEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleSnapshot serves the last persisted per-service summaries. Unlike
// /summary this survives a restart.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	store, ok := s.registry.Get("statestore").(*statestore.Store)
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable,
			errors.NewLifecycleError(errors.LifecycleErrNotReady, "statestore is not ready", nil))
		return
	}

	summaries, err := store.LoadSummaries(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

type callRequest struct {
	Endpoint string      `json:"endpoint"`
	Payload  interface{} `json:"payload"`
}

func (s *Server) handleCallInstance(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if req.Endpoint == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("endpoint is required"))
		return
	}

	result, err := s.orchestrator.Call(r.Context(), chi.URLParam(r, "id"), req.Endpoint, req.Payload)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/godnc/pkg/model"
)

func (s *Server) handleListArchivedTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.archive == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("archive unavailable"))
		return
	}

	opts := listOptionsFromQuery(r)
	tasks, total, err := s.archive.ListArchivedTasks(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	respondList(w, reqID, tasks, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(tasks) < total,
	})
}

func (s *Server) handleGetArchivedTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.archive == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("archive unavailable"))
		return
	}

	task, err := s.archive.GetArchivedTask(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if task == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.archive == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("archive unavailable"))
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	machineID := q.Get("machine_id")

	// ?window=30m asks for a dispatch count over a trailing span instead of
	// the dispatch list itself.
	if raw := q.Get("window"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid window "+raw))
			return
		}
		count, err := s.archive.DispatchCountSince(r.Context(), machineID, time.Now().UTC().Add(-window))
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		respondOK(w, reqID, map[string]any{
			"machine_id": machineID,
			"window":     window.String(),
			"count":      count,
		})
		return
	}

	dispatches, err := s.archive.ListDispatches(r.Context(), machineID, limit)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, dispatches)
}

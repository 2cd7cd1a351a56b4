package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/godnc/pkg/model"
)

// handleSSETask streams task updates via Server-Sent Events.
// GET /api/v1/sse/tasks/{id}
func (s *Server) handleSSETask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	task, ok := s.tasks.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Send initial state.
	if err := sendSSEEvent(w, flusher, "init", task); err != nil {
		s.logger.Debug("sse client disconnected", "task_id", id, "error", err)
		return
	}

	// Poll for updates until the task is terminal or the client disconnects.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	last := task

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			task, ok = s.tasks.Get(id)
			if !ok {
				return
			}

			if task.Status != last.Status || task.AssignedMachine != last.AssignedMachine {
				if err := sendSSEEvent(w, flusher, "update", task); err != nil {
					s.logger.Debug("sse client disconnected", "task_id", id)
					return
				}
				last = task
			} else {
				// Send heartbeat.
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}

			if task.Status.IsTerminal() {
				if err := sendSSEEvent(w, flusher, "complete", task); err != nil {
					return
				}
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/me/godnc/pkg/model"
)

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"strategy":             s.scheduler.Strategy(),
		"available_strategies": model.Strategies(),
	})
}

func (s *Server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	strategy, err := model.ParseStrategy(body.Strategy)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	s.scheduler.SetStrategy(strategy)
	respondOK(w, reqID, map[string]any{
		"strategy": strategy,
		"message":  "scheduling strategy updated",
	})
}

// handleExecuteCycle runs one scheduling cycle immediately instead of waiting
// for the next interval tick.
func (s *Server) handleExecuteCycle(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	pendingBefore := len(s.tasks.ByStatus(model.TaskPending))
	s.scheduler.Tick(r.Context())
	pendingAfter := len(s.tasks.ByStatus(model.TaskPending))

	respondOK(w, reqID, map[string]any{
		"pending_before": pendingBefore,
		"pending_after":  pendingAfter,
		"running":        len(s.tasks.ByStatus(model.TaskRunning)),
	})
}

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/me/godnc/pkg/model"
)

// handleCheckMaterial reports whether a task material can run on a machine
// given the stock it currently holds, and what the changeover would cost.
// POST /api/v1/materials/check
func (s *Server) handleCheckMaterial(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.engine == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("material engine unavailable"))
		return
	}

	var body struct {
		Material  string `json:"material"`
		MachineID string `json:"machine_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if strings.TrimSpace(body.Material) == "" || strings.TrimSpace(body.MachineID) == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("material and machine_id are required"))
		return
	}

	machine, ok := s.machines.Get(body.MachineID)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("machine", body.MachineID))
		return
	}

	taskGroup, ok := s.engine.GroupOf(body.Material)
	if !ok {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("unknown material "+body.Material))
		return
	}
	machineGroup, _ := s.engine.GroupOf(machine.Material)

	result := map[string]any{
		"compatible":      s.engine.Compatible(machine.Material, body.Material),
		"task_group":      taskGroup,
		"machine_group":   machineGroup,
		"requires_change": machineGroup != taskGroup,
	}
	if machineGroup != "" {
		if cost, err := s.engine.ChangeoverCost(machineGroup, taskGroup); err == nil {
			result["changeover_cost"] = cost
		}
	}

	respondOK(w, reqID, result)
}

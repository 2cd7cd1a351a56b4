package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/godnc/pkg/model"
)

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	machines := s.machines.Snapshot()
	summary := map[string]int{}
	for _, m := range machines {
		summary[m.Status.String()]++
	}

	respondOK(w, reqID, map[string]any{
		"machines": machines,
		"summary":  summary,
	})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	m, ok := s.machines.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("machine", id))
		return
	}

	connected := false
	if s.conns != nil {
		connected = s.conns.Connected(id)
	}
	respondOK(w, reqID, map[string]any{
		"machine":   m,
		"connected": connected,
	})
}

func (s *Server) handleConnectMachine(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.conns == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("connection manager unavailable"))
		return
	}
	if _, ok := s.machines.Get(id); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("machine", id))
		return
	}

	if err := s.conns.Connect(r.Context(), id); err != nil {
		respondError(w, reqID, http.StatusBadGateway, model.NewInternalError(err.Error()))
		return
	}
	respondOK(w, reqID, map[string]any{
		"machine_id": id,
		"connected":  true,
	})
}

func (s *Server) handleDisconnectMachine(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if s.conns == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, model.NewInternalError("connection manager unavailable"))
		return
	}
	if _, ok := s.machines.Get(id); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("machine", id))
		return
	}

	if err := s.conns.Disconnect(id); err != nil {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
		return
	}
	respondOK(w, reqID, map[string]any{
		"machine_id": id,
		"connected":  false,
	})
}

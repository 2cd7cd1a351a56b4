package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/godnc/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Strategy  string `json:"strategy"`
	Machines  int    `json:"machines"`
	Connected int    `json:"connected"`
	Pending   int    `json:"pending_tasks"`
	Running   int    `json:"running_tasks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	machines := s.machines.Snapshot()
	connected := 0
	if s.conns != nil {
		for _, m := range machines {
			if s.conns.Connected(m.ID) {
				connected++
			}
		}
	}

	strategy := ""
	if s.scheduler != nil {
		strategy = s.scheduler.Strategy().String()
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Strategy:  strategy,
		Machines:  len(machines),
		Connected: connected,
		Pending:   len(s.tasks.ByStatus(model.TaskPending)),
		Running:   len(s.tasks.ByStatus(model.TaskRunning)),
	})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/me/godnc/pkg/model"
)

// createTaskRequest is the POST /tasks body.
type createTaskRequest struct {
	OrderRef     string   `json:"order_ref"`
	ProductModel string   `json:"product_model"`
	Material     string   `json:"material"`
	Capabilities []string `json:"capabilities"`
	Priority     int      `json:"priority"`
	Quantity     int      `json:"quantity"`
	ProgramName  string   `json:"program_name"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts := listOptionsFromQuery(r)

	all := s.tasks.List()
	filtered := all[:0:0]
	for _, t := range all {
		if opts.Status != "" && t.Status.String() != opts.Status {
			continue
		}
		filtered = append(filtered, t)
	}

	total := len(filtered)
	page := paginate(filtered, opts)
	respondList(w, reqID, page, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(page) < total,
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	if err := validateCreateTask(req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	now := time.Now().UTC()
	task := model.ProductionTask{
		ID:           "task_" + uuid.New().String()[:8],
		OrderRef:     req.OrderRef,
		ProductModel: req.ProductModel,
		Material:     strings.ToUpper(strings.TrimSpace(req.Material)),
		Capabilities: req.Capabilities,
		Priority:     req.Priority,
		Quantity:     req.Quantity,
		ProgramName:  req.ProgramName,
		Status:       model.TaskPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.tasks.Add(task); err != nil {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
		return
	}

	s.logger.Info("task created", "task_id", task.ID, "order_ref", task.OrderRef, "material", task.Material)
	respondCreated(w, reqID, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, ok := s.tasks.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.taskLifecycle(w, r, "paused", s.scheduler.PauseTask)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.taskLifecycle(w, r, "resumed", s.scheduler.ResumeTask)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.taskLifecycle(w, r, "cancelled", s.scheduler.CancelTask)
}

// taskLifecycle runs one scheduler-mediated task operation and maps its
// errors onto the envelope.
func (s *Server) taskLifecycle(w http.ResponseWriter, r *http.Request, verb string, op func(ctx context.Context, taskID string) error) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := op(r.Context(), id); err != nil {
		s.respondTaskError(w, reqID, id, err)
		return
	}

	task, _ := s.tasks.Get(id)
	respondOK(w, reqID, map[string]any{
		"task_id": id,
		"status":  task.Status,
		"message": "task " + verb,
	})
}

func (s *Server) respondTaskError(w http.ResponseWriter, reqID, taskID string, err error) {
	var inv *model.InvalidTransitionError
	switch {
	case errors.Is(err, model.ErrTaskNotFound):
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", taskID))
	case errors.As(err, &inv):
		respondError(w, reqID, http.StatusConflict, model.NewConflictError(err.Error()))
	default:
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
	}
}

func validateCreateTask(req createTaskRequest) error {
	switch {
	case strings.TrimSpace(req.OrderRef) == "":
		return errors.New("order_ref is required")
	case strings.TrimSpace(req.Material) == "":
		return errors.New("material is required")
	case req.Quantity <= 0:
		return errors.New("quantity must be positive")
	case req.Priority < 0:
		return errors.New("priority must not be negative")
	}
	return nil
}

func listOptionsFromQuery(r *http.Request) model.ListOptions {
	q := r.URL.Query()
	opts := model.ListOptions{Status: strings.ToUpper(q.Get("status"))}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	opts.Clamp()
	return opts
}

func paginate[T any](items []T, opts model.ListOptions) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}

// Package review exposes the human-review lifecycle over HTTP: starting
// monthly runs, listing and inspecting tasks, and submitting decisions
// that resume suspended workflows.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kwonlabs/kwon-backplane/pkg/api"
	"github.com/kwonlabs/kwon-backplane/pkg/flow"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

var validDecisions = map[string]bool{
	"approve":              true,
	"approve_with_comment": true,
	"reject":               true,
	"revise":               true,
}

// Orchestrator is the workflow surface the HTTP handlers drive.
type Orchestrator interface {
	Run(ctx context.Context, period string) (*flow.RunStatus, error)
	Resume(ctx context.Context, threadID, decision, comment, reviewer string) (*flow.RunStatus, error)
	ResumeTask(ctx context.Context, taskID int64, decision, comment, reviewer string) (*flow.RunStatus, error)
}

// Handler serves the review and orchestrator endpoints.
type Handler struct {
	tasks        *store.ReviewStore
	orchestrator Orchestrator
	auth         *Auth
	logger       *slog.Logger
}

func NewHandler(tasks *store.ReviewStore, orch Orchestrator, auth *Auth, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tasks: tasks, orchestrator: orch, auth: auth, logger: logger}
}

// RegisterRoutes mounts the review API on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/orchestrator/run", h.guard(h.handleRun))
	mux.HandleFunc("/api/review/submit", h.guard(h.handleSubmit))
	mux.HandleFunc("/api/review/tasks", h.guard(h.handleTasks))
	mux.HandleFunc("/api/review/tasks/", h.guard(h.handleTaskByID))
	mux.HandleFunc("/api/review/history/", h.guard(h.handleHistory))
}

func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	if h.auth == nil {
		return next
	}
	return h.auth.Middleware(next)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req struct {
		Period string `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Period == "" {
		api.WriteBadRequest(w, "body must carry a period, e.g. {\"period\":\"2025-10\"}")
		return
	}

	status, err := h.orchestrator.Run(r.Context(), req.Period)
	if err != nil {
		h.logger.Error("orchestrator run failed", "period", req.Period, "error", err)
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":   status.TaskID,
		"thread_id": status.ThreadID,
		"status":    status.Status,
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req struct {
		ThreadID string `json:"thread_id"`
		TaskID   int64  `json:"task_id"`
		Decision string `json:"decision"`
		Comment  string `json:"comment"`
		Reviewer string `json:"reviewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if !validDecisions[req.Decision] {
		api.WriteBadRequest(w, "decision must be approve, approve_with_comment, reject, or revise")
		return
	}
	if req.ThreadID == "" && req.TaskID == 0 {
		api.WriteBadRequest(w, "thread_id or task_id is required")
		return
	}
	if reviewer := ReviewerFromContext(r.Context()); reviewer != "" {
		req.Reviewer = reviewer
	}

	var status *flow.RunStatus
	var err error
	if req.ThreadID != "" {
		status, err = h.orchestrator.Resume(r.Context(), req.ThreadID, req.Decision, req.Comment, req.Reviewer)
	} else {
		status, err = h.orchestrator.ResumeTask(r.Context(), req.TaskID, req.Decision, req.Comment, req.Reviewer)
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrCheckpointMissing):
			api.WriteNotFound(w, "no suspended workflow for that id")
		case errors.Is(err, flow.ErrNotInterrupted):
			api.WriteConflict(w, "workflow is not awaiting review")
		default:
			h.logger.Error("review submit failed", "thread_id", req.ThreadID,
				"task_id", req.TaskID, "error", err)
			api.WriteInternal(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	tasks, err := h.tasks.ListTasks(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (h *Handler) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/review/tasks/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		api.WriteBadRequest(w, "task id must be numeric")
		return
	}
	task, err := h.tasks.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrTaskNotFound) {
		api.WriteNotFound(w, "task not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	period := strings.TrimPrefix(r.URL.Path, "/api/review/history/")
	if period == "" {
		api.WriteBadRequest(w, "period is required")
		return
	}
	tasks, err := h.tasks.TasksByPeriod(r.Context(), period)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "tasks": tasks, "count": len(tasks)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

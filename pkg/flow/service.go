package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

// MonthlyService drives monthly compliance runs and their review
// lifecycle: start, suspend into a review task, resume on decision.
type MonthlyService struct {
	runner      *Runner[MonthlyState]
	checkpoints *store.CheckpointStore
	reviews     *store.ReviewStore
	notifier    adapters.Notifier
	logger      *slog.Logger

	maxRevisions       int
	maxDataLoadRetries int
}

func NewMonthlyService(graph *Graph[MonthlyState], checkpoints *store.CheckpointStore,
	reviews *store.ReviewStore, notifier adapters.Notifier, logger *slog.Logger) *MonthlyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthlyService{
		runner:             NewRunner(graph, checkpoints, logger),
		checkpoints:        checkpoints,
		reviews:            reviews,
		notifier:           notifier,
		logger:             logger,
		maxRevisions:       DefaultMaxRevisions,
		maxDataLoadRetries: DefaultMaxDataLoadRetries,
	}
}

// WithLimits overrides the revision and data-load retry budgets for
// new runs. Zero keeps the default.
func (svc *MonthlyService) WithLimits(maxRevisions, maxDataLoadRetries int) *MonthlyService {
	if maxRevisions > 0 {
		svc.maxRevisions = maxRevisions
	}
	if maxDataLoadRetries > 0 {
		svc.maxDataLoadRetries = maxDataLoadRetries
	}
	return svc
}

// RunStatus is the externally visible state of one workflow run.
type RunStatus struct {
	ThreadID   string `json:"thread_id"`
	TaskID     int64  `json:"task_id,omitempty"`
	Status     string `json:"status"` // pending | revised | completed
	FinalGrade string `json:"final_grade,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// Run starts a new monthly workflow for the period. When the graph
// suspends for review, a task is created and the reviewer notified.
func (svc *MonthlyService) Run(ctx context.Context, period string) (*RunStatus, error) {
	threadID := uuid.NewString()
	state := NewMonthlyState(period)
	state.MaxRevisions = svc.maxRevisions
	state.MaxRetries["data_load"] = svc.maxDataLoadRetries
	outcome, err := svc.runner.Run(ctx, threadID, state)
	if err != nil {
		return nil, fmt.Errorf("run monthly flow for %s: %w", period, err)
	}
	if !outcome.Interrupted {
		return statusFromOutcome(outcome, 0, "completed"), nil
	}

	taskID, err := svc.createReviewTask(ctx, threadID, &outcome.State, "pending")
	if err != nil {
		return nil, err
	}
	return statusFromOutcome(outcome, taskID, "pending"), nil
}

// Resume applies a reviewer decision to a suspended thread. Revise
// decisions regenerate the report and suspend again until the revision
// limit is hit.
func (svc *MonthlyService) Resume(ctx context.Context, threadID, decision, comment, reviewer string) (*RunStatus, error) {
	flowDecision := decision
	if decision == "approve_with_comment" {
		flowDecision = DecisionApprove
	}

	var task *store.ReviewTask
	if t, err := svc.reviews.PendingTaskForFlow(ctx, threadID); err == nil {
		task, err = svc.reviews.DecideTask(ctx, t.ID, decision, comment, reviewer)
		if err != nil {
			return nil, fmt.Errorf("record decision on task %d: %w", t.ID, err)
		}
	} else if err != store.ErrTaskNotFound {
		return nil, err
	}

	outcome, err := svc.runner.Resume(ctx, threadID, map[string]any{
		"human_decision": flowDecision,
		"human_feedback": comment,
	})
	if err != nil {
		return nil, fmt.Errorf("resume thread %s: %w", threadID, err)
	}

	if !outcome.Interrupted {
		return statusFromOutcome(outcome, outcome.State.TaskID, "completed"), nil
	}

	// Revise loop: the decided task stays active in revised status; the
	// reviewer gets a fresh notification for the regenerated report.
	var taskID int64
	if task != nil {
		taskID = task.ID
		if err := svc.notifier.NotifyHumanReview(ctx, adapters.ReviewNotification{
			TaskID:    taskID,
			Period:    outcome.State.Period,
			Summary:   notificationSummary(&outcome.State),
			ReportURL: outcome.State.ReportPath,
		}); err != nil {
			svc.logger.Error("review notification failed", "task_id", taskID, "error", err)
		}
	}
	return statusFromOutcome(outcome, taskID, "revised"), nil
}

// ResumeTask resolves a task id to its thread and resumes it.
func (svc *MonthlyService) ResumeTask(ctx context.Context, taskID int64, decision, comment, reviewer string) (*RunStatus, error) {
	task, err := svc.reviews.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return svc.Resume(ctx, task.FlowRunID, decision, comment, reviewer)
}

func (svc *MonthlyService) createReviewTask(ctx context.Context, threadID string, s *MonthlyState, status string) (int64, error) {
	summaryJSON := ""
	if s.Summary != nil {
		if data, err := json.Marshal(s.Summary); err == nil {
			summaryJSON = string(data)
		}
	}
	task := &store.ReviewTask{
		Period:        s.Period,
		Status:        status,
		ReportPath:    s.ReportPath,
		SummaryJSON:   summaryJSON,
		FlowRunID:     threadID,
		RevisionCount: s.RevisionCount,
	}
	taskID, err := svc.reviews.CreateTask(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("create review task for %s: %w", threadID, err)
	}

	// The checkpoint carries the task id so the final notification can
	// reference it after resume.
	if _, err := svc.checkpoints.UpdateState(ctx, threadID, map[string]any{"task_id": taskID}); err != nil {
		return 0, fmt.Errorf("attach task %d to thread %s: %w", taskID, threadID, err)
	}

	if err := svc.notifier.NotifyHumanReview(ctx, adapters.ReviewNotification{
		TaskID:    taskID,
		Period:    s.Period,
		Summary:   notificationSummary(s),
		ReportURL: s.ReportPath,
	}); err != nil {
		svc.logger.Error("review notification failed", "task_id", taskID, "error", err)
	}
	return taskID, nil
}

func notificationSummary(s *MonthlyState) map[string]any {
	finalGrade := "N/A"
	if s.Summary != nil {
		finalGrade = s.Summary.FinalGrade
	}
	var flags []string
	if s.Consistency != nil {
		flags = s.Consistency.Issues
	}
	return map[string]any{
		"final_grade":      finalGrade,
		"collateral_grade": s.Collateral.grade(),
		"peg_grade":        s.Peg.grade(),
		"liquidity_grade":  s.Liquidity.grade(),
		"por_grade":        s.PoR.grade(),
		"risk_flags":       flags,
	}
}

func statusFromOutcome(o *Outcome[MonthlyState], taskID int64, status string) *RunStatus {
	rs := &RunStatus{
		ThreadID:   o.ThreadID,
		TaskID:     taskID,
		Status:     status,
		ReportPath: o.State.ReportPath,
	}
	if o.State.Summary != nil {
		rs.FinalGrade = o.State.Summary.FinalGrade
	}
	return rs
}

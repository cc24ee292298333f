package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
	"github.com/kwonlabs/kwon-backplane/pkg/store"
)

type recordingNotifier struct {
	reviews   []adapters.ReviewNotification
	decisions []string
}

func (n *recordingNotifier) NotifyHumanReview(ctx context.Context, note adapters.ReviewNotification) error {
	n.reviews = append(n.reviews, note)
	return nil
}

func (n *recordingNotifier) NotifyDecision(ctx context.Context, taskID int64, period, decision, comment, reportPath string) error {
	n.decisions = append(n.decisions, fmt.Sprintf("%d:%s:%s", taskID, period, decision))
	return nil
}

type fakeReportWriter struct {
	calls int
	fail  bool
}

func (w *fakeReportWriter) WriteMonthly(ctx context.Context, period string, s *MonthlyState) (string, error) {
	w.calls++
	if w.fail {
		return "", errors.New("template engine unavailable")
	}
	return "artifacts/REP-" + period + ".docx", nil
}

func healthyMetrics(period string) *adapters.PeriodMetrics {
	return &adapters.PeriodMetrics{
		Period:             period,
		AvgCollateralRatio: 1.17,
		MinCollateralRatio: 1.08,
		CollateralSamples:  250,
		PegSamples:         120,
		LiquiditySamples:   120,
		AvgPegDeviation:    0.003,
		PegAlertCount:      1,
		DisclosureOnTime:   true,
		AvgLiquidityRatio:  0.25,
		AvgPorFailureRate:  0.0005,
		DaysCovered:        30,
		TotalDays:          31,
		LastUpdateHoursAgo: 2,
	}
}

type flowFixture struct {
	svc         *MonthlyService
	checkpoints *store.CheckpointStore
	reviews     *store.ReviewStore
	notifier    *recordingNotifier
	reports     *fakeReportWriter
}

func newFlowFixture(t *testing.T, metrics map[string]*adapters.PeriodMetrics) *flowFixture {
	t.Helper()
	db, driver, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	checkpoints, err := store.NewCheckpointStore(db, driver)
	require.NoError(t, err)
	reviews, err := store.NewReviewStore(db, driver)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	reports := &fakeReportWriter{}
	graph := NewMonthlyGraph(MonthlyDeps{
		Metrics:  &adapters.StaticMetricSource{Metrics: metrics},
		Reports:  reports,
		Notifier: notifier,
	})
	svc := NewMonthlyService(graph, checkpoints, reviews, notifier, nil)
	return &flowFixture{svc: svc, checkpoints: checkpoints, reviews: reviews, notifier: notifier, reports: reports}
}

func (f *flowFixture) state(t *testing.T, threadID string) MonthlyState {
	t.Helper()
	cp, err := f.checkpoints.Get(context.Background(), threadID)
	require.NoError(t, err)
	var s MonthlyState
	require.NoError(t, json.Unmarshal(cp.State, &s))
	return s
}

func TestMonthlyHappyPathAndApprove(t *testing.T) {
	f := newFlowFixture(t, map[string]*adapters.PeriodMetrics{"2025-10": healthyMetrics("2025-10")})
	ctx := context.Background()

	status, err := f.svc.Run(ctx, "2025-10")
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, "B", status.FinalGrade)
	assert.Equal(t, "artifacts/REP-2025-10.docx", status.ReportPath)
	require.NotZero(t, status.TaskID)

	s := f.state(t, status.ThreadID)
	assert.Equal(t, "A", s.Collateral.Grade)
	assert.Equal(t, "B", s.Peg.Grade)
	assert.Equal(t, "A", s.Disclosure.Grade)
	assert.Equal(t, "B", s.Liquidity.Grade)
	assert.Equal(t, "A", s.PoR.Grade)
	assert.Equal(t, "ok", s.Consistency.Status)
	assert.Equal(t, status.TaskID, s.TaskID)

	require.Len(t, f.notifier.reviews, 1)
	assert.Equal(t, "B", f.notifier.reviews[0].Summary["final_grade"])

	final, err := f.svc.Resume(ctx, status.ThreadID, "approve", "", "kim")
	require.NoError(t, err)
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, "B", final.FinalGrade)

	task, err := f.reviews.GetTask(ctx, status.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "approved", task.Status)

	require.Len(t, f.notifier.decisions, 1)
	assert.Equal(t, fmt.Sprintf("%d:2025-10:approve", status.TaskID), f.notifier.decisions[0])

	cp, err := f.checkpoints.Get(ctx, status.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "completed", cp.Status)
}

func TestMonthlyReviseLoopHitsLimit(t *testing.T) {
	f := newFlowFixture(t, map[string]*adapters.PeriodMetrics{"2025-10": healthyMetrics("2025-10")})
	ctx := context.Background()

	status, err := f.svc.Run(ctx, "2025-10")
	require.NoError(t, err)
	require.Equal(t, "pending", status.Status)
	reportsAfterRun := f.reports.calls

	for i := 1; i <= 3; i++ {
		status, err = f.svc.Resume(ctx, status.ThreadID, "revise", fmt.Sprintf("redo collateral %d", i), "kim")
		require.NoError(t, err)
		assert.Equal(t, "revised", status.Status, "revise %d", i)

		s := f.state(t, status.ThreadID)
		assert.Equal(t, i, s.RevisionCount)
		assert.Equal(t, "revised", s.Summary.RevisionStatus)
		assert.Contains(t, s.Summary.KeyPoints[len(s.Summary.KeyPoints)-1], "redo collateral")
	}
	assert.Equal(t, reportsAfterRun+3, f.reports.calls)

	final, err := f.svc.Resume(ctx, status.ThreadID, "revise", "once more", "kim")
	require.NoError(t, err)
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, "PENDING", final.FinalGrade)

	s := f.state(t, final.ThreadID)
	assert.Equal(t, "limit_reached", s.Summary.RevisionStatus)
	assert.Equal(t, 3, s.RevisionCount)
	// the terminal revise does not regenerate the report
	assert.Equal(t, reportsAfterRun+3, f.reports.calls)
	assert.NotEmpty(t, f.notifier.decisions)
}

func TestMonthlyDataQualityFailTerminal(t *testing.T) {
	bad := healthyMetrics("2025-11")
	bad.CollateralSamples = 20
	f := newFlowFixture(t, map[string]*adapters.PeriodMetrics{"2025-11": bad})

	status, err := f.svc.Run(context.Background(), "2025-11")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, "D", status.FinalGrade)
	assert.Zero(t, status.TaskID)

	s := f.state(t, status.ThreadID)
	assert.Equal(t, "DATA_QUALITY_FAILURE", s.Summary.Error)
	assert.True(t, s.DataQuality.MaxRetryExceeded)
	assert.Equal(t, DefaultMaxDataLoadRetries, s.DataQuality.RetryCount)
}

func TestMonthlyConsistencyRecheckConverges(t *testing.T) {
	skewed := healthyMetrics("2025-12")
	skewed.AvgCollateralRatio = 1.20 // A
	skewed.AvgLiquidityRatio = 0.05  // D
	f := newFlowFixture(t, map[string]*adapters.PeriodMetrics{"2025-12": skewed})

	status, err := f.svc.Run(context.Background(), "2025-12")
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, "D", status.FinalGrade)

	s := f.state(t, status.ThreadID)
	assert.Contains(t, s.Consistency.Issues, "collateral_A_but_liquidity_D")
}

func TestMonthlyReportFallbackPath(t *testing.T) {
	f := newFlowFixture(t, map[string]*adapters.PeriodMetrics{"2025-10": healthyMetrics("2025-10")})
	f.reports.fail = true

	status, err := f.svc.Run(context.Background(), "2025-10")
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, "REP-2025-10.docx", status.ReportPath)
}

func TestRunnerPrimitives(t *testing.T) {
	db, driver, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	checkpoints, err := store.NewCheckpointStore(db, driver)
	require.NoError(t, err)

	type counterState struct {
		N int `json:"n"`
	}
	g := NewGraph[counterState]("inc").
		AddNode("inc", func(ctx context.Context, s counterState) (counterState, error) {
			s.N++
			return s, nil
		}).
		AddConditionalEdges("inc", func(s counterState) string {
			if s.N < 3 {
				return "again"
			}
			return "done"
		}, map[string]string{"again": "inc", "done": End})

	r := NewRunner(g, checkpoints, nil)
	out, err := r.Run(context.Background(), "thread-1", counterState{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.State.N)
	assert.False(t, out.Interrupted)

	_, err = r.Resume(context.Background(), "thread-1", nil)
	assert.ErrorIs(t, err, ErrNotInterrupted)

	_, err = r.Resume(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, store.ErrCheckpointMissing)
}

func TestRunnerRecursionLimit(t *testing.T) {
	db, driver, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	checkpoints, err := store.NewCheckpointStore(db, driver)
	require.NoError(t, err)

	type nullState struct{}
	g := NewGraph[nullState]("loop").
		AddNode("loop", func(ctx context.Context, s nullState) (nullState, error) { return s, nil }).
		AddEdge("loop", "loop").
		WithRecursionLimit(10)

	r := NewRunner(g, checkpoints, nil)
	_, err = r.Run(context.Background(), "thread-loop", nullState{})
	assert.ErrorIs(t, err, ErrRecursionLimit)
}

func TestGradeTables(t *testing.T) {
	assert.Equal(t, "A", gradeCollateralRatio(1.15))
	assert.Equal(t, "B", gradeCollateralRatio(1.12))
	assert.Equal(t, "C", gradeCollateralRatio(1.05))
	assert.Equal(t, "D", gradeCollateralRatio(1.02))

	assert.Equal(t, "A", gradePegDeviation(0.002))
	assert.Equal(t, "B", gradePegDeviation(0.004))
	assert.Equal(t, "C", gradePegDeviation(0.010))
	assert.Equal(t, "D", gradePegDeviation(0.011))

	assert.Equal(t, "A", gradeLiquidityRatio(0.35))
	assert.Equal(t, "B", gradeLiquidityRatio(0.20))
	assert.Equal(t, "C", gradeLiquidityRatio(0.10))
	assert.Equal(t, "D", gradeLiquidityRatio(0.09))

	grade, level := gradePoRFailureRate(0.02)
	assert.Equal(t, "D", grade)
	assert.Equal(t, "CRIT", level)
	grade, level = gradePoRFailureRate(0.005)
	assert.Equal(t, "B", grade)
	assert.Equal(t, "WARN", level)
	grade, level = gradePoRFailureRate(0.0001)
	assert.Equal(t, "A", grade)
	assert.Equal(t, "OK", level)

	assert.Equal(t, "D", worstGrade([]string{"A", "B", "D", "A", "B"}))
	assert.Equal(t, "C", worstGrade([]string{"A", ""}))
	assert.Equal(t, "F", worstGrade([]string{"A", "F"}))
}

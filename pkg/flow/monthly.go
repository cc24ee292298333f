package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kwonlabs/kwon-backplane/pkg/adapters"
)

// Stage names of the monthly compliance graph.
const (
	NodeLoadPeriodData    = "load_period_data"
	NodeDataQualityCheck  = "data_quality_check"
	NodeEvalCollateral    = "eval_collateral_monthly"
	NodeEvalPeg           = "eval_peg_monthly"
	NodeEvalDisclosure    = "eval_disclosure_monthly"
	NodeEvalLiquidity     = "eval_liquidity_monthly"
	NodeEvalPoR           = "eval_por_monthly"
	NodeCrossCheck        = "cross_check_consistency"
	NodeSummarize         = "summarize_conclusion"
	NodeGenerateReport    = "generate_report"
	NodeHumanReview       = "human_review"
	NodeNotify            = "notify_approved_report"
	NodeDataQualityFail   = "data_quality_fail"
)

// Reviewer decisions carried in MonthlyState.HumanDecision.
const (
	DecisionPending = "pending"
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionRevise  = "revise"
)

// DefaultMaxRevisions bounds the revise loop per thread.
const DefaultMaxRevisions = 3

// DefaultMaxDataLoadRetries bounds data reloading on quality gaps.
const DefaultMaxDataLoadRetries = 3

// Evaluation is one dimension's grading result. Metric fields are
// populated per dimension; a stage failure leaves a fallback F grade.
type Evaluation struct {
	Grade             string  `json:"grade"`
	RiskLevel         string  `json:"risk_level,omitempty"`
	RiskScore         float64 `json:"risk_score"`
	AvgRatio          float64 `json:"avg_ratio,omitempty"`
	MinRatio          float64 `json:"min_ratio,omitempty"`
	AvgDepeg          float64 `json:"avg_depeg,omitempty"`
	AlertCount        int     `json:"alert_count,omitempty"`
	AvgLiquidityRatio float64 `json:"avg_liquidity_ratio,omitempty"`
	AvgFailureRate    float64 `json:"avg_failure_rate,omitempty"`
	LateReports       int     `json:"late_reports,omitempty"`
	MissingReports    int     `json:"missing_reports,omitempty"`
	LowSample         bool    `json:"low_sample,omitempty"`
	Notes             string  `json:"notes,omitempty"`
	Error             string  `json:"error,omitempty"`
	Fallback          bool    `json:"fallback,omitempty"`
}

func (e *Evaluation) grade() string {
	if e == nil {
		return "C"
	}
	return e.Grade
}

// DataQuality is the gate result before any grading happens.
type DataQuality struct {
	Coverage         float64  `json:"coverage"`
	SampleSizeOK     bool     `json:"sample_size_ok"`
	Completeness     bool     `json:"completeness"`
	RecentData       bool     `json:"recent_data"`
	CriticalIssues   []string `json:"critical_issues"`
	HasCriticalGap   bool     `json:"has_critical_gap"`
	RetryCount       int      `json:"retry_count"`
	MaxRetryExceeded bool     `json:"max_retry_exceeded"`
}

// Consistency is the cross-dimension conflict check result.
type Consistency struct {
	Status string   `json:"status"` // ok | recheck_collateral | recheck_liquidity
	Issues []string `json:"issues"`
}

// Summary is the aggregated conclusion.
type Summary struct {
	FinalGrade     string   `json:"final_grade"`
	KeyPoints      []string `json:"key_points,omitempty"`
	HumanFeedback  string   `json:"human_feedback,omitempty"`
	RevisionStatus string   `json:"revision_status,omitempty"` // initial | revised | limit_reached
	Error          string   `json:"error,omitempty"`
	Details        string   `json:"details,omitempty"`
}

// MonthlyState is the value object carried across stages. It serializes
// to JSON for the checkpoint store.
type MonthlyState struct {
	Period        string                  `json:"period"`
	RawData       *adapters.PeriodMetrics `json:"raw_data,omitempty"`
	DataQuality   *DataQuality            `json:"data_quality,omitempty"`
	Collateral    *Evaluation             `json:"collateral_monthly,omitempty"`
	Peg           *Evaluation             `json:"peg_monthly,omitempty"`
	Disclosure    *Evaluation             `json:"disclosure_monthly,omitempty"`
	Liquidity     *Evaluation             `json:"liquidity_monthly,omitempty"`
	PoR           *Evaluation             `json:"por_monthly,omitempty"`
	Consistency   *Consistency            `json:"consistency,omitempty"`
	Summary       *Summary                `json:"summary,omitempty"`
	ReportPath    string                  `json:"report_path,omitempty"`
	TaskID        int64                   `json:"task_id,omitempty"`
	HumanDecision string                  `json:"human_decision,omitempty"`
	HumanFeedback string                  `json:"human_feedback,omitempty"`
	RevisionCount int                     `json:"revision_count"`
	MaxRevisions  int                     `json:"max_revisions"`
	RetryCounts   map[string]int          `json:"retry_counts,omitempty"`
	MaxRetries    map[string]int          `json:"max_retries,omitempty"`
}

// NewMonthlyState seeds a fresh run for one period.
func NewMonthlyState(period string) MonthlyState {
	return MonthlyState{
		Period:        period,
		HumanDecision: DecisionPending,
		MaxRevisions:  DefaultMaxRevisions,
		MaxRetries:    map[string]int{"data_load": DefaultMaxDataLoadRetries},
	}
}

// ReportWriter renders the monthly report artifact and returns its path.
type ReportWriter interface {
	WriteMonthly(ctx context.Context, period string, s *MonthlyState) (string, error)
}

// MonthlyDeps are the external collaborators of the monthly graph.
type MonthlyDeps struct {
	Metrics  adapters.MetricSource
	Reports  ReportWriter
	Notifier adapters.Notifier
	Logger   *slog.Logger
}

// NewMonthlyGraph wires the compliance stages into a resumable graph
// with a human-review interrupt.
func NewMonthlyGraph(deps MonthlyDeps) *Graph[MonthlyState] {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m := &monthlyNodes{deps: deps}

	g := NewGraph[MonthlyState](NodeLoadPeriodData)
	g.AddNode(NodeLoadPeriodData, m.loadPeriodData)
	g.AddNode(NodeDataQualityCheck, m.dataQualityCheck)
	g.AddNode(NodeEvalCollateral, m.evalCollateral)
	g.AddNode(NodeEvalPeg, m.evalPeg)
	g.AddNode(NodeEvalDisclosure, m.evalDisclosure)
	g.AddNode(NodeEvalLiquidity, m.evalLiquidity)
	g.AddNode(NodeEvalPoR, m.evalPoR)
	g.AddNode(NodeCrossCheck, m.crossCheckConsistency)
	g.AddNode(NodeSummarize, m.summarizeConclusion)
	g.AddNode(NodeGenerateReport, m.generateReport)
	g.AddNode(NodeHumanReview, m.humanReview)
	g.AddNode(NodeNotify, m.notifyReport)
	g.AddNode(NodeDataQualityFail, m.dataQualityFail)

	g.AddEdge(NodeLoadPeriodData, NodeDataQualityCheck)
	g.AddEdge(NodeEvalCollateral, NodeEvalPeg)
	g.AddEdge(NodeEvalPeg, NodeEvalDisclosure)
	g.AddEdge(NodeEvalDisclosure, NodeEvalLiquidity)
	g.AddEdge(NodeEvalLiquidity, NodeEvalPoR)
	g.AddEdge(NodeEvalPoR, NodeCrossCheck)
	g.AddEdge(NodeGenerateReport, NodeHumanReview)

	g.AddConditionalEdges(NodeDataQualityCheck, routeAfterDataQuality, map[string]string{
		"retry": NodeLoadPeriodData,
		"ok":    NodeEvalCollateral,
		"fail":  NodeDataQualityFail,
	})
	g.AddConditionalEdges(NodeCrossCheck, routeAfterConsistency, map[string]string{
		"ok":                 NodeSummarize,
		"recheck_collateral": NodeEvalCollateral,
		"recheck_liquidity":  NodeEvalLiquidity,
	})
	// A revise past the limit skips report regeneration and terminates
	// with the pending state.
	g.AddConditionalEdges(NodeSummarize, routeAfterSummarize, map[string]string{
		"report":   NodeGenerateReport,
		"terminal": NodeNotify,
	})
	g.AddConditionalEdges(NodeHumanReview, routeAfterHumanReview, map[string]string{
		"approve": NodeNotify,
		"revise":  NodeSummarize,
	})

	g.InterruptBefore(NodeHumanReview)
	return g
}

type monthlyNodes struct {
	deps MonthlyDeps
}

func (m *monthlyNodes) loadPeriodData(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	metrics, err := m.deps.Metrics.PeriodMetrics(ctx, s.Period)
	if err != nil {
		m.deps.Logger.Warn("period data load failed", "period", s.Period, "error", err)
		s.RawData = &adapters.PeriodMetrics{Period: s.Period}
		return s, nil
	}
	m.deps.Logger.Info("period data loaded", "period", s.Period,
		"days_covered", metrics.DaysCovered, "collateral_samples", metrics.CollateralSamples)
	s.RawData = metrics
	return s, nil
}

func (m *monthlyNodes) dataQualityCheck(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	raw := s.RawData
	if raw == nil {
		raw = &adapters.PeriodMetrics{}
	}
	if s.RetryCounts == nil {
		s.RetryCounts = map[string]int{}
	}
	maxRetries := DefaultMaxDataLoadRetries
	if v, ok := s.MaxRetries["data_load"]; ok {
		maxRetries = v
	}
	retries := s.RetryCounts["data_load"]

	totalDays := raw.TotalDays
	if totalDays <= 0 {
		totalDays = 30
	}
	coverage := float64(raw.DaysCovered) / float64(totalDays)
	sampleSizeOK := raw.CollateralSamples >= 100
	completeness := raw.CollateralSamples > 0 && raw.PegSamples > 0 && raw.LiquiditySamples > 0
	recent := raw.LastUpdateHoursAgo < 24 && raw.LastUpdateHoursAgo >= 0

	var issues []string
	if coverage < 0.8 {
		issues = append(issues, "coverage")
	}
	if !sampleSizeOK {
		issues = append(issues, "sample_size_ok")
	}
	if !completeness {
		issues = append(issues, "completeness")
	}
	if !recent {
		issues = append(issues, "recent_data")
	}

	hasGap := len(issues) > 0
	exceeded := hasGap && retries >= maxRetries

	s.DataQuality = &DataQuality{
		Coverage:         coverage,
		SampleSizeOK:     sampleSizeOK,
		Completeness:     completeness,
		RecentData:       recent,
		CriticalIssues:   issues,
		HasCriticalGap:   hasGap,
		RetryCount:       retries,
		MaxRetryExceeded: exceeded,
	}
	if hasGap && !exceeded {
		s.RetryCounts["data_load"] = retries + 1
	}

	m.deps.Logger.Info("data quality checked", "period", s.Period,
		"coverage", coverage, "issues", issues, "retry", retries, "max_exceeded", exceeded)
	return s, nil
}

func (m *monthlyNodes) evalCollateral(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	if s.RawData == nil {
		s.Collateral = fallbackEval("raw_data missing for collateral evaluation")
		return s, nil
	}
	grade := gradeCollateralRatio(s.RawData.AvgCollateralRatio)
	s.Collateral = &Evaluation{
		Grade:     grade,
		RiskLevel: gradeToRiskLevel(grade),
		RiskScore: gradeToScore(grade),
		AvgRatio:  s.RawData.AvgCollateralRatio,
		MinRatio:  s.RawData.MinCollateralRatio,
		LowSample: s.RawData.CollateralSamples > 0 && s.RawData.CollateralSamples < 100,
	}
	m.deps.Logger.Info("collateral evaluated", "period", s.Period,
		"grade", grade, "avg_ratio", s.RawData.AvgCollateralRatio)
	return s, nil
}

func (m *monthlyNodes) evalPeg(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	if s.RawData == nil {
		s.Peg = fallbackEval("raw_data missing for peg evaluation")
		return s, nil
	}
	grade := gradePegDeviation(s.RawData.AvgPegDeviation)
	s.Peg = &Evaluation{
		Grade:      grade,
		RiskLevel:  gradeToRiskLevel(grade),
		RiskScore:  gradeToScore(grade),
		AvgDepeg:   s.RawData.AvgPegDeviation,
		AlertCount: s.RawData.PegAlertCount,
	}
	m.deps.Logger.Info("peg evaluated", "period", s.Period,
		"grade", grade, "avg_depeg", s.RawData.AvgPegDeviation)
	return s, nil
}

func (m *monthlyNodes) evalDisclosure(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	if s.RawData == nil {
		s.Disclosure = fallbackEval("raw_data missing for disclosure evaluation")
		return s, nil
	}
	eval := &Evaluation{Grade: "A", Notes: "All disclosures submitted on time."}
	if !s.RawData.DisclosureOnTime {
		eval.LateReports = 1
		eval.Notes = fmt.Sprintf("Disclosure filed %d day(s) late.", s.RawData.DisclosureLagDays)
		eval.Grade = "C"
		if s.RawData.DisclosureLagDays > 7 {
			eval.Grade = "D"
		}
	}
	eval.RiskLevel = gradeToRiskLevel(eval.Grade)
	eval.RiskScore = gradeToScore(eval.Grade)
	s.Disclosure = eval
	m.deps.Logger.Info("disclosure evaluated", "period", s.Period, "grade", eval.Grade)
	return s, nil
}

func (m *monthlyNodes) evalLiquidity(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	if s.RawData == nil {
		s.Liquidity = fallbackEval("raw_data missing for liquidity evaluation")
		return s, nil
	}
	grade := gradeLiquidityRatio(s.RawData.AvgLiquidityRatio)
	s.Liquidity = &Evaluation{
		Grade:             grade,
		RiskLevel:         gradeToRiskLevel(grade),
		RiskScore:         gradeToScore(grade),
		AvgLiquidityRatio: s.RawData.AvgLiquidityRatio,
	}
	m.deps.Logger.Info("liquidity evaluated", "period", s.Period,
		"grade", grade, "avg_liquidity", s.RawData.AvgLiquidityRatio)
	return s, nil
}

func (m *monthlyNodes) evalPoR(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	if s.RawData == nil {
		s.PoR = fallbackEval("raw_data missing for por evaluation")
		return s, nil
	}
	grade, level := gradePoRFailureRate(s.RawData.AvgPorFailureRate)
	s.PoR = &Evaluation{
		Grade:          grade,
		RiskLevel:      level,
		RiskScore:      gradeToScore(grade),
		AvgFailureRate: s.RawData.AvgPorFailureRate,
	}
	m.deps.Logger.Info("por evaluated", "period", s.Period,
		"grade", grade, "failure_rate", s.RawData.AvgPorFailureRate)
	return s, nil
}

func (m *monthlyNodes) crossCheckConsistency(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	var issues []string

	if s.Collateral.grade() == "A" && s.Liquidity.grade() == "D" {
		issues = append(issues, "collateral_A_but_liquidity_D")
	}
	if s.Peg.grade() == "D" && s.Collateral.grade() == "A" && s.Liquidity.grade() == "A" {
		issues = append(issues, "peg_D_but_others_A")
	}
	if s.PoR.grade() == "D" &&
		s.Collateral.grade() == "A" && s.Liquidity.grade() == "A" && s.Peg.grade() == "A" {
		issues = append(issues, "por_D_but_risks_A")
	}
	if s.Collateral != nil && s.Collateral.LowSample {
		issues = append(issues, "collateral_low_sample")
	}

	status := "ok"
	if len(issues) > 0 {
		status = "recheck_collateral"
		for _, issue := range issues {
			if issue == "collateral_A_but_liquidity_D" {
				status = "recheck_liquidity"
				break
			}
		}
	}
	// A PoR conflict alone is flagged but does not trigger a recheck;
	// re-running PoR over the same logs cannot change the outcome.
	if len(issues) == 1 && issues[0] == "por_D_but_risks_A" {
		status = "ok"
	}
	// A recheck over unchanged inputs converges to the same issues, so
	// rerunning a second time is pointless.
	if s.Consistency != nil && s.Consistency.Status == status && len(issues) > 0 {
		status = "ok"
	}

	s.Consistency = &Consistency{Status: status, Issues: issues}
	m.deps.Logger.Info("consistency checked", "period", s.Period, "status", status, "issues", issues)
	return s, nil
}

func (m *monthlyNodes) summarizeConclusion(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	feedback := s.HumanFeedback

	if s.HumanDecision == DecisionRevise && s.RevisionCount >= s.MaxRevisions {
		s.Summary = &Summary{
			FinalGrade: "PENDING",
			KeyPoints: []string{
				"Automatic regeneration limit reached.",
				"Further revision requires direct human review.",
			},
			HumanFeedback:  feedback,
			RevisionStatus: "limit_reached",
		}
		return s, nil
	}

	grades := []string{
		s.Collateral.grade(), s.Peg.grade(), s.Disclosure.grade(),
		s.Liquidity.grade(), s.PoR.grade(),
	}
	consistencyStatus := "unknown"
	if s.Consistency != nil {
		consistencyStatus = s.Consistency.Status
	}

	keyPoints := []string{
		"Collateral grade: " + s.Collateral.grade(),
		"Peg grade: " + s.Peg.grade(),
		"Disclosure grade: " + s.Disclosure.grade(),
		"Liquidity grade: " + s.Liquidity.grade(),
		"PoR grade: " + s.PoR.grade(),
		"Consistency status: " + consistencyStatus,
	}
	if feedback != "" {
		keyPoints = append(keyPoints, "[Reviewer Feedback] "+feedback)
	}

	status := "initial"
	if s.HumanDecision == DecisionRevise {
		status = "revised"
		s.RevisionCount++
	}
	s.Summary = &Summary{
		FinalGrade:     worstGrade(grades),
		KeyPoints:      keyPoints,
		HumanFeedback:  feedback,
		RevisionStatus: status,
	}
	m.deps.Logger.Info("conclusion summarized", "period", s.Period,
		"final_grade", s.Summary.FinalGrade, "revision_status", status)
	return s, nil
}

func (m *monthlyNodes) generateReport(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	path, err := m.deps.Reports.WriteMonthly(ctx, s.Period, &s)
	if err != nil {
		m.deps.Logger.Error("report generation failed", "period", s.Period, "error", err)
		s.ReportPath = "REP-" + s.Period + ".docx"
		return s, nil
	}
	m.deps.Logger.Info("report generated", "period", s.Period, "path", path)
	s.ReportPath = path
	return s, nil
}

func (m *monthlyNodes) humanReview(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	return s, nil
}

func (m *monthlyNodes) notifyReport(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	decision := s.HumanDecision
	if decision == "" || decision == DecisionPending {
		decision = DecisionApprove
	}
	err := m.deps.Notifier.NotifyDecision(ctx, s.TaskID, s.Period, decision, s.HumanFeedback, s.ReportPath)
	if err != nil {
		m.deps.Logger.Error("final notification failed", "period", s.Period, "error", err)
	}
	s.HumanDecision = decision
	return s, nil
}

func (m *monthlyNodes) dataQualityFail(ctx context.Context, s MonthlyState) (MonthlyState, error) {
	m.deps.Logger.Error("data quality failed after max retries",
		"period", s.Period, "issues", s.DataQuality.CriticalIssues)
	s.Summary = &Summary{
		FinalGrade: "D",
		Error:      "DATA_QUALITY_FAILURE",
		Details:    "Max retries exceeded during data loading",
	}
	return s, nil
}

func fallbackEval(msg string) *Evaluation {
	return &Evaluation{Grade: "F", Error: msg, Fallback: true}
}

func routeAfterDataQuality(s MonthlyState) string {
	if s.DataQuality == nil {
		return "fail"
	}
	if s.DataQuality.MaxRetryExceeded {
		return "fail"
	}
	if s.DataQuality.HasCriticalGap {
		return "retry"
	}
	return "ok"
}

func routeAfterConsistency(s MonthlyState) string {
	if s.Consistency == nil {
		return "ok"
	}
	switch s.Consistency.Status {
	case "recheck_collateral", "recheck_liquidity":
		return s.Consistency.Status
	default:
		return "ok"
	}
}

func routeAfterSummarize(s MonthlyState) string {
	if s.Summary != nil && s.Summary.RevisionStatus == "limit_reached" {
		return "terminal"
	}
	return "report"
}

func routeAfterHumanReview(s MonthlyState) string {
	if s.HumanDecision == DecisionRevise {
		return "revise"
	}
	return "approve"
}

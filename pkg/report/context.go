// Package report renders the monthly compliance document from workflow
// state, filling {{key}} placeholders in a DOCX template.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/kwonlabs/kwon-backplane/pkg/flow"
)

// Recommendation text per final grade.
var recommendations = map[string]string{
	"A": "All compliance requirements are met.",
	"B": "Most requirements are met; keep monitoring the flagged indicators.",
	"C": "Several areas need improvement. Prepare a remediation plan.",
	"D": "Immediate action required. Convene the emergency response team.",
	"F": "Critical violations found. Suspend operations immediately.",
}

// BuildContext flattens workflow state into the placeholder map the
// template consumes. Every value is already formatted for display.
func BuildContext(period string, s *flow.MonthlyState, now time.Time) map[string]string {
	finalGrade := "N/A"
	var keyPoints []string
	if s.Summary != nil {
		finalGrade = s.Summary.FinalGrade
		keyPoints = s.Summary.KeyPoints
	}

	consistencyStatus := "ok"
	consistencyIssues := "none"
	if s.Consistency != nil {
		consistencyStatus = s.Consistency.Status
		if len(s.Consistency.Issues) > 0 {
			consistencyIssues = strings.Join(s.Consistency.Issues, ", ")
		}
	}

	recommendation, ok := recommendations[finalGrade]
	if !ok {
		recommendation = "Assessment unavailable."
	}

	ctx := map[string]string{
		"period":       period,
		"generated_at": now.Format("2006-01-02 15:04"),

		"final_grade":    finalGrade,
		"recommendation": recommendation,

		"collateral_grade":      evalGrade(s.Collateral),
		"collateral_avg_ratio":  percent(evalField(s.Collateral, func(e *flow.Evaluation) float64 { return e.AvgRatio }), 2),
		"collateral_min_ratio":  percent(evalField(s.Collateral, func(e *flow.Evaluation) float64 { return e.MinRatio }), 2),
		"collateral_risk_level": evalRisk(s.Collateral),

		"peg_grade":       evalGrade(s.Peg),
		"peg_avg_depeg":   percent(evalField(s.Peg, func(e *flow.Evaluation) float64 { return e.AvgDepeg }), 3),
		"peg_alert_count": fmt.Sprintf("%d", evalAlerts(s.Peg)),
		"peg_risk_level":  evalRisk(s.Peg),

		"liquidity_grade":      evalGrade(s.Liquidity),
		"liquidity_avg_ratio":  percent(evalField(s.Liquidity, func(e *flow.Evaluation) float64 { return e.AvgLiquidityRatio }), 1),
		"liquidity_risk_level": evalRisk(s.Liquidity),

		"por_grade":        evalGrade(s.PoR),
		"por_failure_rate": percent(evalField(s.PoR, func(e *flow.Evaluation) float64 { return e.AvgFailureRate }), 2),
		"por_risk_level":   evalRisk(s.PoR),

		"consistency_status": consistencyStatus,
		"consistency_issues": consistencyIssues,

		"key_points": strings.Join(keyPoints, "\n"),
	}
	return ctx
}

func percent(v float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, v*100)
}

func evalGrade(e *flow.Evaluation) string {
	if e == nil {
		return "N/A"
	}
	return e.Grade
}

func evalRisk(e *flow.Evaluation) string {
	if e == nil || e.RiskLevel == "" {
		return "N/A"
	}
	return e.RiskLevel
}

func evalAlerts(e *flow.Evaluation) int {
	if e == nil {
		return 0
	}
	return e.AlertCount
}

func evalField(e *flow.Evaluation, get func(*flow.Evaluation) float64) float64 {
	if e == nil {
		return 0
	}
	return get(e)
}

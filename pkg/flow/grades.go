package flow

// Component grades A (best) through D, with F reserved for stage failures.

// Collateral ratio = reserves / issuance.
const (
	collateralGradeA = 1.15
	collateralGradeB = 1.10
	collateralGradeC = 1.03
)

// Peg deviation = |price - 1.0| against the 1 KRW target; lower is better.
const (
	pegGradeA = 0.002
	pegGradeB = 0.005
	pegGradeC = 0.010
)

// Liquidity ratio = immediately-liquid assets / total liabilities.
const (
	liquidityGradeA = 0.30
	liquidityGradeB = 0.20
	liquidityGradeC = 0.10
)

// Proof-of-reserve verification failure rates.
const (
	porFailureCritical = 0.01
	porFailureWarning  = 0.001
)

func gradeCollateralRatio(ratio float64) string {
	switch {
	case ratio >= collateralGradeA:
		return "A"
	case ratio >= collateralGradeB:
		return "B"
	case ratio >= collateralGradeC:
		return "C"
	default:
		return "D"
	}
}

func gradePegDeviation(dev float64) string {
	switch {
	case dev <= pegGradeA:
		return "A"
	case dev <= pegGradeB:
		return "B"
	case dev <= pegGradeC:
		return "C"
	default:
		return "D"
	}
}

func gradeLiquidityRatio(ratio float64) string {
	switch {
	case ratio >= liquidityGradeA:
		return "A"
	case ratio >= liquidityGradeB:
		return "B"
	case ratio >= liquidityGradeC:
		return "C"
	default:
		return "D"
	}
}

func gradePoRFailureRate(rate float64) (grade, level string) {
	switch {
	case rate >= porFailureCritical:
		return "D", "CRIT"
	case rate >= porFailureWarning:
		return "B", "WARN"
	default:
		return "A", "OK"
	}
}

func gradeToRiskLevel(grade string) string {
	switch grade {
	case "D", "F":
		return "CRIT"
	case "C":
		return "WARN"
	default:
		return "OK"
	}
}

// gradeToScore maps a grade onto [0, 1], 0 best. Used by report charts.
func gradeToScore(grade string) float64 {
	switch grade {
	case "A":
		return 0.0
	case "B":
		return 0.3
	case "C":
		return 0.6
	case "D", "F":
		return 1.0
	default:
		return 0.6
	}
}

var gradeRank = map[string]int{"A": 4, "B": 3, "C": 2, "D": 1, "F": 0}

// worstGrade picks the lowest grade across dimensions; unknown grades
// count as C.
func worstGrade(grades []string) string {
	worst := "A"
	worstRank := 4
	for _, g := range grades {
		rank, ok := gradeRank[g]
		if !ok {
			rank = 2
			g = "C"
		}
		if rank < worstRank {
			worstRank = rank
			worst = g
		}
	}
	return worst
}

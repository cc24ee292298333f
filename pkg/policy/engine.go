package policy

import (
	"fmt"
	"log/slog"
	"sort"
)

// Engine evaluates portfolios against one policy configuration. Custom
// rules are compiled once at construction.
type Engine struct {
	cfg    Config
	rules  []compiledRule
	logger *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := compileRules(cfg.CustomRules)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, rules: rules, logger: logger}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Evaluate runs every check against the portfolio and aggregates the
// result. The portfolio is normalized first; custody agents never count.
func (e *Engine) Evaluate(p Portfolio) (*Report, error) {
	norm := Normalize(p, e.cfg)

	total := 0.0
	for _, ex := range norm.Exposures {
		total += ex.Amount
	}
	report := &Report{AsOf: p.AsOf, Total: total, Violations: []Violation{}}
	if total <= 0 {
		report.Summary = summarize(nil)
		return report, nil
	}

	var violations []Violation
	violations = append(violations, e.checkSingleLimits(norm, total)...)
	violations = append(violations, e.checkGroupLimits(norm, total)...)
	violations = append(violations, e.checkRatingLimits(norm, total)...)
	violations = append(violations, e.checkMaturityBands(norm, total)...)

	custom, err := e.evalCustomRules(norm, total)
	if err != nil {
		return nil, err
	}
	violations = append(violations, custom...)

	report.Violations = violations
	report.HighestLevel = highestLevel(violations)
	report.Summary = summarize(violations)
	report.Suggestions = Suggest(violations, total)

	e.logger.Info("policy evaluation complete",
		"total", total, "violations", len(violations), "highest", report.HighestLevel)
	return report, nil
}

// severity classifies a share against a limit: CRITICAL at or above the
// limit, WARNING within the warning band below it, "" otherwise.
func (e *Engine) severity(share, limit float64) string {
	if limit <= 0 {
		return ""
	}
	ratio := share / limit
	switch {
	case ratio >= 1.0:
		return LevelCritical
	case ratio >= e.cfg.WarningRatio:
		return LevelWarning
	default:
		return ""
	}
}

func (e *Engine) checkSingleLimits(p Portfolio, total float64) []Violation {
	var out []Violation
	for _, ex := range p.Exposures {
		limit := e.cfg.SingleLimit
		if ex.Type == TypePolicyBank {
			limit = e.cfg.PolicyBankLimit
		}
		share := ex.Amount / total
		level := e.severity(share, limit)
		if level == "" {
			continue
		}
		out = append(out, Violation{
			Type:         ViolationExposureLimit,
			Code:         CodeSingleLimit,
			Level:        level,
			BankID:       ex.BankID,
			Share:        share,
			Limit:        limit,
			ExcessAmount: excess(share, limit, total),
			Message: fmt.Sprintf("%s holds %.1f%% of reserves against a %.0f%% single-counterparty limit",
				ex.BankID, share*100, limit*100),
		})
	}
	return out
}

func (e *Engine) checkGroupLimits(p Portfolio, total float64) []Violation {
	byGroup := map[string]float64{}
	for _, ex := range p.Exposures {
		if ex.Group == "" {
			continue
		}
		byGroup[ex.Group] += ex.Amount
	}

	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []Violation
	for _, g := range groups {
		share := byGroup[g] / total
		level := e.severity(share, e.cfg.GroupLimit)
		if level == "" {
			continue
		}
		out = append(out, Violation{
			Type:         ViolationExposureLimit,
			Code:         CodeGroupLimit,
			Level:        level,
			Group:        g,
			Share:        share,
			Limit:        e.cfg.GroupLimit,
			ExcessAmount: excess(share, e.cfg.GroupLimit, total),
			Message: fmt.Sprintf("group %s holds %.1f%% of reserves against a %.0f%% group limit",
				g, share*100, e.cfg.GroupLimit*100),
		})
	}
	return out
}

func (e *Engine) checkRatingLimits(p Portfolio, total float64) []Violation {
	var out []Violation
	for _, ex := range p.Exposures {
		base := e.cfg.SingleLimit
		if ex.Type == TypePolicyBank {
			base = e.cfg.PolicyBankLimit
		}
		limit := base * e.cfg.ratingMultiplier(ex.Rating)
		if limit >= base {
			// AAA keeps the full limit; the plain single check covers it
			continue
		}
		share := ex.Amount / total
		level := e.severity(share, limit)
		if level == "" {
			continue
		}
		out = append(out, Violation{
			Type:         ViolationRatingLimit,
			Code:         CodeRatingLimit,
			Level:        level,
			BankID:       ex.BankID,
			Share:        share,
			Limit:        limit,
			ExcessAmount: excess(share, limit, total),
			Message: fmt.Sprintf("%s (rating %s) holds %.1f%% against a rating-adjusted limit of %.1f%%",
				ex.BankID, ex.Rating, share*100, limit*100),
		})
	}
	return out
}

func (e *Engine) checkMaturityBands(p Portfolio, total float64) []Violation {
	byBucket := map[string]float64{}
	for _, ex := range p.Exposures {
		for bucket, amount := range ex.Maturities {
			byBucket[bucket] += amount
		}
	}

	buckets := []string{BucketOvernight, Bucket7D, Bucket1M, Bucket3M}
	var out []Violation
	for _, bucket := range buckets {
		band, ok := e.cfg.MaturityBands[bucket]
		if !ok {
			continue
		}
		share := byBucket[bucket] / total

		if share > band.Max {
			out = append(out, Violation{
				Type:         ViolationMaturity,
				Code:         CodeMaturityOver,
				Level:        e.severity(share, band.Max),
				Bucket:       bucket,
				Direction:    DirectionOver,
				Share:        share,
				Limit:        band.Max,
				ExcessAmount: excess(share, band.Max, total),
				Message: fmt.Sprintf("bucket %s at %.1f%% exceeds its %.0f%% ceiling",
					bucket, share*100, band.Max*100),
			})
			continue
		}
		if share < band.Min {
			// deep shortfalls are critical: below 90% of the floor
			level := LevelWarning
			if share < band.Min*e.cfg.WarningRatio {
				level = LevelCritical
			}
			out = append(out, Violation{
				Type:      ViolationMaturity,
				Code:      CodeMaturityUnder,
				Level:     level,
				Bucket:    bucket,
				Direction: DirectionUnder,
				Share:  share,
				Limit:  band.Min,
				Message: fmt.Sprintf("bucket %s at %.1f%% is below its %.0f%% floor",
					bucket, share*100, band.Min*100),
			})
		}
	}
	return out
}

func excess(share, limit, total float64) float64 {
	if share <= limit {
		return 0
	}
	return (share - limit) * total
}

func highestLevel(violations []Violation) string {
	highest := ""
	for _, v := range violations {
		if v.Level == LevelCritical {
			return LevelCritical
		}
		highest = LevelWarning
	}
	return highest
}

func summarize(violations []Violation) Summary {
	s := Summary{ByType: map[string]int{}, ByLevel: map[string]int{}}
	for _, v := range violations {
		s.ByType[v.Type]++
		s.ByLevel[v.Level]++
	}
	return s
}

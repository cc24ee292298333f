package risk

// Scenario parameterizes a liquidity stress simulation.
type Scenario struct {
	BankLiquidityShock map[string]float64 `json:"bank_liquidity_shock"` // bank_id -> unavailable fraction
	DailyRunoffRate    float64            `json:"daily_runoff_rate"`
	InterestShockBps   float64            `json:"interest_shock_bps,omitempty"`
}

// StressExposure is one deposit position entering the simulation.
type StressExposure struct {
	BankID         string  `json:"bank_id"`
	Exposure       float64 `json:"exposure"`
	MaturityBucket string  `json:"maturity_bucket,omitempty"`
}

// BankStress is the per-bank breakdown of a stress run.
type BankStress struct {
	Exposure         float64 `json:"exposure"`
	ShockUnavailable float64 `json:"shock_unavailable"`
}

// StressResult summarizes one simulation.
type StressResult struct {
	TotalExposure     float64               `json:"total_exposure"`
	UnavailableAmount float64               `json:"unavailable_amount"`
	RunOffAmount      float64               `json:"run_off_amount"`
	NetLiquidAssets   float64               `json:"net_liquid_assets"`
	CoverageRatio     float64               `json:"coverage_ratio"`
	DetailByBank      map[string]BankStress `json:"detail_by_bank"`
}

// defaultLiquidBuckets are the maturities counted as immediately
// available under stress.
var defaultLiquidBuckets = map[string]bool{"ON": true, "7D": true}

// RunStress simulates a combined shock: per-bank unavailable fractions
// plus a one-day runoff. coverage_ratio is liquid assets over the shocked
// outflow, 1.0 when nothing is shocked.
func RunStress(exposures []StressExposure, sc Scenario, liquidBuckets map[string]bool) StressResult {
	if liquidBuckets == nil {
		liquidBuckets = defaultLiquidBuckets
	}

	total := 0.0
	for _, e := range exposures {
		total += e.Exposure
	}

	runOff := total * sc.DailyRunoffRate
	unavailable := 0.0
	liquid := 0.0
	detail := make(map[string]BankStress, len(exposures))

	for _, e := range exposures {
		shock := sc.BankLiquidityShock[e.BankID]
		bankUnavail := e.Exposure * shock
		unavailable += bankUnavail

		if liquidBuckets[e.MaturityBucket] {
			avail := e.Exposure - bankUnavail
			if avail > 0 {
				liquid += avail
			}
		}
		detail[e.BankID] = BankStress{Exposure: e.Exposure, ShockUnavailable: bankUnavail}
	}

	netLiquid := liquid - runOff
	if netLiquid < 0 {
		netLiquid = 0
	}
	coverage := 1.0
	if denom := unavailable + runOff; denom > 0 {
		coverage = liquid / denom
	}

	return StressResult{
		TotalExposure:     total,
		UnavailableAmount: unavailable,
		RunOffAmount:      runOff,
		NetLiquidAssets:   netLiquid,
		CoverageRatio:     coverage,
		DetailByBank:      detail,
	}
}

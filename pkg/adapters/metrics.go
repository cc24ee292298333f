package adapters

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PeriodMetrics is the monthly aggregate the orchestrator grades.
type PeriodMetrics struct {
	Period                string  `yaml:"period" json:"period"`
	AvgCollateralRatio    float64 `yaml:"avg_collateral_ratio" json:"avg_collateral_ratio"`
	MinCollateralRatio    float64 `yaml:"min_collateral_ratio" json:"min_collateral_ratio"`
	CollateralSamples     int     `yaml:"collateral_samples" json:"collateral_samples"`
	PegSamples            int     `yaml:"peg_samples" json:"peg_samples"`
	LiquiditySamples      int     `yaml:"liquidity_samples" json:"liquidity_samples"`
	AvgPegDeviation       float64 `yaml:"avg_peg_deviation" json:"avg_peg_deviation"`
	PegAlertCount         int     `yaml:"peg_alert_count" json:"peg_alert_count"`
	DisclosureOnTime      bool    `yaml:"disclosure_on_time" json:"disclosure_on_time"`
	DisclosureLagDays     int     `yaml:"disclosure_lag_days" json:"disclosure_lag_days"`
	AvgLiquidityRatio     float64 `yaml:"avg_liquidity_ratio" json:"avg_liquidity_ratio"`
	AvgPorFailureRate     float64 `yaml:"avg_por_failure_rate" json:"avg_por_failure_rate"`
	DaysCovered           int     `yaml:"days_covered" json:"days_covered"`
	TotalDays             int     `yaml:"total_days" json:"total_days"`
	LastUpdateHoursAgo    float64 `yaml:"last_update_hours_ago" json:"last_update_hours_ago"`
}

// MetricSource is the read-only provider of monthly aggregates.
type MetricSource interface {
	PeriodMetrics(ctx context.Context, period string) (*PeriodMetrics, error)
}

// FileMetricSource reads per-period metric documents from a YAML file
// keyed by period. Stands in until the production metric pipeline lands.
type FileMetricSource struct {
	Path string
}

func NewFileMetricSource(path string) *FileMetricSource {
	return &FileMetricSource{Path: path}
}

func (s *FileMetricSource) PeriodMetrics(ctx context.Context, period string) (*PeriodMetrics, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read metric file: %w", err)
	}
	var byPeriod map[string]PeriodMetrics
	if err := yaml.Unmarshal(data, &byPeriod); err != nil {
		return nil, fmt.Errorf("decode metric file: %w", err)
	}
	m, ok := byPeriod[period]
	if !ok {
		return nil, fmt.Errorf("no metrics for period %s", period)
	}
	m.Period = period
	return &m, nil
}

// StaticMetricSource serves a fixed metric set; used in tests and demos.
type StaticMetricSource struct {
	Metrics map[string]*PeriodMetrics
}

func (s *StaticMetricSource) PeriodMetrics(ctx context.Context, period string) (*PeriodMetrics, error) {
	m, ok := s.Metrics[period]
	if !ok {
		return nil, fmt.Errorf("no metrics for period %s", period)
	}
	return m, nil
}

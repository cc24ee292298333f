package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Band is an allowed [Min, Max] share range for one maturity bucket.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Config holds the tunable policy limits. Zero values are filled from the
// defaults, so an overlay file only needs the fields it changes.
type Config struct {
	SingleLimit     float64            `yaml:"single_limit" json:"single_limit"`
	GroupLimit      float64            `yaml:"group_limit" json:"group_limit"`
	PolicyBankLimit float64            `yaml:"policy_bank_limit" json:"policy_bank_limit"`
	WarningRatio    float64            `yaml:"warning_ratio" json:"warning_ratio"`
	RatingLimits    map[string]float64 `yaml:"rating_limits" json:"rating_limits"`
	MaturityBands   map[string]Band    `yaml:"maturity_bands" json:"maturity_bands"`
	AutoSplit       map[string]float64 `yaml:"auto_split" json:"auto_split"`
	CustomRules     []CustomRule       `yaml:"custom_rules" json:"custom_rules"`
}

// DefaultConfig returns the policy baseline.
func DefaultConfig() Config {
	return Config{
		SingleLimit:     0.25,
		GroupLimit:      0.40,
		PolicyBankLimit: 0.30,
		WarningRatio:    0.90,
		RatingLimits: map[string]float64{
			"AAA": 1.00,
			"AA+": 0.90, "AA": 0.90, "AA-": 0.90,
			"A+": 0.70, "A": 0.70,
		},
		MaturityBands: map[string]Band{
			BucketOvernight: {Min: 0.30, Max: 0.40},
			Bucket7D:        {Min: 0.20, Max: 0.30},
			Bucket1M:        {Min: 0.20, Max: 0.30},
			Bucket3M:        {Min: 0.10, Max: 0.20},
		},
		AutoSplit: map[string]float64{
			BucketOvernight: 0.80,
			Bucket7D:        0.10,
			Bucket1M:        0.07,
			Bucket3M:        0.03,
		},
	}
}

// ratingMultiplier maps a rating to its limit multiplier. Ratings below A,
// unrated, and unknown strings all degrade to 0.50.
func (c Config) ratingMultiplier(rating string) float64 {
	if m, ok := c.RatingLimits[rating]; ok {
		return m
	}
	return 0.50
}

// LoadConfig reads an overlay YAML file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy config: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("decode policy config: %w", err)
	}
	cfg.apply(overlay)
	return cfg, nil
}

func (c *Config) apply(o Config) {
	if o.SingleLimit > 0 {
		c.SingleLimit = o.SingleLimit
	}
	if o.GroupLimit > 0 {
		c.GroupLimit = o.GroupLimit
	}
	if o.PolicyBankLimit > 0 {
		c.PolicyBankLimit = o.PolicyBankLimit
	}
	if o.WarningRatio > 0 {
		c.WarningRatio = o.WarningRatio
	}
	for k, v := range o.RatingLimits {
		c.RatingLimits[k] = v
	}
	for k, v := range o.MaturityBands {
		c.MaturityBands[k] = v
	}
	for k, v := range o.AutoSplit {
		c.AutoSplit[k] = v
	}
	if len(o.CustomRules) > 0 {
		c.CustomRules = o.CustomRules
	}
}

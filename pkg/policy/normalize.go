package policy

import "strings"

// bucketAliases maps upstream maturity labels onto the canonical buckets.
// Labels that resolve to "" are auto-split across buckets.
var bucketAliases = map[string]string{
	"ON":        BucketOvernight,
	"O/N":       BucketOvernight,
	"1D":        BucketOvernight,
	"7D":        Bucket7D,
	"1W":        Bucket7D,
	"WEEK":      Bucket7D,
	"1M":        Bucket1M,
	"30D":       Bucket1M,
	"MONTH":     Bucket1M,
	"3M":        Bucket3M,
	"90D":       Bucket3M,
	"QUARTER":   Bucket3M,
	"UNKNOWN":   "",
	"OVERNIGHT": "",
	"":          "",
}

// CanonicalBucket resolves an upstream maturity label. ok is false when
// the label must be auto-split.
func CanonicalBucket(label string) (bucket string, ok bool) {
	key := strings.ToUpper(strings.TrimSpace(label))
	canon, known := bucketAliases[key]
	if !known {
		return "", false
	}
	return canon, canon != ""
}

// CanonicalType normalizes an institution type label.
func CanonicalType(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "policy_bank", "policy", "central":
		return TypePolicyBank
	case "custody_agent", "custody", "custodian":
		return TypeCustodyAgent
	case "secondary_custodian", "sub_custodian":
		return TypeSecondaryCustodian
	case "broker", "broker_dealer":
		return TypeBroker
	case "commercial", "commercial_bank", "bank":
		return TypeCommercial
	default:
		return TypeOther
	}
}

// Normalize canonicalizes types and maturity labels, splitting ambiguous
// maturity amounts across buckets per the auto-split weights. Custody
// agents are dropped: their balances are segregated client assets.
func Normalize(p Portfolio, cfg Config) Portfolio {
	out := Portfolio{AsOf: p.AsOf}
	for _, ex := range p.Exposures {
		ex.Type = CanonicalType(ex.Type)
		if ex.Type == TypeCustodyAgent {
			continue
		}
		ex.Rating = strings.ToUpper(strings.TrimSpace(ex.Rating))
		ex.Maturities = normalizeMaturities(ex, cfg)
		out.Exposures = append(out.Exposures, ex)
	}
	return out
}

func normalizeMaturities(ex Exposure, cfg Config) map[string]float64 {
	norm := make(map[string]float64, 4)
	unsplit := 0.0
	for label, amount := range ex.Maturities {
		if bucket, ok := CanonicalBucket(label); ok {
			norm[bucket] += amount
		} else {
			unsplit += amount
		}
	}
	// exposures reported without any maturity breakdown are fully ambiguous
	if len(ex.Maturities) == 0 {
		unsplit = ex.Amount
	}
	if unsplit > 0 {
		for bucket, weight := range cfg.AutoSplit {
			norm[bucket] += unsplit * weight
		}
	}
	return norm
}

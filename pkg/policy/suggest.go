package policy

import "fmt"

// Suggest derives remediation hints from violations. Critical exposure and
// rating breaches get a reduction back to the limit; maturity breaches get
// a shift toward the nearest band edge.
func Suggest(violations []Violation, total float64) []Suggestion {
	var out []Suggestion
	for _, v := range violations {
		switch v.Type {
		case ViolationExposureLimit, ViolationRatingLimit:
			if v.Level != LevelCritical || v.ExcessAmount <= 0 {
				continue
			}
			target := v.BankID
			if target == "" {
				target = v.Group
			}
			out = append(out, Suggestion{
				Action: "EXPOSURE_REDUCTION",
				BankID: v.BankID,
				Group:  v.Group,
				Amount: v.ExcessAmount,
				Detail: fmt.Sprintf("reduce exposure to %s by %.0f to return inside the %.1f%% limit",
					target, v.ExcessAmount, v.Limit*100),
			})
		case ViolationMaturity:
			if v.Direction == DirectionOver {
				out = append(out, Suggestion{
					Action: "MATURITY_ADJUSTMENT",
					Bucket: v.Bucket,
					Amount: v.ExcessAmount,
					Detail: fmt.Sprintf("shift %.0f out of bucket %s to return below its %.0f%% ceiling",
						v.ExcessAmount, v.Bucket, v.Limit*100),
				})
				continue
			}
			shortfall := (v.Limit - v.Share) * total
			out = append(out, Suggestion{
				Action: "MATURITY_ADJUSTMENT",
				Bucket: v.Bucket,
				Amount: shortfall,
				Detail: fmt.Sprintf("shift %.0f into bucket %s to reach its %.0f%% floor",
					shortfall, v.Bucket, v.Limit*100),
			})
		}
	}
	return out
}

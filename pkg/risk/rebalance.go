package risk

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kwonlabs/kwon-backplane/pkg/policy"
)

var krwPrinter = message.NewPrinter(language.Korean)

// FormatKRW renders a won amount with locale-aware digit grouping.
func FormatKRW(v float64) string {
	return krwPrinter.Sprintf("₩%.0f", v)
}

// RebalanceAction is one suggested transfer between banks.
type RebalanceAction struct {
	FromBankID string  `json:"from_bank_id"`
	ToBankID   string  `json:"to_bank_id"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
}

// RebalanceSuggestion bundles the actions with an operator comment.
type RebalanceSuggestion struct {
	Actions []RebalanceAction `json:"actions"`
	Comment string            `json:"comment"`
}

// BankExposure is one scored deposit position entering the suggester.
type BankExposure struct {
	BankID   string  `json:"bank_id"`
	Name     string  `json:"name,omitempty"`
	Rating   string  `json:"rating"`
	Exposure float64 `json:"exposure"`
}

// SuggestRebalance moves funds from banks over their rating-adjusted
// limit toward banks with headroom, preferring higher risk scores as
// destinations. Rule-based; no optimization.
func SuggestRebalance(cfg policy.Config, exposures []BankExposure, scores map[string]float64) RebalanceSuggestion {
	total := 0.0
	for _, e := range exposures {
		total += e.Exposure
	}
	if total <= 0 {
		return RebalanceSuggestion{Actions: []RebalanceAction{}, Comment: "no exposures to rebalance"}
	}

	limitFor := func(e BankExposure) float64 {
		mult := 1.0
		if m, ok := cfg.RatingLimits[e.Rating]; ok {
			mult = m
		} else if e.Rating != "" {
			mult = 0.50
		}
		return cfg.SingleLimit * mult
	}
	shareOf := func(e BankExposure) float64 { return e.Exposure / total }

	var over, under []BankExposure
	for _, e := range exposures {
		if shareOf(e) > limitFor(e) {
			over = append(over, e)
		} else {
			under = append(under, e)
		}
	}
	sort.Slice(over, func(i, j int) bool { return shareOf(over[i]) > shareOf(over[j]) })
	sort.Slice(under, func(i, j int) bool { return scores[under[i].BankID] > scores[under[j].BankID] })

	headroom := make(map[string]float64, len(under))
	for _, d := range under {
		headroom[d.BankID] = (limitFor(d) - shareOf(d)) * total
	}

	actions := []RebalanceAction{}
	for _, src := range over {
		remaining := (shareOf(src) - limitFor(src)) * total
		for _, dst := range under {
			if remaining <= 0 {
				break
			}
			if dst.BankID == src.BankID || headroom[dst.BankID] <= 0 {
				continue
			}
			move := remaining
			if headroom[dst.BankID] < move {
				move = headroom[dst.BankID]
			}
			actions = append(actions, RebalanceAction{
				FromBankID: src.BankID,
				ToBankID:   dst.BankID,
				Amount:     move,
				Reason: fmt.Sprintf("%s at %.1f%% exceeds its %.1f%% rating-adjusted limit; move %s to %s",
					src.BankID, shareOf(src)*100, limitFor(src)*100, FormatKRW(move), dst.BankID),
			})
			remaining -= move
			headroom[dst.BankID] -= move
		}
	}

	comment := "rebalancing suggestions generated from policy limits and risk scores"
	if len(actions) == 0 {
		comment = "no policy breaches or no destination headroom; nothing to rebalance"
	}
	return RebalanceSuggestion{Actions: actions, Comment: comment}
}

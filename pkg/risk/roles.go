package risk

import (
	"errors"
	"strings"
)

// Institution roles in the reserve pool.
const (
	RolePolicyBank         = "policy_bank"
	RoleCustodyAgent       = "custody_agent"
	RoleCommercialBank     = "commercial_bank"
	RoleSecondaryCustodian = "secondary_custodian"
	RoleBroker             = "broker"
	RoleOther              = "other"
)

// RoleWeights divide the FSS-derived base weight: lower weight means the
// role absorbs more of the pool.
var RoleWeights = map[string]float64{
	RolePolicyBank:         0.5,
	RoleCustodyAgent:       0.01,
	RoleCommercialBank:     1.0,
	RoleSecondaryCustodian: 1.2,
	RoleBroker:             1.6,
	RoleOther:              2.0,
}

// RoleTargetLimits cap the target share per institution of each role.
// Custody agents never receive deposits.
var RoleTargetLimits = map[string]float64{
	RolePolicyBank:         0.40,
	RoleCustodyAgent:       0.00,
	RoleCommercialBank:     0.15,
	RoleSecondaryCustodian: 0.10,
	RoleBroker:             0.07,
	RoleOther:              0.03,
}

// DetectRole infers an institution's role from its name. The rule table
// covers the Korean reserve-bank pool; unknown names fall through to
// "other", the most conservatively weighted role.
func DetectRole(name string) string {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "ksd", "depository", "예탁"):
		return RoleCustodyAgent
	case containsAny(n, "kdb", "ibk", "산업은행", "기업은행"):
		return RolePolicyBank
	case containsAny(n, "shinhan", "kb", "kookmin", "woori", "신한", "국민", "우리"):
		return RoleCommercialBank
	case containsAny(n, "hana", "하나"):
		return RoleSecondaryCustodian
	case containsAny(n, "securities", "investment", "증권"):
		return RoleBroker
	default:
		return RoleOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Institution is one member of the reserve pool.
type Institution struct {
	BankID   string   `json:"bank_id"`
	Name     string   `json:"name"`
	Role     string   `json:"role,omitempty"`
	Exposure float64  `json:"exposure"`
	FSS      *float64 `json:"fss,omitempty"`
}

// FSSLookup resolves a financial-soundness score for a bank id.
type FSSLookup func(bankID string) (float64, bool)

// AutoFill resolves missing roles and FSS scores in place. Custody agents
// carry no score; policy banks use a fixed 85; everything else resolves
// through the lookup with a 70 fallback.
func AutoFill(insts []Institution, lookup FSSLookup) {
	for i := range insts {
		inst := &insts[i]
		if inst.Role == "" {
			inst.Role = DetectRole(inst.Name)
		}
		if inst.Role == RoleCustodyAgent {
			inst.FSS = nil
			continue
		}
		if inst.FSS != nil {
			continue
		}
		switch {
		case inst.Role == RolePolicyBank:
			inst.FSS = ptr(85.0)
		default:
			fss := 70.0
			if lookup != nil {
				if v, ok := lookup(inst.BankID); ok {
					fss = v
				}
			}
			inst.FSS = &fss
		}
	}
}

func ptr(v float64) *float64 { return &v }

// Target is one institution's computed allocation.
type Target struct {
	BankID       string  `json:"bank_id"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	FSS          float64 `json:"fss,omitempty"`
	Exposure     float64 `json:"exposure"`
	TargetPct    float64 `json:"target_pct"`
	TargetAmount float64 `json:"target_amount"`
}

// Allocation is the full target split: scored banks plus preserved
// custody entries at zero target.
type Allocation struct {
	Banks   []Target `json:"banks"`
	Custody []Target `json:"custody"`
}

// ErrNoAllocatablePool means every institution was custody or weightless.
var ErrNoAllocatablePool = errors.New("risk: no allocatable institutions")

// TargetAllocation computes role-weighted targets:
// base_weight = (FSS/100) / role_weight, normalized across the pool,
// capped per role, then applied to the total reserve.
func TargetAllocation(insts []Institution, totalReserve float64) (*Allocation, error) {
	alloc := &Allocation{}
	type pooled struct {
		inst       Institution
		fss        float64
		baseWeight float64
	}
	var pool []pooled

	for _, inst := range insts {
		if inst.Role == RoleCustodyAgent {
			alloc.Custody = append(alloc.Custody, Target{
				BankID:   inst.BankID,
				Name:     inst.Name,
				Role:     RoleCustodyAgent,
				Exposure: inst.Exposure,
			})
			continue
		}
		fss := 70.0
		if inst.FSS != nil {
			fss = *inst.FSS
		}
		weight, ok := RoleWeights[inst.Role]
		if !ok {
			weight = RoleWeights[RoleOther]
		}
		pool = append(pool, pooled{inst: inst, fss: fss, baseWeight: (fss / 100) / weight})
	}

	totalBase := 0.0
	for _, p := range pool {
		totalBase += p.baseWeight
	}
	if totalBase <= 0 {
		return nil, ErrNoAllocatablePool
	}

	for _, p := range pool {
		pct := p.baseWeight / totalBase
		if limit, ok := RoleTargetLimits[p.inst.Role]; ok && pct > limit {
			pct = limit
		}
		alloc.Banks = append(alloc.Banks, Target{
			BankID:       p.inst.BankID,
			Name:         p.inst.Name,
			Role:         p.inst.Role,
			FSS:          p.fss,
			Exposure:     p.inst.Exposure,
			TargetPct:    pct,
			TargetAmount: pct * totalReserve,
		})
	}
	return alloc, nil
}

// Move is one transfer in a rebalance plan.
type Move struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// RebalancePlan pairs over-allocated sources with under-allocated
// destinations in order, greedily matching amounts. Custody entries
// never move.
func RebalancePlan(insts []Institution, alloc *Allocation) []Move {
	targets := make(map[string]float64, len(alloc.Banks))
	for _, t := range alloc.Banks {
		targets[t.BankID] = t.TargetAmount
	}

	type delta struct {
		bankID string
		amount float64
	}
	var over, under []delta
	for _, inst := range insts {
		if inst.Role == RoleCustodyAgent {
			continue
		}
		diff := inst.Exposure - targets[inst.BankID]
		if diff > 0 {
			over = append(over, delta{inst.BankID, diff})
		} else if diff < 0 {
			under = append(under, delta{inst.BankID, -diff})
		}
	}

	plan := []Move{}
	for _, src := range over {
		remaining := src.amount
		for i := range under {
			if remaining <= 0 {
				break
			}
			if under[i].amount <= 0 {
				continue
			}
			move := remaining
			if under[i].amount < move {
				move = under[i].amount
			}
			plan = append(plan, Move{From: src.bankID, To: under[i].bankID, Amount: move})
			remaining -= move
			under[i].amount -= move
		}
	}
	return plan
}

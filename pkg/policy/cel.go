package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CustomRule is an institution-specific constraint expressed in CEL. The
// expression must evaluate to a bool; true flags a violation. An empty
// BankID applies the rule to every exposure.
type CustomRule struct {
	Name    string `yaml:"name" json:"name"`
	BankID  string `yaml:"bank_id" json:"bank_id"`
	Expr    string `yaml:"expr" json:"expr"`
	Level   string `yaml:"level" json:"level"`
	Message string `yaml:"message" json:"message"`
}

type compiledRule struct {
	rule CustomRule
	prog cel.Program
}

func ruleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("bank_id", cel.StringType),
		cel.Variable("share", cel.DoubleType),
		cel.Variable("exposure", cel.DoubleType),
		cel.Variable("rating", cel.StringType),
		cel.Variable("is_policy_bank", cel.BoolType),
	)
}

func compileRules(rules []CustomRule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("build rule env: %w", err)
	}

	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", r.Name, err)
		}
		if r.Level == "" {
			r.Level = LevelWarning
		}
		out = append(out, compiledRule{rule: r, prog: prog})
	}
	return out, nil
}

func (e *Engine) evalCustomRules(p Portfolio, total float64) ([]Violation, error) {
	if len(e.rules) == 0 {
		return nil, nil
	}
	var out []Violation
	for _, ex := range p.Exposures {
		vars := map[string]any{
			"bank_id":        ex.BankID,
			"share":          ex.Amount / total,
			"exposure":       ex.Amount,
			"rating":         ex.Rating,
			"is_policy_bank": ex.Type == TypePolicyBank,
		}
		for _, cr := range e.rules {
			if cr.rule.BankID != "" && cr.rule.BankID != ex.BankID {
				continue
			}
			val, _, err := cr.prog.Eval(vars)
			if err != nil {
				return nil, fmt.Errorf("eval rule %q for %s: %w", cr.rule.Name, ex.BankID, err)
			}
			hit, ok := val.Value().(bool)
			if !ok || !hit {
				continue
			}
			msg := cr.rule.Message
			if msg == "" {
				msg = fmt.Sprintf("custom rule %s triggered for %s", cr.rule.Name, ex.BankID)
			}
			out = append(out, Violation{
				Type:    ViolationCustomRule,
				Code:    cr.rule.Name,
				Level:   cr.rule.Level,
				BankID:  ex.BankID,
				Share:   ex.Amount / total,
				Message: msg,
			})
		}
	}
	return out, nil
}

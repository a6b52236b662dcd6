// Package rules implements the deterministic applicability rule evaluator.
// Evaluation is a pure function over (rule set, context): no clocks, no
// stores, no randomness. Given identical inputs the output is identical,
// which is what makes historical resolution runs replayable bit for bit.
package rules

import (
	"sort"

	id "controlplane/pkg/domain"
)

// TargetKind says what a matched rule selects.
type TargetKind string

const (
	TargetControl   TargetKind = "control"
	TargetFramework TargetKind = "framework"
	TargetOverlay   TargetKind = "overlay"
)

// Rule is one ordered applicability predicate from the catalog.
type Rule struct {
	ID         id.RuleID
	Code       string
	Name       string
	Version    string
	Condition  Condition
	TargetKind TargetKind
	TargetCode string
	// Priority orders evaluation; lower evaluates first.
	Priority int
	Active   bool
	// Reason is the human-readable explanation template used when the rule
	// matches, e.g. "SAMA-CSF is mandatory for financial institutions".
	Reason   string
	ReasonAr string
}

// RuleSet is an ordered collection of rules sharing one evaluation policy.
type RuleSet struct {
	Code    string
	Version string
	Rules   []Rule
	// StopOnFirstMatch halts the pass at the first matching rule. This is a
	// per-set policy, never implicit.
	StopOnFirstMatch bool
}

// Result classifies a single rule outcome.
type OutcomeResult string

const (
	OutcomeMatched    OutcomeResult = "Matched"
	OutcomeNotMatched OutcomeResult = "NotMatched"
	OutcomeError      OutcomeResult = "Error"
)

// Outcome is the audit record for one evaluated rule. Every evaluated rule
// produces exactly one Outcome regardless of match, miss or error.
type Outcome struct {
	RuleID      id.RuleID
	RuleCode    string
	RuleVersion string
	Result      OutcomeResult
	// Confidence is 1 for a match, 0 otherwise. Rules carry no probabilistic
	// scoring today; the column exists so the audit schema never changes if
	// they do.
	Confidence  float64
	Reason      string
	ErrorDetail string
}

// MatchedRule pairs a matching rule with its outcome index for callers that
// need the target without re-scanning the log.
type MatchedRule struct {
	Rule    Rule
	Outcome Outcome
}

// EvaluationResult is the full product of one pass: the matches in priority
// order and one log entry per evaluated rule.
type EvaluationResult struct {
	Matched []MatchedRule
	Log     []Outcome
}

// Evaluate runs the rule set against the context.
//
// Rules are evaluated in ascending priority order; ties are broken by rule
// code so the outcome ordering is total and byte-identical across runs.
// Inactive rules are skipped entirely (no outcome). A ContextError on one
// rule is recorded and the pass continues. Under StopOnFirstMatch the log
// contains only the rules evaluated up to and including the match.
func Evaluate(set RuleSet, ctx Context) EvaluationResult {
	ordered := make([]Rule, 0, len(set.Rules))
	for _, r := range set.Rules {
		if r.Active {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Code < ordered[j].Code
	})

	result := EvaluationResult{}
	for _, rule := range ordered {
		outcome := Outcome{
			RuleID:      rule.ID,
			RuleCode:    rule.Code,
			RuleVersion: rule.Version,
		}

		matched, err := rule.Condition.Eval(ctx)
		switch {
		case err != nil:
			outcome.Result = OutcomeError
			outcome.ErrorDetail = err.Error()
		case matched:
			outcome.Result = OutcomeMatched
			outcome.Confidence = 1
			outcome.Reason = rule.Reason
		default:
			outcome.Result = OutcomeNotMatched
		}

		result.Log = append(result.Log, outcome)
		if outcome.Result == OutcomeMatched {
			result.Matched = append(result.Matched, MatchedRule{Rule: rule, Outcome: outcome})
			if set.StopOnFirstMatch {
				break
			}
		}
	}
	return result
}

package models

import (
	"math"

	"aegis/internal/risk"
)

// TargetState is the state a request moves to for decision d.
func (d Decision) TargetState() State {
	switch d {
	case DecisionApproved:
		return StateApproved
	case DecisionRejected:
		return StateRejected
	default:
		return StateManualReview
	}
}

// DecisionInput is everything Decide looks at. It holds no clock or
// randomness so identical inputs always give the identical verdict.
type DecisionInput struct {
	CompositeScore       float64
	Tier                 risk.Tier
	InsufficientCoverage bool
	HardFails            []string
	Required             []StepID
	Completed            map[StepID]CheckResult
	Thresholds           risk.Thresholds
}

type Verdict struct {
	Decision Decision
	Reason   string
}

// Decide applies the decision rule at AwaitingDecision. Escalation wins over
// approval and nothing ambiguous is approved.
func Decide(in DecisionInput) Verdict {
	switch {
	case len(in.HardFails) > 0:
		return Verdict{Decision: DecisionManualReview, Reason: ReasonHardFail}
	case in.InsufficientCoverage:
		return Verdict{Decision: DecisionManualReview, Reason: ReasonInsufficientProof}
	case math.IsNaN(in.CompositeScore) || in.CompositeScore >= in.Thresholds.HighMin || in.Tier == risk.TierHigh:
		return Verdict{Decision: DecisionManualReview, Reason: ReasonHighRisk}
	}

	allPassing := true
	explicitFailure := false
	for _, step := range in.Required {
		result, ok := in.Completed[step]
		if !ok {
			allPassing = false
			continue
		}
		if result.Outcome == OutcomeFailed {
			explicitFailure = true
		}
		if !result.Passing(in.Thresholds.SubScorePassMax) {
			allPassing = false
		}
	}

	switch {
	case allPassing && in.CompositeScore <= in.Thresholds.LowMax:
		return Verdict{Decision: DecisionApproved, Reason: ReasonApproved}
	case explicitFailure:
		return Verdict{Decision: DecisionRejected, Reason: ReasonCheckFailed}
	default:
		return Verdict{Decision: DecisionManualReview, Reason: ReasonInconclusive}
	}
}

// DecisionInput builds the input for Decide from the latest assessment. The
// routing tier only decides which steps are required; the verdict follows
// the current evidence. A request with no assessment is treated as fully
// uncovered.
func (r *Request) DecisionInput(th risk.Thresholds) DecisionInput {
	in := DecisionInput{
		CompositeScore:       100,
		Tier:                 risk.TierHigh,
		InsufficientCoverage: true,
		HardFails:            r.HardFails(),
		Required:             r.RequiredSteps,
		Completed:            r.CompletedSteps,
		Thresholds:           th,
	}
	if a, ok := r.LatestAssessment(); ok {
		in.CompositeScore = a.CompositeScore
		in.Tier = a.Tier
		in.InsufficientCoverage = a.InsufficientCoverage
	}
	return in
}

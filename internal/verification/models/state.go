package models

// State is a verification request's position in the flow.
type State string

const (
	StateInitiated             State = "initiated"
	StateGeolocationChecked    State = "geolocation_checked"
	StatePersonalInfoSubmitted State = "personal_info_submitted"
	StateDocumentsUploaded     State = "documents_uploaded"
	StateBiometricVerified     State = "biometric_verified"
	StateBehaviorEvaluated     State = "behavior_evaluated"
	StateAwaitingDecision      State = "awaiting_decision"
	StateApproved              State = "approved"
	StateRejected              State = "rejected"
	StateManualReview          State = "manual_review"
)

// flowOrder is the linear part of the flow; a request only moves forward.
var flowOrder = map[State]int{
	StateInitiated:             0,
	StateGeolocationChecked:    1,
	StatePersonalInfoSubmitted: 2,
	StateDocumentsUploaded:     3,
	StateBiometricVerified:     4,
	StateBehaviorEvaluated:     5,
	StateAwaitingDecision:      6,
}

// Stages lists the linear states in order.
func Stages() []State {
	return []State{
		StateInitiated, StateGeolocationChecked, StatePersonalInfoSubmitted,
		StateDocumentsUploaded, StateBiometricVerified, StateBehaviorEvaluated,
		StateAwaitingDecision,
	}
}

func (s State) String() string { return string(s) }

func (s State) IsValid() bool {
	_, linear := flowOrder[s]
	return linear || s == StateApproved || s == StateRejected || s == StateManualReview
}

// IsTerminal is true for Approved and Rejected. ManualReview is not terminal:
// it waits for a reviewer.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// InFlow reports whether the request still accepts step completions.
func (s State) InFlow() bool {
	_, ok := flowOrder[s]
	return ok && s != StateAwaitingDecision
}

// Position returns the index in the linear flow, or -1 for outcome states.
func (s State) Position() int {
	if p, ok := flowOrder[s]; ok {
		return p
	}
	return -1
}

// Decision is the outcome recorded on a request.
type Decision string

const (
	DecisionPending      Decision = "pending"
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionManualReview Decision = "manual_review"
)

func (d Decision) String() string { return string(d) }

// Reasons recorded with a decision.
const (
	ReasonApproved          = "all_checks_passed"
	ReasonHighRisk          = "high_risk"
	ReasonHardFail          = "hard_fail"
	ReasonCheckFailed       = "check_failed"
	ReasonInconclusive      = "inconclusive"
	ReasonAbandoned         = "abandoned"
	ReasonManualReview      = "manual_review"
	ReasonInsufficientProof = "insufficient_coverage"
)

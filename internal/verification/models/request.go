package models

import (
	"slices"
	"time"

	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

type CheckOutcome string

const (
	OutcomePassed CheckOutcome = "passed"
	OutcomeFailed CheckOutcome = "failed"
)

func (o CheckOutcome) IsValid() bool { return o == OutcomePassed || o == OutcomeFailed }

// CheckResult is the external check's verdict for one step. SubScore is a
// risk score on [0,100].
type CheckResult struct {
	Step        StepID            `json:"step"`
	Outcome     CheckOutcome      `json:"outcome"`
	SubScore    float64           `json:"sub_score"`
	Details     map[string]string `json:"details,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Passing is true when the check passed with a sub-score no riskier than max.
func (c CheckResult) Passing(max float64) bool {
	return c.Outcome == OutcomePassed && c.SubScore <= max
}

// Timeline event kinds.
const (
	TimelineInitiated      = "initiated"
	TimelineStepCompleted  = "step_completed"
	TimelineAssessed       = "assessed"
	TimelineRequiredRaised = "required_steps_raised"
	TimelineStateChanged   = "state_changed"
	TimelineSignalAbsent   = "signal_absent"
)

type TimelineEvent struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	From   State     `json:"from,omitempty"`
	To     State     `json:"to,omitempty"`
	Step   StepID    `json:"step,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Transition is one applied state change.
type Transition struct {
	From State
	To   State
}

// Request is the verification aggregate root. It changes only through the
// methods below and is persisted with a version check.
type Request struct {
	ID             id.VerificationID `json:"id"`
	SubjectID      id.SubjectID      `json:"subject_id"`
	PriorRequestID id.VerificationID `json:"prior_request_id"`
	State          State             `json:"state"`
	// Tier is the routing tier. It only ever rises.
	Tier           risk.Tier                    `json:"tier"`
	RequiredSteps  []StepID                     `json:"required_steps"`
	CompletedSteps map[StepID]CheckResult       `json:"completed_steps"`
	Signals        map[risk.Source]risk.Signal  `json:"signals"`
	Assessments    []risk.Assessment            `json:"assessments"`
	Decision       Decision                     `json:"decision"`
	DecisionReason string                       `json:"decision_reason,omitempty"`
	// AppliedTransitions is keyed by target state; a target is applied at
	// most once.
	AppliedTransitions map[State]time.Time `json:"applied_transitions"`
	Timeline           []TimelineEvent     `json:"timeline"`
	DeviceFingerprint  string              `json:"device_fingerprint,omitempty"`
	Version            int64               `json:"version"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NewRequest starts a request in Initiated with the steps of tier.
func NewRequest(requestID id.VerificationID, subjectID id.SubjectID, tier risk.Tier, now time.Time) *Request {
	if !tier.IsValid() {
		tier = risk.TierHigh
	}
	return &Request{
		ID:                 requestID,
		SubjectID:          subjectID,
		State:              StateInitiated,
		Tier:               tier,
		RequiredSteps:      RequiredSteps(tier),
		CompletedSteps:     make(map[StepID]CheckResult),
		Signals:            make(map[risk.Source]risk.Signal),
		Decision:           DecisionPending,
		AppliedTransitions: map[State]time.Time{StateInitiated: now},
		Timeline:           []TimelineEvent{{At: now, Kind: TimelineInitiated, To: StateInitiated, Detail: string(tier)}},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (r *Request) IsCompleted(step StepID) bool {
	_, ok := r.CompletedSteps[step]
	return ok
}

func (r *Request) IsRequired(step StepID) bool {
	return slices.Contains(r.RequiredSteps, step)
}

// CanComplete enforces the transition rule: step must be required and every
// required step of an earlier stage must already be complete.
func (r *Request) CanComplete(step StepID) error {
	if !step.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown verification step")
	}
	if !r.State.InFlow() {
		return dErrors.New(dErrors.CodePrecondition, "verification is not accepting steps in state "+r.State.String())
	}
	if !r.IsRequired(step) {
		return dErrors.New(dErrors.CodePrecondition, "step "+step.String()+" is not required for this verification")
	}
	pos := step.Stage().Position()
	for _, req := range r.RequiredSteps {
		if req.Stage().Position() < pos && !r.IsCompleted(req) {
			return dErrors.New(dErrors.CodePrecondition, "step "+req.String()+" must be completed first")
		}
	}
	return nil
}

// RecordCheck stores a completed step. Callers check CanComplete first.
func (r *Request) RecordCheck(result CheckResult) {
	r.CompletedSteps[result.Step] = result
	r.Timeline = append(r.Timeline, TimelineEvent{
		At:     result.CompletedAt,
		Kind:   TimelineStepCompleted,
		Step:   result.Step,
		Detail: string(result.Outcome),
	})
	r.UpdatedAt = result.CompletedAt
}

// MergeSignals keeps the latest well-formed reading per source and returns
// how many malformed readings it dropped.
func (r *Request) MergeSignals(signals []risk.Signal) int {
	dropped := 0
	for _, s := range signals {
		if !s.Valid() {
			dropped++
			continue
		}
		r.Signals[s.Source] = s
	}
	return dropped
}

// SignalList returns the current signals in source order.
func (r *Request) SignalList() []risk.Signal {
	out := make([]risk.Signal, 0, len(r.Signals))
	for _, src := range risk.AllSources() {
		if s, ok := r.Signals[src]; ok {
			out = append(out, s)
		}
	}
	return out
}

// RecordAssessment appends a and, when escalate is set, raises the routing
// tier and required steps. It returns the steps that became required.
func (r *Request) RecordAssessment(a risk.Assessment, escalate bool) []StepID {
	r.Assessments = append(r.Assessments, a)
	r.Timeline = append(r.Timeline, TimelineEvent{At: a.ComputedAt, Kind: TimelineAssessed, Detail: string(a.Tier)})
	if !escalate {
		return nil
	}
	r.Tier = risk.MaxTier(r.Tier, a.Tier)
	merged, added := MergeRequired(r.RequiredSteps, RequiredSteps(r.Tier))
	r.RequiredSteps = merged
	for _, step := range added {
		r.Timeline = append(r.Timeline, TimelineEvent{At: a.ComputedAt, Kind: TimelineRequiredRaised, Step: step})
	}
	return added
}

// LatestAssessment returns the most recent assessment.
func (r *Request) LatestAssessment() (risk.Assessment, bool) {
	if len(r.Assessments) == 0 {
		return risk.Assessment{}, false
	}
	return r.Assessments[len(r.Assessments)-1], true
}

// HardFails is the union of hard-fail reasons across all assessments.
func (r *Request) HardFails() []string {
	var out []string
	for _, a := range r.Assessments {
		for _, hf := range a.HardFails {
			if !slices.Contains(out, hf) {
				out = append(out, hf)
			}
		}
	}
	return out
}

// Advance moves the state to the furthest stage whose required steps are
// all complete. It never moves backwards.
func (r *Request) Advance(now time.Time) []Transition {
	if !r.State.InFlow() {
		return nil
	}
	furthest := StateInitiated
	for _, stage := range Stages()[1:] {
		if !r.stageComplete(stage) {
			break
		}
		furthest = stage
	}
	var out []Transition
	for _, stage := range Stages() {
		if stage.Position() <= r.State.Position() || stage.Position() > furthest.Position() {
			continue
		}
		if t, ok := r.transitionTo(stage, now); ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Request) stageComplete(stage State) bool {
	for _, step := range r.RequiredSteps {
		if step.Stage().Position() <= stage.Position() && !r.IsCompleted(step) {
			return false
		}
	}
	return true
}

// ApplyVerdict moves an AwaitingDecision request to the verdict's state.
func (r *Request) ApplyVerdict(v Verdict, now time.Time) (Transition, bool) {
	if r.State != StateAwaitingDecision {
		return Transition{}, false
	}
	t, ok := r.transitionTo(v.Decision.TargetState(), now)
	if ok {
		r.Decision = v.Decision
		r.DecisionReason = v.Reason
	}
	return t, ok
}

// ApplyReview records a reviewer's decision on a request in ManualReview.
// Re-applying the same decision is a no-op.
func (r *Request) ApplyReview(decision Decision, now time.Time) (Transition, bool, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Transition{}, false, dErrors.New(dErrors.CodeInvalidInput, "review decision must be approved or rejected")
	}
	target := decision.TargetState()
	if r.State == target && r.hasApplied(target) {
		return Transition{}, false, nil
	}
	if r.State != StateManualReview {
		return Transition{}, false, dErrors.New(dErrors.CodePrecondition, "verification is not awaiting manual review")
	}
	t, _ := r.transitionTo(target, now)
	r.Decision = decision
	r.DecisionReason = ReasonManualReview
	return t, true, nil
}

// Abandon moves a non-terminal request to Rejected(abandoned).
func (r *Request) Abandon(now time.Time) (Transition, error) {
	if r.State.IsTerminal() {
		return Transition{}, dErrors.New(dErrors.CodePrecondition, "verification already finished")
	}
	t, _ := r.transitionTo(StateRejected, now)
	r.Decision = DecisionRejected
	r.DecisionReason = ReasonAbandoned
	return t, nil
}

// NoteAbsent records a signal source that contributed nothing.
func (r *Request) NoteAbsent(src risk.Source, cause string, now time.Time) {
	r.Timeline = append(r.Timeline, TimelineEvent{At: now, Kind: TimelineSignalAbsent, Detail: src.String() + ":" + cause})
}

func (r *Request) hasApplied(target State) bool {
	_, ok := r.AppliedTransitions[target]
	return ok
}

func (r *Request) transitionTo(target State, now time.Time) (Transition, bool) {
	if r.hasApplied(target) {
		return Transition{}, false
	}
	t := Transition{From: r.State, To: target}
	r.State = target
	r.AppliedTransitions[target] = now
	r.Timeline = append(r.Timeline, TimelineEvent{At: now, Kind: TimelineStateChanged, From: t.From, To: t.To})
	r.UpdatedAt = now
	return t, true
}

// CheckFlags reports, per check category, whether its step was completed
// with a passing result.
func (r *Request) CheckFlags(maxSubScore float64) map[string]bool {
	out := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		if d.category == "" {
			continue
		}
		c, ok := r.CompletedSteps[d.id]
		out[d.category] = ok && c.Passing(maxSubScore)
	}
	return out
}

package models

import (
	"slices"

	"aegis/internal/risk"
	dErrors "aegis/pkg/domain-errors"
)

// StepID names one verification step.
type StepID string

const (
	StepGeolocationCheck    StepID = "geolocation_check"
	StepPersonalInfo        StepID = "personal_info"
	StepAddressVerification StepID = "address_verification"
	StepDocumentUpload      StepID = "document_upload"
	StepFaceVerification    StepID = "face_verification"
	StepVideoVerification   StepID = "video_verification"
	StepBehaviorAnalysis    StepID = "behavior_analysis"
	StepAMLScreening        StepID = "aml_screening"
	StepRiskScoring         StepID = "risk_scoring"
)

type stepDef struct {
	id       StepID
	stage    State
	category string
	tiers    []risk.Tier
}

var all = []risk.Tier{risk.TierLow, risk.TierMedium, risk.TierHigh}

// catalog is ordered; required-step lists follow this order.
var catalog = []stepDef{
	{StepGeolocationCheck, StateGeolocationChecked, "geolocation", all},
	{StepPersonalInfo, StatePersonalInfoSubmitted, "identity_data", all},
	{StepAddressVerification, StatePersonalInfoSubmitted, "address", []risk.Tier{risk.TierHigh}},
	{StepDocumentUpload, StateDocumentsUploaded, "document", all},
	{StepFaceVerification, StateBiometricVerified, "biometric", all},
	{StepVideoVerification, StateBiometricVerified, "video", []risk.Tier{risk.TierMedium, risk.TierHigh}},
	{StepBehaviorAnalysis, StateBehaviorEvaluated, "behavior", all},
	{StepAMLScreening, StateBehaviorEvaluated, "aml", []risk.Tier{risk.TierHigh}},
	{StepRiskScoring, StateAwaitingDecision, "", all},
}

// Catalog lists every step in flow order.
func Catalog() []StepID {
	out := make([]StepID, len(catalog))
	for i, d := range catalog {
		out[i] = d.id
	}
	return out
}

func ParseStepID(s string) (StepID, error) {
	id := StepID(s)
	if !id.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown verification step")
	}
	return id, nil
}

func (s StepID) IsValid() bool { return s.index() >= 0 }

func (s StepID) String() string { return string(s) }

// Stage is the state the flow reaches once this step and every required
// step before it are complete.
func (s StepID) Stage() State {
	if i := s.index(); i >= 0 {
		return catalog[i].stage
	}
	return ""
}

// Category is the credential check category the step attests, or "" for
// steps that attest nothing on their own.
func (s StepID) Category() string {
	if i := s.index(); i >= 0 {
		return catalog[i].category
	}
	return ""
}

func (s StepID) index() int {
	for i, d := range catalog {
		if d.id == s {
			return i
		}
	}
	return -1
}

// RequiredSteps returns the steps a tier demands, in flow order. An unknown
// tier is treated as high.
func RequiredSteps(tier risk.Tier) []StepID {
	if !tier.IsValid() {
		tier = risk.TierHigh
	}
	var out []StepID
	for _, d := range catalog {
		if slices.Contains(d.tiers, tier) {
			out = append(out, d.id)
		}
	}
	return out
}

// MergeRequired returns the union of current and add in flow order, plus
// the steps that were added. Nothing in current is ever removed.
func MergeRequired(current, add []StepID) (merged, added []StepID) {
	for _, d := range catalog {
		inCurrent := slices.Contains(current, d.id)
		if inCurrent || slices.Contains(add, d.id) {
			merged = append(merged, d.id)
			if !inCurrent {
				added = append(added, d.id)
			}
		}
	}
	return merged, added
}

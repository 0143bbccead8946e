package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/risk"
	dErrors "aegis/pkg/domain-errors"
)

func TestRequiredStepsPerTier(t *testing.T) {
	low := RequiredSteps(risk.TierLow)
	assert.Equal(t, []StepID{
		StepGeolocationCheck, StepPersonalInfo, StepDocumentUpload,
		StepFaceVerification, StepBehaviorAnalysis, StepRiskScoring,
	}, low)
	assert.Len(t, RequiredSteps(risk.TierMedium), 7)
	assert.Equal(t, Catalog(), RequiredSteps(risk.TierHigh))
	assert.Equal(t, RequiredSteps(risk.TierHigh), RequiredSteps(risk.Tier("bogus")))
}

func TestRequiredStepsNestAcrossTiers(t *testing.T) {
	tiers := []risk.Tier{risk.TierLow, risk.TierMedium, risk.TierHigh}
	for i := 1; i < len(tiers); i++ {
		lower := RequiredSteps(tiers[i-1])
		higher := RequiredSteps(tiers[i])
		assert.Subset(t, higher, lower, "%s must contain %s", tiers[i], tiers[i-1])
	}
}

func TestMergeRequired(t *testing.T) {
	merged, added := MergeRequired(RequiredSteps(risk.TierLow), RequiredSteps(risk.TierHigh))
	assert.Equal(t, RequiredSteps(risk.TierHigh), merged)
	assert.Equal(t, []StepID{StepAddressVerification, StepVideoVerification, StepAMLScreening}, added)

	merged, added = MergeRequired(RequiredSteps(risk.TierHigh), RequiredSteps(risk.TierLow))
	assert.Equal(t, RequiredSteps(risk.TierHigh), merged)
	assert.Empty(t, added)
}

func TestParseStepID(t *testing.T) {
	step, err := ParseStepID("document_upload")
	require.NoError(t, err)
	assert.Equal(t, StepDocumentUpload, step)
	assert.Equal(t, StateDocumentsUploaded, step.Stage())

	_, err = ParseStepID("selfie")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestStatePositions(t *testing.T) {
	stages := Stages()
	for i, s := range stages {
		assert.Equal(t, i, s.Position())
	}
	assert.Equal(t, -1, StateManualReview.Position())
	assert.True(t, StateApproved.IsTerminal())
	assert.False(t, StateManualReview.IsTerminal())
	assert.False(t, StateAwaitingDecision.InFlow())
	assert.True(t, StateInitiated.InFlow())
}

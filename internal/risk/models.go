package risk

import (
	"math"
	"time"

	id "aegis/pkg/domain"
)

// Source identifies the producer family of a signal.
type Source string

const (
	SourceDevice      Source = "device"
	SourceGeolocation Source = "geolocation"
	SourceBehavior    Source = "behavior"
	SourceDocument    Source = "document"
	SourceBiometric   Source = "biometric"
)

// AllSources lists sources in the order assessments report them.
func AllSources() []Source {
	return []Source{SourceDevice, SourceGeolocation, SourceBehavior, SourceDocument, SourceBiometric}
}

func (s Source) IsValid() bool {
	switch s {
	case SourceDevice, SourceGeolocation, SourceBehavior, SourceDocument, SourceBiometric:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// Indicator keys read from Signal.Indicators for hard-fail checks.
const (
	IndicatorTamperProbability   = "tamper_probability"
	IndicatorDeepfakeProbability = "deepfake_probability"
)

// Hard-fail reasons reported on an assessment.
const (
	HardFailDocumentTamper = "document_tamper"
	HardFailDeepfake       = "deepfake"
)

// Signal is one producer's reading. Score is risk on [0,100] (higher is
// riskier); Confidence is the producer's certainty on [0,1].
type Signal struct {
	Source     Source
	Score      float64
	Confidence float64
	// Indicators carry named probabilities such as tamper_probability.
	Indicators map[string]float64
	// Evidence is opaque to the engine and never interpreted.
	Evidence   map[string]string
	ObservedAt time.Time
}

// Valid reports whether s is a reading the engine can use: a known source,
// a score on [0,100], a confidence on [0,1] and indicator probabilities on
// [0,1]. Malformed readings are dropped, never clamped.
func (s Signal) Valid() bool {
	if !s.Source.IsValid() {
		return false
	}
	if !within(s.Score, 0, 100) || !within(s.Confidence, 0, 1) {
		return false
	}
	for _, p := range s.Indicators {
		if !within(p, 0, 1) {
			return false
		}
	}
	return true
}

func within(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// Tier is the discretized risk bucket.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Rank orders tiers; an unknown tier ranks highest.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	}
	return 4
}

func (t Tier) IsValid() bool { return t.Rank() < 4 }

func (t Tier) String() string { return string(t) }

// MaxTier returns the stricter of a and b.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Assessment is immutable once recorded. A later assessment supersedes it.
type Assessment struct {
	ID             id.AssessmentID
	CompositeScore float64
	Tier           Tier
	// Coverage is Σ weight·confidence over the signals that were used.
	Coverage             float64
	InsufficientCoverage bool
	HardFails            []string
	Signals              []Signal
	Discarded            int
	PolicyVersion        string
	ComputedAt           time.Time
}

// HasHardFail reports whether any hard-fail check tripped.
func (a Assessment) HasHardFail() bool { return len(a.HardFails) > 0 }

// Sources lists the sources that contributed.
func (a Assessment) Sources() []Source {
	out := make([]Source, 0, len(a.Signals))
	for _, s := range a.Signals {
		out = append(out, s.Source)
	}
	return out
}

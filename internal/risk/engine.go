package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	id "aegis/pkg/domain"
)

// Engine combines signals into an assessment under one policy. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	policy  Policy
	metrics *Metrics
	now     func() time.Time
}

type EngineOption func(*Engine)

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine rejects an inconsistent policy.
func NewEngine(policy Policy, opts ...EngineOption) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Policy() Policy { return e.policy }

// TierFor is the policy's pure score-to-tier mapping.
func (e *Engine) TierFor(score float64) Tier { return e.policy.TierFor(score) }

// Assess computes composite = Σ w·c·s / Σ w·c over the usable signals.
// Absent sources contribute nothing. When Σ w·c falls below the policy's
// minimum coverage the tier is high whatever the score.
func (e *Engine) Assess(signals []Signal) Assessment {
	used, discarded := e.normalize(signals)

	var weighted, coverage float64
	for _, s := range used {
		wc := e.policy.Weight(s.Source) * s.Confidence
		weighted += wc * s.Score
		coverage += wc
	}

	composite := 100.0
	if coverage > 0 {
		composite = clamp(weighted/coverage, 0, 100)
	}

	a := Assessment{
		ID:             id.AssessmentID(uuid.New()),
		CompositeScore: composite,
		Coverage:       coverage,
		Signals:        used,
		Discarded:      discarded,
		HardFails:      e.hardFails(used),
		PolicyVersion:  e.policy.Version,
		ComputedAt:     e.now().UTC(),
	}
	if coverage < e.policy.Thresholds.MinCoverage {
		a.Tier = TierHigh
		a.InsufficientCoverage = true
	} else {
		a.Tier = e.policy.TierFor(composite)
	}

	e.metrics.observe(a)
	return a
}

// normalize drops invalid readings and keeps one signal per source: the most
// confident, then the riskiest. Output follows AllSources order.
func (e *Engine) normalize(signals []Signal) ([]Signal, int) {
	best := make(map[Source]Signal, len(signals))
	discarded := 0
	for _, s := range signals {
		if !s.Valid() {
			discarded++
			continue
		}
		cur, seen := best[s.Source]
		if !seen || s.Confidence > cur.Confidence || (s.Confidence == cur.Confidence && s.Score > cur.Score) {
			best[s.Source] = s
		}
	}
	out := make([]Signal, 0, len(best))
	for _, src := range AllSources() {
		if s, ok := best[src]; ok {
			out = append(out, s)
		}
	}
	return out, discarded
}

func (e *Engine) hardFails(used []Signal) []string {
	var out []string
	for _, s := range used {
		switch s.Source {
		case SourceDocument:
			if exceeds(s.Indicators, IndicatorTamperProbability, e.policy.Thresholds.TamperMax) {
				out = append(out, HardFailDocumentTamper)
			}
		case SourceBiometric:
			if exceeds(s.Indicators, IndicatorDeepfakeProbability, e.policy.Thresholds.DeepfakeMax) {
				out = append(out, HardFailDeepfake)
			}
		}
	}
	return out
}

// exceeds treats a NaN indicator as tripped.
func exceeds(indicators map[string]float64, key string, limit float64) bool {
	v, ok := indicators[key]
	if !ok {
		return false
	}
	return math.IsNaN(v) || v > limit
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

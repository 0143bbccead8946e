package risk

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Policy is the versioned configuration of weights and thresholds. Every
// assessment records the version it was computed under.
type Policy struct {
	Version    string     `toml:"version"`
	Weights    Weights    `toml:"weights"`
	Thresholds Thresholds `toml:"thresholds"`
}

// Weights per source; they must sum to 1.
type Weights struct {
	Device      float64 `toml:"device"`
	Geolocation float64 `toml:"geolocation"`
	Behavior    float64 `toml:"behavior"`
	Document    float64 `toml:"document"`
	Biometric   float64 `toml:"biometric"`
}

type Thresholds struct {
	// LowMax is the highest composite score still rated low.
	LowMax float64 `toml:"low_max"`
	// HighMin is the lowest composite score rated high.
	HighMin float64 `toml:"high_min"`
	// MinCoverage below which the tier is forced high.
	MinCoverage float64 `toml:"min_coverage"`
	TamperMax   float64 `toml:"tamper_max"`
	DeepfakeMax float64 `toml:"deepfake_max"`
	// SubScorePassMax is the highest per-step risk sub-score that passes.
	SubScorePassMax float64 `toml:"sub_score_pass_max"`
}

const weightTolerance = 1e-6

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Version: "v1",
		Weights: Weights{
			Device:      0.15,
			Geolocation: 0.15,
			Behavior:    0.05,
			Document:    0.35,
			Biometric:   0.30,
		},
		Thresholds: Thresholds{
			LowMax:          30,
			HighMin:         60,
			MinCoverage:     0.30,
			TamperMax:       0.45,
			DeepfakeMax:     0.50,
			SubScorePassMax: 70,
		},
	}
}

// Weight returns the configured weight of s, or 0 for unknown sources.
func (p Policy) Weight(s Source) float64 {
	switch s {
	case SourceDevice:
		return p.Weights.Device
	case SourceGeolocation:
		return p.Weights.Geolocation
	case SourceBehavior:
		return p.Weights.Behavior
	case SourceDocument:
		return p.Weights.Document
	case SourceBiometric:
		return p.Weights.Biometric
	}
	return 0
}

// TierFor maps a composite score to its tier. It is monotonic: a higher
// score never yields a lower tier.
func (p Policy) TierFor(score float64) Tier {
	switch {
	case math.IsNaN(score) || score >= p.Thresholds.HighMin:
		return TierHigh
	case score <= p.Thresholds.LowMax:
		return TierLow
	default:
		return TierMedium
	}
}

// Validate checks the policy's internal consistency.
func (p Policy) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	sum := 0.0
	for _, s := range AllSources() {
		w := p.Weight(s)
		if math.IsNaN(w) || w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("weight for %s must be in [0,1]", s))
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %.6f", sum))
	}
	t := p.Thresholds
	if !(t.LowMax >= 0 && t.LowMax < t.HighMin && t.HighMin <= 100) {
		errs = append(errs, errors.New("thresholds must satisfy 0 <= low_max < high_min <= 100"))
	}
	for name, v := range map[string]float64{
		"min_coverage": t.MinCoverage,
		"tamper_max":   t.TamperMax,
		"deepfake_max": t.DeepfakeMax,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0,1]", name))
		}
	}
	if math.IsNaN(t.SubScorePassMax) || t.SubScorePassMax < 0 || t.SubScorePassMax > 100 {
		errs = append(errs, errors.New("sub_score_pass_max must be in [0,100]"))
	}
	return errors.Join(errs...)
}

// ParsePolicy decodes a TOML policy on top of the defaults. Unknown keys are
// rejected so that a typo cannot silently fall back to a default.
func ParsePolicy(data string) (Policy, error) {
	p := DefaultPolicy()
	md, err := toml.Decode(data, &p)
	if err != nil {
		return Policy{}, fmt.Errorf("decode risk policy: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Policy{}, fmt.Errorf("unknown risk policy keys: %v", undecoded)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid risk policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads the policy file at path; an empty path yields the default.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read risk policy: %w", err)
	}
	return ParsePolicy(string(data))
}

package ops

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
)

// Sampler decides which ops events are kept. Rates are per action with a
// default; 0 keeps nothing and 1 keeps everything.
//
// When a correlation key is supplied the decision is a deterministic function
// of the key, so either every event of one verification request is kept or
// none is. That keeps sampled timelines complete.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
}

func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[string]float64),
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clampRate(rate)
}

// ShouldSample returns true if the event should be kept.
func (s *Sampler) ShouldSample(action string) bool {
	return s.ShouldSampleKey(action, "")
}

// ShouldSampleKey is ShouldSample with a correlation key.
func (s *Sampler) ShouldSampleKey(action, key string) bool {
	rate := s.rateFor(action)
	switch {
	case rate <= 0:
		return false
	case rate >= 1:
		return true
	case key == "":
		return rand.Float64() < rate //nolint:gosec // sampling doesn't need crypto rand
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return float64(h.Sum64())/float64(math.MaxUint64) < rate
}

func (s *Sampler) rateFor(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	return math.Min(1, math.Max(0, rate))
}

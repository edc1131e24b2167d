package pacing

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Sampler draws independent delays from a triangular distribution over [Min, Max] peaking at Mode.
type Sampler struct {
	Min  time.Duration
	Max  time.Duration
	Mode time.Duration

	rng *rand.Rand
}

// NewSampler validates min <= mode <= max. A nil source uses a time seeded one.
func NewSampler(min, max, mode time.Duration, source rand.Source) (*Sampler, error) {
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid interval: min=%s max=%s", min, max)
	}
	if mode < min || mode > max {
		return nil, fmt.Errorf("interval mode %s must be between min %s and max %s", mode, min, max)
	}
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	return &Sampler{Min: min, Max: max, Mode: mode, rng: rand.New(source)}, nil
}

// FromSeconds is NewSampler for the seconds based configuration surface.
func FromSeconds(min, max, mode float64) (*Sampler, error) {
	toDuration := func(s float64) time.Duration {
		return time.Duration(s * float64(time.Second))
	}
	return NewSampler(toDuration(min), toDuration(max), toDuration(mode), nil)
}

// Sample returns the next delay.
func (s *Sampler) Sample() time.Duration {
	low := float64(s.Min)
	high := float64(s.Max)
	if high == low {
		return s.Min
	}
	mode := float64(s.Mode)

	u := s.rng.Float64()
	c := (mode - low) / (high - low)
	var value float64
	if u < c {
		value = low + math.Sqrt(u*(high-low)*(mode-low))
	} else {
		value = high - math.Sqrt((1-u)*(high-low)*(high-mode))
	}
	return time.Duration(value)
}

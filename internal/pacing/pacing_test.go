package pacing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSamplerBounds(t *testing.T) {
	s, err := NewSampler(60*time.Second, 120*time.Second, 90*time.Second, rand.NewSource(1))
	require.NoError(t, err)

	var sum time.Duration
	const n = 5000
	for i := 0; i < n; i++ {
		d := s.Sample()
		require.GreaterOrEqual(t, int64(d), int64(s.Min))
		require.LessOrEqual(t, int64(d), int64(s.Max))
		sum += d
	}

	// the mean of a triangular distribution is (min + max + mode) / 3
	mean := sum / n
	require.InDelta(t, float64(90*time.Second), float64(mean), float64(2*time.Second))
}

func TestSamplerDegenerate(t *testing.T) {
	s, err := NewSampler(time.Second, time.Second, time.Second, rand.NewSource(1))
	require.NoError(t, err)
	require.Equal(t, time.Second, s.Sample())
}

func TestSamplerValidation(t *testing.T) {
	_, err := NewSampler(10*time.Second, 5*time.Second, 7*time.Second, nil)
	require.Error(t, err)

	_, err = NewSampler(time.Second, 5*time.Second, 7*time.Second, nil)
	require.Error(t, err)

	s, err := FromSeconds(1, 2, 1.5)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, s.Mode)
}

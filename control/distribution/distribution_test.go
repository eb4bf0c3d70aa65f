package distribution_test

import (
	"math"
	"testing"

	"github.com/gatekit/gatekit/control/distribution"
	"github.com/gatekit/gatekit/servicecontrol"
	fuzz "github.com/google/gofuzz"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorValidation(t *testing.T) {
	tests := []struct {
		name string
		make func() (*servicecontrol.Distribution, error)
	}{
		{"exponential zero buckets", func() (*servicecontrol.Distribution, error) {
			return distribution.NewExponential(0, 2.0, 0.1)
		}},
		{"exponential growth of one", func() (*servicecontrol.Distribution, error) {
			return distribution.NewExponential(3, 1.0, 0.1)
		}},
		{"exponential negative scale", func() (*servicecontrol.Distribution, error) {
			return distribution.NewExponential(3, 2.0, -1)
		}},
		{"linear zero buckets", func() (*servicecontrol.Distribution, error) {
			return distribution.NewLinear(0, 1, 0)
		}},
		{"linear zero width", func() (*servicecontrol.Distribution, error) {
			return distribution.NewLinear(5, 0, 0)
		}},
		{"explicit no bounds", func() (*servicecontrol.Distribution, error) {
			return distribution.NewExplicit(nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.make()
			require.Nil(t, d)
			require.ErrorIs(t, err, distribution.ErrInvalidArgument)
		})
	}
}

func TestExponentialBucketing(t *testing.T) {
	d, err := distribution.NewExponential(3, 2.0, 0.1)
	require.NoError(t, err)
	require.Len(t, d.BucketCounts, 5)

	samples := []float64{1e-5, 0.11, 0.5, 1e5}
	for _, x := range samples {
		require.NoError(t, distribution.AddSample(d, x))
	}

	// Underflow, (0.1,0.2], skipped (0.2,0.4], (0.4,0.8], overflow.
	assert.Equal(t, []int64{1, 1, 0, 1, 1}, d.BucketCounts)
	assert.Equal(t, int64(4), d.Count)
	assert.Equal(t, 1e-5, d.Minimum)
	assert.Equal(t, 1e5, d.Maximum)

	mean, ss := directStats(samples)
	assert.InEpsilon(t, mean, d.Mean, 1e-5)
	assert.InEpsilon(t, ss, d.SumOfSquaredDeviation, 1e-5)
}

func TestLinearBucketing(t *testing.T) {
	d, err := distribution.NewLinear(4, 10, 100)
	require.NoError(t, err)

	for _, x := range []float64{99, 100, 104, 106, 145, 1e9} {
		require.NoError(t, distribution.AddSample(d, x))
	}
	// 99 and 100 underflow; 104 rounds down into the first bucket; 106
	// rounds up into the second; 145 and 1e9 overflow.
	assert.Equal(t, []int64{2, 1, 1, 0, 0, 2}, d.BucketCounts)
}

func TestExplicitBucketing(t *testing.T) {
	d, err := distribution.NewExplicit([]float64{3, 1, 2, 2})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, d.ExplicitBuckets.Bounds)
	require.Len(t, d.BucketCounts, 4)

	for _, x := range []float64{0.5, 1, 1.5, 3, 99} {
		require.NoError(t, distribution.AddSample(d, x))
	}
	// A sample equal to a bound lands above it: 1 joins 1.5, 3 joins 99's
	// side of the last bound.
	assert.Equal(t, []int64{1, 2, 0, 2}, d.BucketCounts)
}

func TestAddSampleRejectsNonFinite(t *testing.T) {
	d, err := distribution.NewLinear(2, 1, 0)
	require.NoError(t, err)
	require.ErrorIs(t, distribution.AddSample(d, math.NaN()), distribution.ErrInvalidArgument)
	require.ErrorIs(t, distribution.AddSample(d, math.Inf(1)), distribution.ErrInvalidArgument)
	require.Equal(t, int64(0), d.Count)
}

func TestAddSampleRejectsMalformed(t *testing.T) {
	err := distribution.AddSample(&servicecontrol.Distribution{}, 1)
	require.ErrorIs(t, err, distribution.ErrInvalidArgument)

	short := &servicecontrol.Distribution{
		BucketCounts:  make([]int64, 2),
		LinearBuckets: &servicecontrol.LinearBuckets{NumFiniteBuckets: 4, Width: 1},
	}
	err = distribution.AddSample(short, 1)
	require.ErrorIs(t, err, distribution.ErrInvalidArgument)
}

func TestMergeMatchesStreaming(t *testing.T) {
	samples := []float64{0.01, 0.3, 0.3, 2.5, 40, 41, 300, 0.12}

	whole, err := distribution.NewExponential(6, 3.0, 0.1)
	require.NoError(t, err)
	left, err := distribution.NewExponential(6, 3.0, 0.1)
	require.NoError(t, err)
	right, err := distribution.NewExponential(6, 3.0, 0.1)
	require.NoError(t, err)

	for i, x := range samples {
		require.NoError(t, distribution.AddSample(whole, x))
		if i%2 == 0 {
			require.NoError(t, distribution.AddSample(left, x))
		} else {
			require.NoError(t, distribution.AddSample(right, x))
		}
	}

	merged, err := distribution.Merge(left, right)
	require.NoError(t, err)
	assert.Equal(t, whole.BucketCounts, merged.BucketCounts)
	assert.Equal(t, whole.Count, merged.Count)
	assert.Equal(t, whole.Minimum, merged.Minimum)
	assert.Equal(t, whole.Maximum, merged.Maximum)
	assert.InEpsilon(t, whole.Mean, merged.Mean, 1e-9)
	assert.InEpsilon(t, whole.SumOfSquaredDeviation, merged.SumOfSquaredDeviation, 1e-9)

	// Inputs are not mutated.
	assert.Equal(t, int64(4), left.Count)
	assert.Equal(t, int64(4), right.Count)
}

func TestMergeEmptySides(t *testing.T) {
	a, err := distribution.NewLinear(3, 1, 0)
	require.NoError(t, err)
	require.NoError(t, distribution.AddSample(a, 1.2))
	empty, err := distribution.NewLinear(3, 1, 0)
	require.NoError(t, err)

	m, err := distribution.Merge(a, empty)
	require.NoError(t, err)
	assert.Equal(t, a.BucketCounts, m.BucketCounts)
	assert.Equal(t, a.Mean, m.Mean)

	m, err = distribution.Merge(empty, a)
	require.NoError(t, err)
	assert.Equal(t, a.BucketCounts, m.BucketCounts)
	assert.Equal(t, a.Minimum, m.Minimum)
}

func TestMergeSchemeMismatch(t *testing.T) {
	exp, err := distribution.NewExponential(3, 2.0, 0.1)
	require.NoError(t, err)
	lin, err := distribution.NewLinear(3, 2.0, 0.1)
	require.NoError(t, err)
	scaled, err := distribution.NewExponential(3, 2.0, 0.2)
	require.NoError(t, err)

	_, err = distribution.Merge(exp, lin)
	require.ErrorIs(t, err, distribution.ErrInvalidArgument)
	_, err = distribution.Merge(exp, scaled)
	require.ErrorIs(t, err, distribution.ErrInvalidArgument)
	require.True(t, errors.Is(err, distribution.ErrInvalidArgument))
}

func TestSameBucketingTolerance(t *testing.T) {
	a, err := distribution.NewExponential(3, 2.0, 0.1)
	require.NoError(t, err)
	b, err := distribution.NewExponential(3, 2.0+5e-6, 0.1-5e-6)
	require.NoError(t, err)
	assert.True(t, distribution.SameBucketing(a, b))

	c, err := distribution.NewExponential(3, 2.1, 0.1)
	require.NoError(t, err)
	assert.False(t, distribution.SameBucketing(a, c))
}

func TestMergeFuzzedSamples(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for trial := 0; trial < 20; trial++ {
		var raw []float64
		f.NumElements(1, 200).Fuzz(&raw)

		whole, err := distribution.NewLinear(10, 0.1, 0)
		require.NoError(t, err)
		parts := make([]*servicecontrol.Distribution, 3)
		for i := range parts {
			parts[i], err = distribution.NewLinear(10, 0.1, 0)
			require.NoError(t, err)
		}
		for i, x := range raw {
			require.NoError(t, distribution.AddSample(whole, x))
			require.NoError(t, distribution.AddSample(parts[i%3], x))
		}

		merged := parts[0]
		for _, p := range parts[1:] {
			merged, err = distribution.Merge(merged, p)
			require.NoError(t, err)
		}

		require.Equal(t, whole.Count, merged.Count)
		require.Equal(t, whole.BucketCounts, merged.BucketCounts)
		if whole.Count > 0 {
			require.InDelta(t, whole.Mean, merged.Mean, 1e-9)
			require.InDelta(t, whole.SumOfSquaredDeviation, merged.SumOfSquaredDeviation, 1e-6)
		}
	}
}

// directStats recomputes mean and the sum of squared deviations in two
// passes to cross-check the streaming update.
func directStats(samples []float64) (mean, ss float64) {
	for _, x := range samples {
		mean += x
	}
	mean /= float64(len(samples))
	for _, x := range samples {
		ss += (x - mean) * (x - mean)
	}
	return mean, ss
}

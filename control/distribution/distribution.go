// Package distribution builds and merges the bucketed histograms carried by
// metric values. Histograms are streamed one sample at a time: count, mean,
// extremes and the sum of squared deviations are maintained online so a
// distribution can absorb samples indefinitely without retaining them.
package distribution

import (
	"math"
	"sort"

	"github.com/gatekit/gatekit/servicecontrol"
	"github.com/pkg/errors"
)

// ErrInvalidArgument is returned when construction parameters, a sample or a
// merge violate the histogram invariants. These are programmer errors; they
// are never retried.
var ErrInvalidArgument = errors.New("invalid distribution argument")

// Bucket schemes are compared with a small tolerance so that values which
// travelled through JSON stay mergeable.
const tolerance = 1e-5

// NewExponential returns a distribution with numFiniteBuckets geometric
// buckets: bucket 0 holds samples ≤ scale, bucket i holds samples in
// (scale·growth^(i−1), scale·growth^i], and the overflow bucket holds the
// rest.
func NewExponential(numFiniteBuckets int32, growthFactor, scale float64) (*servicecontrol.Distribution, error) {
	if numFiniteBuckets <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "exponential buckets: non-positive bucket count %d", numFiniteBuckets)
	}
	if growthFactor <= 1.0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "exponential buckets: growth factor %v must exceed 1", growthFactor)
	}
	if scale <= 0.0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "exponential buckets: non-positive scale %v", scale)
	}
	return &servicecontrol.Distribution{
		BucketCounts: make([]int64, numFiniteBuckets+2),
		ExponentialBuckets: &servicecontrol.ExponentialBuckets{
			NumFiniteBuckets: numFiniteBuckets,
			GrowthFactor:     growthFactor,
			Scale:            scale,
		},
	}, nil
}

// NewLinear returns a distribution with numFiniteBuckets evenly sized
// buckets of the given width, offset by offset.
func NewLinear(numFiniteBuckets int32, width, offset float64) (*servicecontrol.Distribution, error) {
	if numFiniteBuckets <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "linear buckets: non-positive bucket count %d", numFiniteBuckets)
	}
	if width <= 0.0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "linear buckets: non-positive width %v", width)
	}
	return &servicecontrol.Distribution{
		BucketCounts: make([]int64, numFiniteBuckets+2),
		LinearBuckets: &servicecontrol.LinearBuckets{
			NumFiniteBuckets: numFiniteBuckets,
			Width:            width,
			Offset:           offset,
		},
	}, nil
}

// NewExplicit returns a distribution bucketed by the given bounds. Bounds
// are sorted and de-duplicated; at least one bound is required.
func NewExplicit(bounds []float64) (*servicecontrol.Distribution, error) {
	if len(bounds) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "explicit buckets: no bounds")
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	unique := sorted[:1]
	for _, b := range sorted[1:] {
		if b != unique[len(unique)-1] {
			unique = append(unique, b)
		}
	}
	return &servicecontrol.Distribution{
		BucketCounts:    make([]int64, len(unique)+1),
		ExplicitBuckets: &servicecontrol.ExplicitBuckets{Bounds: unique},
	}, nil
}

// AddSample records one sample in d, updating the running statistics via
// Welford's algorithm and incrementing the matching bucket count.
func AddSample(d *servicecontrol.Distribution, x float64) error {
	if err := validate(d); err != nil {
		return err
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return errors.Wrapf(ErrInvalidArgument, "sample %v is not finite", x)
	}

	if d.Count == 0 {
		d.Minimum = x
		d.Maximum = x
	} else {
		d.Minimum = math.Min(d.Minimum, x)
		d.Maximum = math.Max(d.Maximum, x)
	}
	d.Count++
	oldMean := d.Mean
	d.Mean = oldMean + (x-oldMean)/float64(d.Count)
	d.SumOfSquaredDeviation += (x - oldMean) * (x - d.Mean)

	d.BucketCounts[bucketIndex(d, x)]++
	return nil
}

// bucketIndex places x in one of the distribution's buckets. For the
// exponential scheme the index is 1 + floor(log(x/scale)/log(growth)).
// Truncating toward zero equals floor here because both operands of the
// quotient are positive once x exceeds scale.
func bucketIndex(d *servicecontrol.Distribution, x float64) int {
	switch {
	case d.ExponentialBuckets != nil:
		b := d.ExponentialBuckets
		if x <= b.Scale {
			return 0
		}
		idx := 1 + int(math.Log(x/b.Scale)/math.Log(b.GrowthFactor))
		return clamp(idx, int(b.NumFiniteBuckets)+1)
	case d.LinearBuckets != nil:
		b := d.LinearBuckets
		if x <= b.Offset {
			return 0
		}
		idx := 1 + int(math.Round((x-b.Offset)/b.Width))
		return clamp(idx, int(b.NumFiniteBuckets)+1)
	default:
		bounds := d.ExplicitBuckets.Bounds
		// Number of bounds ≤ x; a sample equal to a bound lands in the
		// bucket above it.
		return sort.Search(len(bounds), func(i int) bool { return bounds[i] > x })
	}
}

func clamp(idx, max int) int {
	if idx > max {
		return max
	}
	return idx
}

// Merge combines two distributions over the same bucketing scheme into a
// fresh one. Counts and buckets add; the mean is count-weighted; the sum of
// squared deviations absorbs the distance of each input mean from the
// combined mean.
func Merge(a, b *servicecontrol.Distribution) (*servicecontrol.Distribution, error) {
	if err := validate(a); err != nil {
		return nil, err
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	if !SameBucketing(a, b) {
		return nil, errors.Wrap(ErrInvalidArgument, "merge of distributions with different bucketing schemes")
	}

	out := servicecontrol.CloneDistribution(a)
	if b.Count == 0 {
		return out, nil
	}
	if a.Count == 0 {
		return servicecontrol.CloneDistribution(b), nil
	}

	count := a.Count + b.Count
	mean := (a.Mean*float64(a.Count) + b.Mean*float64(b.Count)) / float64(count)
	out.Count = count
	out.Mean = mean
	out.Minimum = math.Min(a.Minimum, b.Minimum)
	out.Maximum = math.Max(a.Maximum, b.Maximum)
	out.SumOfSquaredDeviation = a.SumOfSquaredDeviation + b.SumOfSquaredDeviation +
		float64(a.Count)*(mean-a.Mean)*(mean-a.Mean) +
		float64(b.Count)*(mean-b.Mean)*(mean-b.Mean)
	for i, c := range b.BucketCounts {
		out.BucketCounts[i] += c
	}
	return out, nil
}

// SameBucketing reports whether two distributions use the same bucket
// scheme, comparing scheme parameters within a small tolerance and bucket
// slices by length.
func SameBucketing(a, b *servicecontrol.Distribution) bool {
	if len(a.BucketCounts) != len(b.BucketCounts) {
		return false
	}
	switch {
	case a.ExponentialBuckets != nil && b.ExponentialBuckets != nil:
		x, y := a.ExponentialBuckets, b.ExponentialBuckets
		return x.NumFiniteBuckets == y.NumFiniteBuckets &&
			approxEqual(x.GrowthFactor, y.GrowthFactor) &&
			approxEqual(x.Scale, y.Scale)
	case a.LinearBuckets != nil && b.LinearBuckets != nil:
		x, y := a.LinearBuckets, b.LinearBuckets
		return x.NumFiniteBuckets == y.NumFiniteBuckets &&
			approxEqual(x.Width, y.Width) &&
			approxEqual(x.Offset, y.Offset)
	case a.ExplicitBuckets != nil && b.ExplicitBuckets != nil:
		x, y := a.ExplicitBuckets.Bounds, b.ExplicitBuckets.Bounds
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !approxEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func validate(d *servicecontrol.Distribution) error {
	if d == nil {
		return errors.Wrap(ErrInvalidArgument, "nil distribution")
	}
	var want int
	switch {
	case d.ExponentialBuckets != nil:
		want = int(d.ExponentialBuckets.NumFiniteBuckets) + 2
	case d.LinearBuckets != nil:
		want = int(d.LinearBuckets.NumFiniteBuckets) + 2
	case d.ExplicitBuckets != nil:
		want = len(d.ExplicitBuckets.Bounds) + 1
	default:
		return errors.Wrap(ErrInvalidArgument, "distribution carries no bucket option")
	}
	if len(d.BucketCounts) != want {
		return errors.Wrapf(ErrInvalidArgument, "distribution has %d bucket counts, scheme needs %d", len(d.BucketCounts), want)
	}
	return nil
}

package asyncrt

import "math"

// quantileEstimator streams a single quantile estimate using the P-Square
// algorithm, so LatencyMetrics never has to retain every sample to report a
// percentile. Jain, R. and Chlamtac, I. (1985), "The P^2 Algorithm for
// Dynamic Calculation of Quantiles and Histograms Without Storing
// Observations", Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not safe for concurrent use; LatencyMetrics.mu serializes access.
type quantileEstimator struct {
	target float64

	height   [5]float64 // marker heights q[i]
	position [5]int     // marker positions n[i]
	desired  [5]float64 // desired marker positions n'[i]
	step     [5]float64 // increments to desired positions dn[i]

	seeded bool
	seen   int
	seed   [5]float64
}

func newQuantileEstimator(target float64) *quantileEstimator {
	if target < 0 {
		target = 0
	} else if target > 1 {
		target = 1
	}
	return &quantileEstimator{
		target: target,
		step:   [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// Observe feeds one sample into the estimator; O(1) regardless of how many
// samples came before.
func (e *quantileEstimator) Observe(x float64) {
	e.seen++

	if e.seen <= 5 {
		e.seed[e.seen-1] = x
		if e.seen == 5 {
			e.seedMarkers()
		}
		return
	}

	cell := e.locate(x)
	for i := cell + 1; i < 5; i++ {
		e.position[i]++
	}
	for i := range e.desired {
		e.desired[i] += e.step[i]
	}
	e.adjustInteriorMarkers()
}

// locate finds which of the 4 cells x falls in, extending the extremes if
// x is a new min/max.
func (e *quantileEstimator) locate(x float64) int {
	switch {
	case x < e.height[0]:
		e.height[0] = x
		return 0
	case x >= e.height[4]:
		e.height[4] = x
		return 3
	}
	for k := 0; k < 4; k++ {
		if e.height[k] <= x && x < e.height[k+1] {
			return k
		}
	}
	return 3
}

func (e *quantileEstimator) seedMarkers() {
	// insertion sort; 5 elements, not worth pulling in sort.Slice
	for i := 1; i < 5; i++ {
		key := e.seed[i]
		j := i - 1
		for j >= 0 && e.seed[j] > key {
			e.seed[j+1] = e.seed[j]
			j--
		}
		e.seed[j+1] = key
	}
	for i := range e.height {
		e.height[i] = e.seed[i]
		e.position[i] = i
	}
	e.desired = [5]float64{0, 2 * e.target, 4 * e.target, 2 + 2*e.target, 4}
	e.seeded = true
}

// adjustInteriorMarkers moves markers 1-3 toward their desired positions
// via the parabolic formula, falling back to linear interpolation when the
// parabolic estimate would overshoot a neighboring marker.
func (e *quantileEstimator) adjustInteriorMarkers() {
	for i := 1; i < 4; i++ {
		d := e.desired[i] - float64(e.position[i])
		switch {
		case d >= 1 && e.position[i+1]-e.position[i] > 1:
			e.moveMarker(i, 1)
		case d <= -1 && e.position[i-1]-e.position[i] < -1:
			e.moveMarker(i, -1)
		}
	}
}

func (e *quantileEstimator) moveMarker(i, dir int) {
	d := float64(dir)
	qp := e.parabolic(i, d)
	if e.height[i-1] < qp && qp < e.height[i+1] {
		e.height[i] = qp
	} else {
		e.height[i] = e.linear(i, dir)
	}
	e.position[i] += dir
}

func (e *quantileEstimator) parabolic(i int, d float64) float64 {
	n, nPrev, nNext := float64(e.position[i]), float64(e.position[i-1]), float64(e.position[i+1])
	a := d / (nNext - nPrev)
	b := (n - nPrev + d) * (e.height[i+1] - e.height[i]) / (nNext - n)
	c := (nNext - n - d) * (e.height[i] - e.height[i-1]) / (n - nPrev)
	return e.height[i] + a*(b+c)
}

func (e *quantileEstimator) linear(i, dir int) float64 {
	if dir == 1 {
		return e.height[i] + (e.height[i+1]-e.height[i])/float64(e.position[i+1]-e.position[i])
	}
	return e.height[i] - (e.height[i]-e.height[i-1])/float64(e.position[i]-e.position[i-1])
}

// Value returns the current quantile estimate, falling back to an exact
// computation over the seed buffer when fewer than 5 samples have arrived.
func (e *quantileEstimator) Value() float64 {
	if e.seen == 0 {
		return 0
	}
	if e.seen < 5 {
		sorted := e.seed
		n := e.seen
		for i := 1; i < n; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(n-1) * e.target)
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}
	return e.height[2]
}

// percentileSet tracks the four percentiles LatencyMetrics reports (P50,
// P90, P95, P99) plus running sum/max/count, as one unit sharing a single
// observation loop instead of a caller juggling a slice of independent
// estimators by index.
type percentileSet struct {
	p50, p90, p95, p99 *quantileEstimator
	sum                float64
	count              int
	max                float64
}

func newPercentileSet(p50, p90, p95, p99 float64) *percentileSet {
	return &percentileSet{
		p50: newQuantileEstimator(p50),
		p90: newQuantileEstimator(p90),
		p95: newQuantileEstimator(p95),
		p99: newQuantileEstimator(p99),
		max: -math.MaxFloat64,
	}
}

// Update feeds x into all four tracked percentiles; O(1) per tracked
// percentile.
func (s *percentileSet) Update(x float64) {
	s.count++
	s.sum += x
	if x > s.max {
		s.max = x
	}
	s.p50.Observe(x)
	s.p90.Observe(x)
	s.p95.Observe(x)
	s.p99.Observe(x)
}

// Quantile returns the i-th tracked percentile's current estimate, in the
// fixed order P50=0, P90=1, P95=2, P99=3 — LatencyMetrics.Sample uses this
// indexed form to fill its four cached fields from one loop-free call site.
func (s *percentileSet) Quantile(i int) float64 {
	switch i {
	case 0:
		return s.p50.Value()
	case 1:
		return s.p90.Value()
	case 2:
		return s.p95.Value()
	case 3:
		return s.p99.Value()
	default:
		return 0
	}
}

// Count returns the total number of observations fed to Update.
func (s *percentileSet) Count() int { return s.count }

// Sum returns the running sum of all observations.
func (s *percentileSet) Sum() float64 { return s.sum }

// Max returns the largest observation seen.
func (s *percentileSet) Max() float64 {
	if s.count == 0 {
		return 0
	}
	return s.max
}

// Mean returns the arithmetic mean of all observations.
func (s *percentileSet) Mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

package score

import (
	"sort"
	"sync"

	"github.com/selmend/selmend/selector"
)

// minObservations is how many (prediction, outcome) pairs a key needs
// before its calibration adjustment is trusted. Below that the adjustment
// is exactly zero.
const minObservations = 5

// prefixLen bounds the value prefix used in calibration keys, so selectors
// from the same family share a bucket.
const prefixLen = 8

// CalibratingScorer wraps a Scorer and nudges its predictions by the
// observed gap between predicted scores and actual outcomes, keyed by
// (type, value prefix). It is safe for concurrent use.
type CalibratingScorer struct {
	inner *Scorer

	mu      sync.Mutex
	buckets map[string]*calibration
}

type calibration struct {
	count        int
	predictedSum float64
	actualSum    float64
}

// NewCalibrating wraps s with outcome calibration.
func NewCalibrating(s *Scorer) *CalibratingScorer {
	return &CalibratingScorer{
		inner:   s,
		buckets: make(map[string]*calibration),
	}
}

// Record stores one (predicted, actual) observation for the selector's
// calibration bucket.
func (c *CalibratingScorer) Record(sel selector.Selector, predicted float64, actual bool) {
	a := 0.0
	if actual {
		a = 1.0
	}
	key := calibKey(sel)

	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buckets[key]
	if b == nil {
		b = &calibration{}
		c.buckets[key] = b
	}
	b.count++
	b.predictedSum += predicted
	b.actualSum += a
}

// Adjustment returns mean actual minus mean predicted for the selector's
// bucket, or 0 when fewer than minObservations exist.
func (c *CalibratingScorer) Adjustment(sel selector.Selector) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buckets[calibKey(sel)]
	if b == nil || b.count < minObservations {
		return 0
	}
	n := float64(b.count)
	return b.actualSum/n - b.predictedSum/n
}

// Score returns the inner score shifted by the calibration adjustment,
// clamped to [0,1].
func (c *CalibratingScorer) Score(sel selector.Selector, ctx selector.HealingContext) float64 {
	return clamp01(c.inner.Score(sel, ctx) + c.Adjustment(sel))
}

// ScoreCandidates mirrors Scorer.ScoreCandidates with calibration applied.
func (c *CalibratingScorer) ScoreCandidates(candidates []selector.Selector, ctx selector.HealingContext) []Scored {
	out := c.inner.ScoreCandidates(candidates, ctx)
	adjusted := false
	for i := range out {
		if adj := c.Adjustment(out[i].Selector); adj != 0 {
			out[i].Score = clamp01(out[i].Score + adj)
			adjusted = true
		}
	}
	if adjusted {
		// Re-sort only when an adjustment actually moved a score.
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	}
	return out
}

func calibKey(sel selector.Selector) string {
	v := sel.Value
	if len(v) > prefixLen {
		v = v[:prefixLen]
	}
	return string(sel.Type) + "|" + v
}

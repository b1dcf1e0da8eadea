// Package score assigns confidence scores to candidate selectors.
//
// Scoring is a pure function of the selector and the healing context: no
// I/O, no shared state, safe to run in parallel across unrelated selectors.
// Uniqueness in particular is a cheap heuristic estimate; the healer asks
// the page analyzer for ground truth separately.
package score

import (
	"sort"
	"strings"

	"github.com/selmend/selmend/selector"
)

// Sub-score weights. Type reliability is the base score at weight 1.0; the
// final score is the weighted sum normalised by the total weight.
const (
	weightType        = 1.0
	weightSpecificity = 0.25
	weightHistory     = 0.35
	weightContext     = 0.20
	weightUniqueness  = 0.20

	totalWeight = weightType + weightSpecificity + weightHistory + weightContext + weightUniqueness
)

// Bayesian prior for the historical sub-score: selectors with little history
// regress toward a 0.7 success rate backed by 5 virtual observations.
const (
	priorRate   = 0.7
	priorWeight = 5.0
)

// typeReliability ranks locator types by empirical robustness.
var typeReliability = map[selector.Type]float64{
	selector.TypeID:            0.95,
	selector.TypeDataAttribute: 0.90,
	selector.TypeName:          0.85,
	selector.TypeARIA:          0.80,
	selector.TypeCSS:           0.70,
	selector.TypeAttribute:     0.65,
	selector.TypeXPath:         0.60,
	selector.TypeComposite:     0.55,
	selector.TypeClass:         0.50,
	selector.TypeTag:           0.30,
	selector.TypeText:          0.25,
}

// Scored pairs a candidate with its confidence score.
type Scored struct {
	Selector selector.Selector `json:"selector"`
	Score    float64           `json:"score"`
}

// Scorer computes confidence scores. The zero value is not usable; use New.
type Scorer struct{}

// New returns a Scorer.
func New() *Scorer { return &Scorer{} }

// Score returns a confidence in [0,1] that sel correctly and uniquely
// identifies the element described by ctx.
func (s *Scorer) Score(sel selector.Selector, ctx selector.HealingContext) float64 {
	typeScore := reliability(sel.Type)
	spec := specificity(sel)
	hist := historical(sel.Metadata)
	match := contextMatch(sel, ctx)
	uniq := uniqueness(sel, spec, typeScore)

	sum := weightType*typeScore +
		weightSpecificity*spec +
		weightHistory*hist +
		weightContext*match +
		weightUniqueness*uniq

	return clamp01(sum / totalWeight)
}

// ScoreCandidates scores every candidate and returns them sorted by score
// descending. The sort is stable: ties keep input order. No other side
// effects.
func (s *Scorer) ScoreCandidates(candidates []selector.Selector, ctx selector.HealingContext) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Selector: c, Score: s.Score(c, ctx)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func reliability(t selector.Type) float64 {
	if r, ok := typeReliability[t]; ok {
		return r
	}
	return 0.5
}

// specificity scores the selector string itself: anchored selectors are
// best, positional ones are fragile.
func specificity(sel selector.Selector) float64 {
	v := sel.Value
	if sel.Type == selector.TypeID || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "/html") {
		return 1.0
	}

	score := 0.5
	if strings.Contains(v, "[data-") || strings.Contains(v, "@data-") {
		score += 0.2
	}
	if strings.Count(v, ".") > 1 || strings.Count(v, "[") > 1 {
		score += 0.15
	}
	if strings.Contains(v, ">") {
		score += 0.1
	}
	if len(v) > 50 {
		score -= 0.15
	}
	if strings.Contains(v, ":nth-child") || strings.Contains(v, ":nth-of-type") {
		score -= 0.25
	}
	return clamp01(score)
}

// historical blends the selector's own success rate with the prior so a
// handful of observations cannot swing the score to an extreme.
func historical(m selector.Metadata) float64 {
	n := float64(m.UsageCount)
	return (m.SuccessRate*n + priorRate*priorWeight) / (n + priorWeight)
}

// contextMatch rewards candidates whose string embeds values observed on
// the target element. An id match is the strongest possible signal.
func contextMatch(sel selector.Selector, ctx selector.HealingContext) float64 {
	best := 0.0
	for key, val := range ctx.ElementAttributes {
		if val == "" || !strings.Contains(sel.Value, val) {
			continue
		}
		var w float64
		switch {
		case key == "id":
			w = 1.0
		case strings.HasPrefix(key, "data-"):
			w = 0.8
		case key == "name":
			w = 0.7
		case key == "class":
			w = 0.5
		default:
			w = 0.4
		}
		if w > best {
			best = w
		}
	}

	if sel.Type == selector.TypeText && ctx.SurroundingText != "" &&
		strings.Contains(ctx.SurroundingText, textNeedle(sel.Value)) {
		best += 0.2
	}
	if ctx.ParentSelector != "" && strings.Contains(sel.Value, ctx.ParentSelector) {
		best += 0.1
	}
	return clamp01(best)
}

// textNeedle extracts the literal from a text XPath so it can be compared
// against surrounding text. Falls back to the raw value.
func textNeedle(v string) string {
	for _, q := range []string{`"`, `'`} {
		if i := strings.Index(v, q); i >= 0 {
			if j := strings.LastIndex(v, q); j > i {
				return v[i+1 : j]
			}
		}
	}
	return v
}

// uniqueness estimates how likely the selector resolves to a single
// element. Ids are unique by definition; everything else is approximated
// from specificity and type reliability until the analyzer is consulted.
func uniqueness(sel selector.Selector, spec, typeScore float64) float64 {
	if sel.Type == selector.TypeID {
		return 1.0
	}
	return (spec + typeScore) / 2
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

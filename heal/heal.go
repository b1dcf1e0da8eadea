// Package heal orchestrates the self-healing pipeline: known alternatives
// first, then freshly generated candidates, then composites built from
// structurally similar elements. Each stage stops as soon as a candidate
// clears the confidence bar and survives live validation.
//
// The healer holds narrow capability interfaces injected at construction;
// it never depends on concrete scorer, generator, analyzer, or repository
// types.
package heal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/selmend/selmend/score"
	"github.com/selmend/selmend/selector"
)

// Scorer assigns confidence scores to candidates. Implementations must be
// pure and safe for concurrent use.
type Scorer interface {
	Score(sel selector.Selector, ctx selector.HealingContext) float64
	ScoreCandidates(candidates []selector.Selector, ctx selector.HealingContext) []score.Scored
}

// OutcomeRecorder is implemented by scorers that calibrate future
// predictions against observed validation outcomes.
type OutcomeRecorder interface {
	Record(sel selector.Selector, predicted float64, actual bool)
}

// Generator produces candidate selectors.
type Generator interface {
	FromAttributes(attrs map[string]string, elementText string) []selector.Selector
	FromContext(ctx selector.HealingContext) []selector.Selector
	Composite(pool []selector.Selector) []selector.Selector
}

// PageAnalyzer is the external collaborator that inspects the live page.
// Calls may be slow and must honour ctx cancellation.
type PageAnalyzer interface {
	// ValidateSelector reports whether sel resolves to exactly one element.
	ValidateSelector(ctx context.Context, sel selector.Selector) (bool, error)
	// FindSimilarElements enumerates elements structurally similar to the
	// one described by hctx.
	FindSimilarElements(ctx context.Context, hctx selector.HealingContext) ([]selector.Element, error)
	// ElementAt returns the element a selector resolves to, or nil.
	ElementAt(ctx context.Context, sel selector.Selector) (*selector.Element, error)
}

// Repository persists selectors, alternatives, and usage outcomes.
type Repository interface {
	Get(ctx context.Context, id string) (*selector.Selector, error)
	GetByValue(ctx context.Context, value string, typ selector.Type) (*selector.Selector, error)
	Save(ctx context.Context, sel *selector.Selector) error
	Alternatives(ctx context.Context, parentID string) ([]selector.Selector, error)
	AppendAlternative(ctx context.Context, parentID string, alt selector.Selector) error
	RecordUsage(ctx context.Context, id string, success bool) error
	LowConfidence(ctx context.Context, tenantID string, threshold float64, limit int) ([]selector.Selector, error)
}

// Options tune one healer instance.
type Options struct {
	// MinConfidence is the acceptance bar. Default 0.5.
	MinConfidence float64
	// MaxAttempts bounds analyzer validations per heal. Default 5.
	MaxAttempts int
}

// highConfidence short-circuits the alternatives stage: a validated
// alternative at or above this score is good enough to stop looking.
const highConfidence = 0.9

// How many similar elements feed the composite stage, and how large the
// composite candidate pool may grow.
const (
	maxSimilarElements = 5
	maxCompositePool   = 10
)

// persistTimeout bounds the fire-and-forget persistence of a winning
// alternative; it runs detached from the caller's context.
const persistTimeout = 5 * time.Second

// Healer drives the healing pipeline. Stateless per call; safe for
// concurrent use as long as its collaborators are.
type Healer struct {
	scorer   Scorer
	gen      Generator
	analyzer PageAnalyzer
	repo     Repository
	opts     Options
	logger   *slog.Logger
	newID    func() string
}

// New creates a Healer. repo may be nil for a purely advisory healer that
// neither loads alternatives nor persists outcomes.
func New(scorer Scorer, gen Generator, analyzer PageAnalyzer, repo Repository, opts Options, logger *slog.Logger, newID func() string) *Healer {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{
		scorer:   scorer,
		gen:      gen,
		analyzer: analyzer,
		repo:     repo,
		opts:     opts,
		logger:   logger,
		newID:    newID,
	}
}

// attempt tracks the mutable state of one heal call.
type attempt struct {
	attempts   int
	evaluated  int
	best       *selector.Selector
	bestScore  float64
	analyzeErr error
}

// validate consumes one attempt and asks the analyzer whether the
// candidate resolves to exactly one element. Attempt exhaustion reads as
// invalid, not as an error. Real analyzer verdicts are fed back to a
// calibrating scorer; exhaustion and analyzer errors are not, since they
// say nothing about the prediction.
func (h *Healer) validate(ctx context.Context, a *attempt, sel selector.Selector, predicted float64) bool {
	if a.attempts >= h.opts.MaxAttempts {
		return false
	}
	a.attempts++
	ok, err := h.analyzer.ValidateSelector(ctx, sel)
	if err != nil {
		a.analyzeErr = err
		h.logger.Debug("heal: validate failed", "selector", sel.Value, "error", err)
		return false
	}
	if rec, recording := h.scorer.(OutcomeRecorder); recording {
		rec.Record(sel, predicted, ok)
	}
	return ok
}

// Heal runs the pipeline for one broken selector and returns an immutable
// result. Analyzer failures surface as a failed result, never as a panic
// or an error that would abort a batch.
func (h *Healer) Heal(ctx context.Context, broken selector.Selector, hctx selector.HealingContext) selector.HealingResult {
	start := time.Now()
	a := &attempt{}

	healed, confidence := h.tryAlternatives(ctx, a, broken, hctx)
	if healed == nil || confidence < h.opts.MinConfidence {
		if s, c := h.tryGenerated(ctx, a, hctx); s != nil && c >= h.opts.MinConfidence {
			healed, confidence = s, c
		}
	}
	if healed == nil || confidence < h.opts.MinConfidence {
		if s, c := h.tryComposite(ctx, a, hctx); s != nil && c >= h.opts.MinConfidence {
			healed, confidence = s, c
		}
	}

	if healed != nil && confidence >= h.opts.MinConfidence {
		return h.success(a, broken, *healed, confidence, start)
	}
	return h.failure(a, broken, start)
}

// tryAlternatives walks previously accepted replacements in order,
// validating and scoring each, and returns the best validated one.
func (h *Healer) tryAlternatives(ctx context.Context, a *attempt, broken selector.Selector, hctx selector.HealingContext) (*selector.Selector, float64) {
	alts := broken.Alternatives
	if len(alts) == 0 && h.repo != nil && broken.ID != "" {
		loaded, err := h.repo.Alternatives(ctx, broken.ID)
		if err != nil {
			h.logger.Warn("heal: load alternatives failed", "selector", broken.ID, "error", err)
		} else {
			alts = loaded
		}
	}

	var best *selector.Selector
	bestScore := 0.0
	for i := range alts {
		if a.attempts >= h.opts.MaxAttempts {
			break
		}
		alt := alts[i]
		a.evaluated++
		s := h.scorer.Score(alt, hctx)
		if !h.validate(ctx, a, alt, s) {
			continue
		}
		if s > bestScore {
			best, bestScore = &alts[i], s
		}
		if s >= highConfidence {
			break
		}
	}

	if best != nil && bestScore > a.bestScore {
		a.best, a.bestScore = best, bestScore
	}
	return best, bestScore
}

// tryGenerated scores all generated candidates and accepts the first one
// that both clears the bar and validates. Sub-threshold bests are kept for
// diagnostics only.
func (h *Healer) tryGenerated(ctx context.Context, a *attempt, hctx selector.HealingContext) (*selector.Selector, float64) {
	candidates := h.gen.FromAttributes(hctx.ElementAttributes, hctx.SurroundingText)
	candidates = append(candidates, h.gen.FromContext(hctx)...)
	if len(candidates) == 0 {
		return nil, 0
	}

	scored := h.scorer.ScoreCandidates(candidates, hctx)
	a.evaluated += len(scored)

	for i := range scored {
		sc := scored[i]
		if sc.Score > a.bestScore {
			a.best, a.bestScore = &scored[i].Selector, sc.Score
		}
		if sc.Score < h.opts.MinConfidence {
			// Sorted descending: nothing further can clear the bar.
			break
		}
		if a.attempts >= h.opts.MaxAttempts {
			break
		}
		if h.validate(ctx, a, sc.Selector, sc.Score) {
			return &scored[i].Selector, sc.Score
		}
	}
	return nil, 0
}

// tryComposite asks the analyzer for structurally similar elements, builds
// composite candidates from their attributes, and accepts the first
// validated one above the bar.
func (h *Healer) tryComposite(ctx context.Context, a *attempt, hctx selector.HealingContext) (*selector.Selector, float64) {
	similar, err := h.analyzer.FindSimilarElements(ctx, hctx)
	if err != nil {
		a.analyzeErr = err
		return nil, 0
	}
	if len(similar) > maxSimilarElements {
		similar = similar[:maxSimilarElements]
	}

	var pool []selector.Selector
	for _, el := range similar {
		pool = append(pool, h.gen.FromAttributes(el.Attributes, el.Text)...)
		if len(pool) >= maxCompositePool {
			pool = pool[:maxCompositePool]
			break
		}
	}

	composites := h.gen.Composite(pool)
	if len(composites) == 0 {
		return nil, 0
	}

	scored := h.scorer.ScoreCandidates(composites, hctx)
	a.evaluated += len(scored)

	for i := range scored {
		sc := scored[i]
		if sc.Score > a.bestScore {
			a.best, a.bestScore = &scored[i].Selector, sc.Score
		}
		if sc.Score < h.opts.MinConfidence || a.attempts >= h.opts.MaxAttempts {
			break
		}
		if h.validate(ctx, a, sc.Selector, sc.Score) {
			return &scored[i].Selector, sc.Score
		}
	}
	return nil, 0
}

func (h *Healer) success(a *attempt, broken, winner selector.Selector, confidence float64, start time.Time) selector.HealingResult {
	healed := winner.Healed(h.id())

	// Persisting the winner is best-effort: a storage failure never fails
	// the heal. Detached context so caller cancellation does not lose the
	// newly learned alternative.
	if h.repo != nil && broken.ID != "" {
		h.persistOutcome(broken.ID, healed, true)
	}

	h.logger.Info("heal: healed",
		"original", broken.Value, "healed", healed.Value,
		"confidence", confidence, "attempts", a.attempts)

	return selector.HealingResult{
		ID:                  h.id(),
		Original:            broken,
		Healed:              &healed,
		Status:              selector.StatusSuccess,
		Confidence:          confidence,
		Level:               selector.LevelForScore(confidence),
		Elapsed:             time.Since(start),
		Attempts:            a.attempts,
		CandidatesEvaluated: a.evaluated,
	}
}

func (h *Healer) failure(a *attempt, broken selector.Selector, start time.Time) selector.HealingResult {
	var msg string
	switch {
	case a.analyzeErr != nil:
		msg = fmt.Sprintf("page analyzer: %v", a.analyzeErr)
	case a.evaluated == 0:
		msg = "no candidates could be generated"
	default:
		msg = fmt.Sprintf("no candidate reached minimum confidence %.2f (best %.2f)",
			h.opts.MinConfidence, a.bestScore)
	}

	if h.repo != nil && broken.ID != "" {
		h.persistOutcome(broken.ID, selector.Selector{}, false)
	}

	h.logger.Info("heal: failed",
		"original", broken.Value, "best", a.bestScore,
		"evaluated", a.evaluated, "reason", msg)

	return selector.HealingResult{
		ID:                  h.id(),
		Original:            broken,
		Status:              selector.StatusFailed,
		Confidence:          a.bestScore,
		Level:               selector.LevelForScore(a.bestScore),
		Elapsed:             time.Since(start),
		Attempts:            a.attempts,
		CandidatesEvaluated: a.evaluated,
		ErrorMessage:        msg,
	}
}

// persistOutcome records the usage outcome on the original selector and,
// on success, links the healed selector as an alternative. AppendAlternative
// owns saving: it reuses an existing row when the healed value is already
// known, so the fresh id minted here is a proposal, not an identity claim.
func (h *Healer) persistOutcome(originalID string, healed selector.Selector, success bool) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := h.repo.RecordUsage(ctx, originalID, success); err != nil {
		h.logger.Warn("heal: record usage failed", "selector", originalID, "error", err)
	}
	if !success {
		return
	}
	if err := h.repo.AppendAlternative(ctx, originalID, healed); err != nil {
		h.logger.Warn("heal: append alternative failed", "selector", originalID, "error", err)
	}
}

func (h *Healer) id() string {
	if h.newID != nil {
		return h.newID()
	}
	return ""
}

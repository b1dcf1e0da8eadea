package heal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/selmend/selmend/generate"
	"github.com/selmend/selmend/score"
	"github.com/selmend/selmend/selector"
)

// fakeAnalyzer validates selectors against a fixed set of unique values.
type fakeAnalyzer struct {
	unique  map[string]bool
	similar []selector.Element
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeAnalyzer) ValidateSelector(ctx context.Context, sel selector.Selector) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.unique[sel.Value], nil
}

func (f *fakeAnalyzer) FindSimilarElements(ctx context.Context, hctx selector.HealingContext) ([]selector.Element, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.similar, nil
}

func (f *fakeAnalyzer) ElementAt(ctx context.Context, sel selector.Selector) (*selector.Element, error) {
	return nil, nil
}

// fakeRepo records persistence calls.
type fakeRepo struct {
	mu       sync.Mutex
	saved    []selector.Selector
	appended map[string][]selector.Selector
	usage    map[string][]bool
	alts     map[string][]selector.Selector
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		appended: make(map[string][]selector.Selector),
		usage:    make(map[string][]bool),
		alts:     make(map[string][]selector.Selector),
	}
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*selector.Selector, error) { return nil, nil }
func (r *fakeRepo) GetByValue(ctx context.Context, value string, typ selector.Type) (*selector.Selector, error) {
	return nil, nil
}
func (r *fakeRepo) Save(ctx context.Context, sel *selector.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *sel)
	return nil
}
func (r *fakeRepo) Alternatives(ctx context.Context, parentID string) ([]selector.Selector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alts[parentID], nil
}
func (r *fakeRepo) AppendAlternative(ctx context.Context, parentID string, alt selector.Selector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended[parentID] = append(r.appended[parentID], alt)
	return nil
}
func (r *fakeRepo) RecordUsage(ctx context.Context, id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage[id] = append(r.usage[id], success)
	return nil
}
func (r *fakeRepo) LowConfidence(ctx context.Context, tenantID string, threshold float64, limit int) ([]selector.Selector, error) {
	return nil, nil
}

func newTestHealer(analyzer PageAnalyzer, repo Repository, opts Options) *Healer {
	n := 0
	newID := func() string {
		n++
		return fmt.Sprintf("id_%d", n)
	}
	return New(score.New(), generate.New(generate.DefaultOptions()), analyzer, repo, opts, nil, newID)
}

func loginContext() selector.HealingContext {
	return selector.HealingContext{
		PageURL: "https://app.example.com/login",
		ElementAttributes: map[string]string{
			"tag":   "button",
			"id":    "login-btn-v2",
			"class": "btn btn-primary",
			"type":  "submit",
		},
		SurroundingText: "Sign in",
	}
}

func TestHealSucceedsOnRenamedID(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{"#login-btn-v2": true}}
	repo := newFakeRepo()
	h := newTestHealer(an, repo, Options{})

	broken := selector.Selector{ID: "sel_1", Value: "#login-btn", Type: selector.TypeID}
	res := h.Heal(context.Background(), broken, loginContext())

	if res.Status != selector.StatusSuccess {
		t.Fatalf("status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if res.Healed == nil {
		t.Fatal("success result must carry a healed selector")
	}
	if res.Healed.Value != "#login-btn-v2" {
		t.Fatalf("healed value = %q, want #login-btn-v2", res.Healed.Value)
	}
	if res.Confidence < 0.8 {
		t.Fatalf("confidence = %v, want >= 0.8", res.Confidence)
	}
	if res.Level != selector.LevelHigh {
		t.Fatalf("level = %v, want high", res.Level)
	}
	if res.Healed.Metadata.Provenance != selector.ProvenanceHealed {
		t.Fatalf("provenance = %v", res.Healed.Metadata.Provenance)
	}

	// The winner was persisted as an alternative of the broken selector.
	if got := repo.appended["sel_1"]; len(got) != 1 || got[0].Value != "#login-btn-v2" {
		t.Fatalf("appended alternatives = %v", got)
	}
	if got := repo.usage["sel_1"]; len(got) != 1 || !got[0] {
		t.Fatalf("usage records = %v", got)
	}
}

func TestHealPrefersKnownAlternative(t *testing.T) {
	alt := selector.Selector{ID: "alt_1", Value: "#login-btn-v2", Type: selector.TypeID,
		Metadata: selector.Metadata{UsageCount: 20, SuccessRate: 0.95}}
	an := &fakeAnalyzer{unique: map[string]bool{"#login-btn-v2": true}}
	h := newTestHealer(an, newFakeRepo(), Options{})

	broken := selector.Selector{ID: "sel_1", Value: "#login-btn", Type: selector.TypeID,
		Alternatives: []selector.Selector{alt}}
	res := h.Heal(context.Background(), broken, loginContext())

	if res.Status != selector.StatusSuccess {
		t.Fatalf("status = %v (%s)", res.Status, res.ErrorMessage)
	}
	// One validation: the alternative was accepted without generating.
	if an.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", an.calls)
	}
}

func TestHealLoadsAlternativesFromRepo(t *testing.T) {
	repo := newFakeRepo()
	repo.alts["sel_1"] = []selector.Selector{
		{ID: "alt_1", Value: "#login-btn-v2", Type: selector.TypeID,
			Metadata: selector.Metadata{UsageCount: 20, SuccessRate: 0.95}},
	}
	an := &fakeAnalyzer{unique: map[string]bool{"#login-btn-v2": true}}
	h := newTestHealer(an, repo, Options{})

	broken := selector.Selector{ID: "sel_1", Value: "#login-btn", Type: selector.TypeID}
	res := h.Heal(context.Background(), broken, loginContext())
	if res.Status != selector.StatusSuccess {
		t.Fatalf("status = %v (%s)", res.Status, res.ErrorMessage)
	}
}

func TestHealFailsWhenNothingValidates(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{}}
	repo := newFakeRepo()
	h := newTestHealer(an, repo, Options{})

	broken := selector.Selector{ID: "sel_1", Value: "#gone", Type: selector.TypeID}
	res := h.Heal(context.Background(), broken, loginContext())

	if res.Status != selector.StatusFailed {
		t.Fatalf("status = %v", res.Status)
	}
	if res.Healed != nil {
		t.Fatal("failed result must not carry a healed selector")
	}
	if res.ErrorMessage == "" {
		t.Fatal("failed result must explain itself")
	}
	if got := repo.usage["sel_1"]; len(got) != 1 || got[0] {
		t.Fatalf("failure usage records = %v", got)
	}
}

func TestHealAnalyzerErrorSurfacesInResult(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("browser unreachable")}
	h := newTestHealer(an, newFakeRepo(), Options{})

	broken := selector.Selector{Value: "#x", Type: selector.TypeID}
	res := h.Heal(context.Background(), broken, loginContext())

	if res.Status != selector.StatusFailed {
		t.Fatalf("status = %v", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "browser unreachable") {
		t.Fatalf("error message = %q", res.ErrorMessage)
	}
}

func TestHealNoCandidatesMessage(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{}}
	h := newTestHealer(an, nil, Options{})

	// Empty context: nothing to generate from.
	res := h.Heal(context.Background(), selector.Selector{Value: "#x", Type: selector.TypeID},
		selector.HealingContext{})
	if res.Status != selector.StatusFailed {
		t.Fatalf("status = %v", res.Status)
	}
	if res.ErrorMessage != "no candidates could be generated" {
		t.Fatalf("message = %q", res.ErrorMessage)
	}
}

func TestHealRespectsMaxAttempts(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{}}
	h := newTestHealer(an, nil, Options{MaxAttempts: 2})

	res := h.Heal(context.Background(), selector.Selector{Value: "#gone", Type: selector.TypeID},
		loginContext())
	if res.Status != selector.StatusFailed {
		t.Fatalf("status = %v", res.Status)
	}
	if res.Attempts > 2 {
		t.Fatalf("attempts = %d, want <= 2", res.Attempts)
	}
}

func TestHealMinConfidenceGate(t *testing.T) {
	// Only a weak tag candidate validates; with a high bar it must fail.
	an := &fakeAnalyzer{unique: map[string]bool{"button": true}}
	h := newTestHealer(an, nil, Options{MinConfidence: 0.95})

	hctx := selector.HealingContext{
		ElementAttributes: map[string]string{"tag": "button"},
	}
	res := h.Heal(context.Background(), selector.Selector{Value: "#gone", Type: selector.TypeID}, hctx)

	if res.Status != selector.StatusFailed {
		t.Fatalf("status = %v, confidence %v", res.Status, res.Confidence)
	}
	if !strings.Contains(res.ErrorMessage, "minimum confidence") {
		t.Fatalf("message = %q", res.ErrorMessage)
	}
}

func TestHealCompositeStage(t *testing.T) {
	// The broken element's own attributes yield nothing usable; the classes
	// come from structurally similar elements and only their combination
	// resolves uniquely.
	an := &fakeAnalyzer{
		unique: map[string]bool{".cart-line.product-row": true},
		similar: []selector.Element{
			{Attributes: map[string]string{"tag": "li", "class": "cart-line product-row"}},
		},
	}
	h := newTestHealer(an, nil, Options{})

	hctx := selector.HealingContext{
		ElementAttributes: map[string]string{"tag": "li"},
	}
	res := h.Heal(context.Background(), selector.Selector{Value: "#old-cart", Type: selector.TypeID}, hctx)

	if res.Status != selector.StatusSuccess {
		t.Fatalf("status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if res.Healed.Type != selector.TypeComposite {
		t.Fatalf("healed type = %v, want composite", res.Healed.Type)
	}
}

func TestHealSuccessInvariant(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{"#login-btn-v2": true}}
	h := newTestHealer(an, nil, Options{MinConfidence: 0.6})

	res := h.Heal(context.Background(), selector.Selector{Value: "#login-btn", Type: selector.TypeID},
		loginContext())
	if res.Status == selector.StatusSuccess {
		if res.Healed == nil {
			t.Fatal("success implies healed selector")
		}
		if res.Confidence < 0.6 {
			t.Fatalf("success confidence %v below min", res.Confidence)
		}
	}
}

func TestHealFeedsScorerCalibration(t *testing.T) {
	cal := score.NewCalibrating(score.New())
	an := &fakeAnalyzer{unique: map[string]bool{"#login-btn-v2": true}}
	h := New(cal, generate.New(generate.DefaultOptions()), an, nil, Options{}, nil, nil)

	hctx := loginContext()
	broken := selector.Selector{Value: "#login-btn", Type: selector.TypeID}

	// Each heal validates the winning candidate, so every run records one
	// (predicted, outcome) observation in the candidate's bucket.
	for i := 0; i < 5; i++ {
		res := h.Heal(context.Background(), broken, hctx)
		if res.Status != selector.StatusSuccess {
			t.Fatalf("heal %d: status = %v (%s)", i, res.Status, res.ErrorMessage)
		}
	}

	healed := selector.Selector{Value: "#login-btn-v2", Type: selector.TypeID}
	adj := cal.Adjustment(healed)
	if adj <= 0 {
		t.Fatalf("adjustment = %v, want > 0 after repeated validated successes", adj)
	}
	base := score.New().Score(healed, hctx)
	if got := cal.Score(healed, hctx); got <= base {
		t.Fatalf("calibrated score %v did not move above base %v", got, base)
	}
}

func TestBatchHealKeepsOrderAndIsolation(t *testing.T) {
	an := &fakeAnalyzer{unique: map[string]bool{
		"#login-btn-v2": true,
	}}
	h := newTestHealer(an, newFakeRepo(), Options{})

	selectors := []selector.Selector{
		{ID: "a", Value: "#login-btn", Type: selector.TypeID},
		{ID: "b", Value: "#definitely-gone", Type: selector.TypeID},
		{ID: "c", Value: "#login-btn", Type: selector.TypeID},
	}
	contexts := map[string]selector.HealingContext{
		"a": loginContext(),
		"b": {}, // nothing to work with
		"c": loginContext(),
	}

	results := h.BatchHeal(context.Background(), selectors,
		func(s selector.Selector) selector.HealingContext { return contexts[s.ID] })

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Original.ID != "a" || results[1].Original.ID != "b" || results[2].Original.ID != "c" {
		t.Fatal("results not in input order")
	}
	if results[0].Status != selector.StatusSuccess {
		t.Fatalf("result a = %v (%s)", results[0].Status, results[0].ErrorMessage)
	}
	if results[1].Status != selector.StatusFailed {
		t.Fatalf("result b = %v", results[1].Status)
	}
	if results[2].Status != selector.StatusSuccess {
		t.Fatalf("result c = %v (%s)", results[2].Status, results[2].ErrorMessage)
	}
}

func TestBatchHealEmpty(t *testing.T) {
	h := newTestHealer(&fakeAnalyzer{}, nil, Options{})
	results := h.BatchHeal(context.Background(), nil, func(selector.Selector) selector.HealingContext {
		return selector.HealingContext{}
	})
	if len(results) != 0 {
		t.Fatalf("got %d results for empty batch", len(results))
	}
}

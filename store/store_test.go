package store_test

import (
	"context"
	"errors"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/selmend/selmend/dbopen"
	"github.com/selmend/selmend/selector"
	"github.com/selmend/selmend/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	return store.New(db)
}

func mkSelector(id, value string, typ selector.Type) selector.Selector {
	s := selector.NewGenerated(value, typ)
	s.ID = id
	return s
}

func TestSaveAndGet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("sel_1", "#login-btn", selector.TypeID)
	sel.TenantID = "acme"
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.Get(ctx, "sel_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("selector not found after save")
	}
	if got.Value != "#login-btn" || got.Type != selector.TypeID || got.TenantID != "acme" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Metadata.Provenance != selector.ProvenanceGenerated {
		t.Fatalf("provenance = %v", got.Metadata.Provenance)
	}
	if !got.IsActive {
		t.Fatal("selector should be active")
	}
}

func TestGetMissingIsNil(t *testing.T) {
	st := newStore(t)
	got, err := st.Get(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestGetByValue(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("sel_1", ".cart", selector.TypeClass)
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByValue(ctx, ".cart", selector.TypeClass)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "sel_1" {
		t.Fatalf("got %+v", got)
	}

	// Same value under a different type is a different selector.
	other, err := st.GetByValue(ctx, ".cart", selector.TypeCSS)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Fatalf("got %+v, want nil", other)
	}
}

func TestSaveIsIdempotentUpsert(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("sel_1", "#x", selector.TypeID)
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatal(err)
	}
	sel.IsActive = false
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := st.Get(ctx, "sel_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("upsert did not apply the update")
	}
}

func TestRecordUsage(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("sel_1", "#x", selector.TypeID)
	sel.Metadata.SuccessRate = 0
	sel.Metadata.UsageCount = 0
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatal(err)
	}

	// 10 successes converge the rate to 1.0.
	for i := 0; i < 10; i++ {
		if err := st.RecordUsage(ctx, "sel_1", true); err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
	}
	got, err := st.Get(ctx, "sel_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.UsageCount != 10 {
		t.Fatalf("usage count = %d, want 10", got.Metadata.UsageCount)
	}
	if math.Abs(got.Metadata.SuccessRate-1.0) > 1e-9 {
		t.Fatalf("success rate = %v, want 1.0", got.Metadata.SuccessRate)
	}
	if got.Metadata.LastSuccess.IsZero() {
		t.Fatal("last success not recorded")
	}

	// 10 failures bring it to 0.5.
	for i := 0; i < 10; i++ {
		if err := st.RecordUsage(ctx, "sel_1", false); err != nil {
			t.Fatal(err)
		}
	}
	got, err = st.Get(ctx, "sel_1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Metadata.SuccessRate-0.5) > 1e-9 {
		t.Fatalf("success rate after failures = %v, want 0.5", got.Metadata.SuccessRate)
	}
}

func TestRecordUsageMissing(t *testing.T) {
	st := newStore(t)
	err := st.RecordUsage(context.Background(), "nope", true)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAlternativesOrdered(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	parent := mkSelector("parent", "#old", selector.TypeID)
	if err := st.Save(ctx, &parent); err != nil {
		t.Fatal(err)
	}

	for i, v := range []string{"#new-1", "#new-2", "#new-3"} {
		alt := mkSelector("", v, selector.TypeID)
		alt.ID = v
		if err := st.AppendAlternative(ctx, "parent", alt); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	alts, err := st.Alternatives(ctx, "parent")
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 3 {
		t.Fatalf("got %d alternatives, want 3", len(alts))
	}
	for i, want := range []string{"#new-1", "#new-2", "#new-3"} {
		if alts[i].Value != want {
			t.Fatalf("alternative %d = %q, want %q", i, alts[i].Value, want)
		}
	}
}

func TestAppendAlternativeIdempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	parent := mkSelector("parent", "#old", selector.TypeID)
	if err := st.Save(ctx, &parent); err != nil {
		t.Fatal(err)
	}
	alt := mkSelector("alt", "#new", selector.TypeID)
	if err := st.AppendAlternative(ctx, "parent", alt); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAlternative(ctx, "parent", alt); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	alts, err := st.Alternatives(ctx, "parent")
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 1 {
		t.Fatalf("got %d alternatives, want 1", len(alts))
	}
}

func TestAppendAlternativeDeduplicatesByValue(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	parent := mkSelector("parent", "#old", selector.TypeID)
	if err := st.Save(ctx, &parent); err != nil {
		t.Fatal(err)
	}
	existing := mkSelector("s1", "#login-btn-v2", selector.TypeID)
	existing.Metadata.UsageCount = 30
	existing.Metadata.SuccessRate = 0.97
	if err := st.Save(ctx, &existing); err != nil {
		t.Fatal(err)
	}

	// The healer mints a fresh id for the winner even when its value is
	// already stored; the append must link the existing row, not fail on
	// the (value, type, tenant) unique index.
	dup := mkSelector("fresh-id", "#login-btn-v2", selector.TypeID)
	if err := st.AppendAlternative(ctx, "parent", dup); err != nil {
		t.Fatalf("append duplicate value: %v", err)
	}

	alts, err := st.Alternatives(ctx, "parent")
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 1 {
		t.Fatalf("got %d alternatives, want 1", len(alts))
	}
	if alts[0].ID != "s1" {
		t.Fatalf("alternative id = %q, want existing s1", alts[0].ID)
	}
	// The existing row keeps its usage history.
	if alts[0].Metadata.UsageCount != 30 {
		t.Fatalf("usage count = %d, want 30", alts[0].Metadata.UsageCount)
	}
}

func TestAppendAlternativeSharedAcrossParents(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		p := mkSelector(id, "#"+id, selector.TypeID)
		if err := st.Save(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	first := mkSelector("a1", "#shared", selector.TypeID)
	if err := st.AppendAlternative(ctx, "p1", first); err != nil {
		t.Fatal(err)
	}
	// Healed again for a different parent under a new id: both parents end
	// up linked to the same stored row.
	second := mkSelector("a2", "#shared", selector.TypeID)
	if err := st.AppendAlternative(ctx, "p2", second); err != nil {
		t.Fatalf("append for second parent: %v", err)
	}

	for _, parent := range []string{"p1", "p2"} {
		alts, err := st.Alternatives(ctx, parent)
		if err != nil {
			t.Fatal(err)
		}
		if len(alts) != 1 || alts[0].ID != "a1" {
			t.Fatalf("%s alternatives = %+v, want the a1 row", parent, alts)
		}
	}
}

func TestDeactivate(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("sel_1", "#x", selector.TypeID)
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatal(err)
	}
	if err := st.Deactivate(ctx, "sel_1"); err != nil {
		t.Fatal(err)
	}
	got, err := st.Get(ctx, "sel_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatal("selector still active after Deactivate")
	}

	if err := st.Deactivate(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deactivate missing = %v, want ErrNotFound", err)
	}
}

func TestLowConfidenceOrdering(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	save := func(id string, usage int, rate float64, active bool) {
		sel := mkSelector(id, "#"+id, selector.TypeID)
		sel.TenantID = "acme"
		sel.Metadata.UsageCount = usage
		sel.Metadata.SuccessRate = rate
		sel.IsActive = active
		if err := st.Save(ctx, &sel); err != nil {
			t.Fatal(err)
		}
	}
	save("bad", 20, 0.1, true)    // smoothed ~0.22
	save("weak", 20, 0.4, true)   // smoothed ~0.46
	save("good", 20, 0.95, true)  // smoothed ~0.90
	save("retired", 20, 0.1, false)
	save("fresh", 0, 0.5, true) // no history: prior 0.7

	got, err := st.LowConfidence(ctx, "acme", 0.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d selectors, want 2: %+v", len(got), got)
	}
	if got[0].ID != "bad" || got[1].ID != "weak" {
		t.Fatalf("order = %s, %s; want bad, weak", got[0].ID, got[1].ID)
	}
}

func TestLowConfidenceTenantIsolation(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sel := mkSelector("other", "#other", selector.TypeID)
	sel.TenantID = "rival"
	sel.Metadata.UsageCount = 50
	sel.Metadata.SuccessRate = 0.0
	if err := st.Save(ctx, &sel); err != nil {
		t.Fatal(err)
	}

	got, err := st.LowConfidence(ctx, "acme", 0.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("leaked %d selectors across tenants", len(got))
	}
}

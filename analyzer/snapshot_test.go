package analyzer

import (
	"context"
	"testing"

	"github.com/selmend/selmend/generate"
	"github.com/selmend/selmend/selector"
)

const loginPage = `<!DOCTYPE html>
<html><head><title>Login</title></head><body>
<form id="login-form">
  <input name="username" type="text" placeholder="Username">
  <input name="password" type="password">
  <button id="login-btn-v2" class="btn btn-primary" type="submit" data-testid="login">Sign in</button>
</form>
<div class="footer">
  <button class="btn btn-secondary">Help</button>
  <a href="/forgot">It's fine</a>
</div>
</body></html>`

func parse(t *testing.T, src string) *Snapshot {
	t.Helper()
	s, err := ParseSnapshot(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return s
}

func css(value string) selector.Selector {
	return selector.Selector{Value: value, Type: selector.TypeCSS}
}

func xpath(value string) selector.Selector {
	return selector.Selector{Value: value, Type: selector.TypeXPath}
}

func TestValidateSelectorUnique(t *testing.T) {
	s := parse(t, loginPage)
	ctx := context.Background()

	tests := []struct {
		sel  selector.Selector
		want bool
	}{
		{css("#login-btn-v2"), true},
		{css(`[data-testid="login"]`), true},
		{css(`[name="username"]`), true},
		{css(".btn"), false},     // two matches
		{css("#missing"), false}, // zero matches
		{css("button[type=\"submit\"]"), true},
		{css("#login-form > button"), true},
		{css(".footer .btn-secondary"), true},
		{xpath(`//*[normalize-space(text())='Sign in']`), true},
		{xpath(`//button[@data-testid='login']`), true},
		{xpath("//button"), false}, // two buttons
	}
	for _, tt := range tests {
		got, err := s.ValidateSelector(ctx, tt.sel)
		if err != nil {
			t.Fatalf("ValidateSelector(%q): %v", tt.sel.Value, err)
		}
		if got != tt.want {
			t.Errorf("ValidateSelector(%q) = %v, want %v", tt.sel.Value, got, tt.want)
		}
	}
}

func TestElementAt(t *testing.T) {
	s := parse(t, loginPage)

	el, err := s.ElementAt(context.Background(), css("#login-btn-v2"))
	if err != nil {
		t.Fatal(err)
	}
	if el == nil {
		t.Fatal("element not found")
	}
	if el.Attributes["tag"] != "button" {
		t.Fatalf("tag = %q", el.Attributes["tag"])
	}
	if el.Attributes["data-testid"] != "login" {
		t.Fatalf("data-testid = %q", el.Attributes["data-testid"])
	}
	if el.Text != "Sign in" {
		t.Fatalf("text = %q", el.Text)
	}

	missing, err := s.ElementAt(context.Background(), css("#nope"))
	if err != nil || missing != nil {
		t.Fatalf("missing element: el=%v err=%v", missing, err)
	}
}

func TestFindSimilarElements(t *testing.T) {
	s := parse(t, loginPage)

	els, err := s.FindSimilarElements(context.Background(), selector.HealingContext{
		ElementAttributes: map[string]string{"tag": "button", "class": "btn btn-primary"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Both buttons share the "btn" class.
	if len(els) != 2 {
		t.Fatalf("got %d similar elements, want 2", len(els))
	}
}

func TestSiblingCombinators(t *testing.T) {
	s := parse(t, loginPage)
	ctx := context.Background()

	ok, err := s.ValidateSelector(ctx, css(`[name="password"] + button`))
	if err != nil || !ok {
		t.Fatalf("adjacent sibling: ok=%v err=%v", ok, err)
	}
	ok, err = s.ValidateSelector(ctx, css(`[name="username"] ~ button`))
	if err != nil || !ok {
		t.Fatalf("general sibling: ok=%v err=%v", ok, err)
	}
}

func TestScopedXPath(t *testing.T) {
	s := parse(t, loginPage)

	ok, err := s.ValidateSelector(context.Background(),
		xpath(`//*[@id='login-form']//*[contains(normalize-space(.), 'Sign in')]`))
	if err != nil {
		t.Fatal(err)
	}
	// The button is the only element under the form containing that text.
	if !ok {
		t.Fatal("scoped xpath did not resolve uniquely")
	}
}

// Selectors emitted by the generator for awkward attribute values must be
// parseable and resolve back to the same element.
func TestEscapingRoundTrip(t *testing.T) {
	const page = `<html><body>
<div id="a" data-label="say &quot;hi&quot;"></div>
<a href="#">It's "quoted"</a>
</body></html>`
	s := parse(t, page)
	g := generate.New(generate.DefaultOptions())
	ctx := context.Background()

	cands := g.FromAttributes(map[string]string{
		"tag":        "div",
		"data-label": `say "hi"`,
	}, "")
	var dataSel *selector.Selector
	for i := range cands {
		if cands[i].Type == selector.TypeDataAttribute {
			dataSel = &cands[i]
			break
		}
	}
	if dataSel == nil {
		t.Fatal("no data-attribute candidate")
	}
	ok, err := s.ValidateSelector(ctx, *dataSel)
	if err != nil {
		t.Fatalf("escaped css %q: %v", dataSel.Value, err)
	}
	if !ok {
		t.Fatalf("escaped css %q did not resolve uniquely", dataSel.Value)
	}

	text := g.FromAttributes(map[string]string{"tag": "a"}, `It's "quoted"`)
	var textSel *selector.Selector
	for i := range text {
		if text[i].Type == selector.TypeText {
			textSel = &text[i]
			break
		}
	}
	if textSel == nil {
		t.Fatal("no text candidate")
	}
	ok, err = s.ValidateSelector(ctx, *textSel)
	if err != nil {
		t.Fatalf("escaped xpath %q: %v", textSel.Value, err)
	}
	if !ok {
		t.Fatalf("escaped xpath %q did not resolve uniquely", textSel.Value)
	}
}

func TestSurroundingText(t *testing.T) {
	got := SurroundingText(`<div><b>Total:</b> 42 &euro;</div>`)
	if got == "" || got[0] != 'T' {
		t.Fatalf("SurroundingText = %q", got)
	}
	if contains := "Total:"; got[:6] != contains {
		t.Fatalf("SurroundingText = %q, want prefix %q", got, contains)
	}
}

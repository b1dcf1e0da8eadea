package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"github.com/selmend/selmend/selector"
)

// Live validates selectors against a real browser session. Each analyzer
// call may be slow; caller-supplied contexts propagate timeouts and
// cancellation down to the CDP connection.
type Live struct {
	mgr     *browserManager
	pageURL string
}

// NewLive creates a live analyzer bound to one page URL. Close releases
// the browser.
func NewLive(cfg BrowserConfig, pageURL string) *Live {
	return &Live{mgr: newBrowserManager(cfg), pageURL: pageURL}
}

// Close shuts down the underlying browser session.
func (l *Live) Close() { l.mgr.close() }

// Browser is a shared Chrome session that hands out per-page analyzers.
// Long-running services use one Browser for all heals so tabs and the
// Chrome process are reused across requests.
type Browser struct {
	mgr *browserManager
}

// NewBrowser creates the shared session; Chrome starts lazily on first use.
func NewBrowser(cfg BrowserConfig) *Browser {
	return &Browser{mgr: newBrowserManager(cfg)}
}

// Page returns an analyzer bound to pageURL on the shared session.
func (b *Browser) Page(pageURL string) *Live {
	return &Live{mgr: b.mgr, pageURL: pageURL}
}

// Close shuts down the shared session and all its tabs.
func (b *Browser) Close() { b.mgr.close() }

// ValidateSelector reports whether sel resolves to exactly one element on
// the live page.
func (l *Live) ValidateSelector(ctx context.Context, sel selector.Selector) (bool, error) {
	page, err := l.mgr.pageFor(ctx, l.pageURL)
	if err != nil {
		return false, err
	}

	els, err := l.elements(ctx, page, sel)
	if err != nil {
		return false, err
	}
	return len(els) == 1, nil
}

// ElementAt returns attributes and text of the element sel resolves to,
// or nil when it matches nothing.
func (l *Live) ElementAt(ctx context.Context, sel selector.Selector) (*selector.Element, error) {
	page, err := l.mgr.pageFor(ctx, l.pageURL)
	if err != nil {
		return nil, err
	}

	els, err := l.elements(ctx, page, sel)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return elementInfo(ctx, els[0])
}

// FindSimilarElements enumerates elements sharing the target's tag and at
// least one identity signal (class, name, type, role), evaluated in the
// page to avoid shipping the whole DOM over CDP.
func (l *Live) FindSimilarElements(ctx context.Context, hctx selector.HealingContext) ([]selector.Element, error) {
	page, err := l.mgr.pageFor(ctx, l.pageURL)
	if err != nil {
		return nil, err
	}

	attrsJSON, err := json.Marshal(hctx.ElementAttributes)
	if err != nil {
		return nil, fmt.Errorf("analyzer: marshal attributes: %w", err)
	}

	res, err := page.Context(ctx).Eval(`(wanted) => {
		const want = JSON.parse(wanted);
		const tag = (want.tag || '').toLowerCase();
		const classes = (want.class || '').split(/\s+/).filter(Boolean);
		const signals = ['name', 'type', 'role'];
		const out = [];
		const all = tag ? document.getElementsByTagName(tag) : document.querySelectorAll('*');
		for (const el of all) {
			let match = classes.some(c => el.classList.contains(c));
			if (!match) {
				match = signals.some(k => want[k] && el.getAttribute(k) === want[k]);
			}
			if (!match && classes.length === 0 && !signals.some(k => want[k])) {
				match = tag !== '';
			}
			if (!match) continue;
			const attrs = { tag: el.tagName.toLowerCase() };
			for (const a of el.attributes) attrs[a.name] = a.value;
			out.push({ attributes: attrs, text: (el.innerText || '').trim() });
			if (out.length >= 20) break;
		}
		return JSON.stringify(out);
	}`, string(attrsJSON))
	if err != nil {
		return nil, fmt.Errorf("analyzer: find similar: %w", err)
	}

	var out []selector.Element
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil, fmt.Errorf("analyzer: decode similar elements: %w", err)
	}
	return out, nil
}

// elements resolves a selector to its matching element handles, using the
// XPath engine for xpath/text selectors and CSS for everything else.
func (l *Live) elements(ctx context.Context, page *rod.Page, sel selector.Selector) (rod.Elements, error) {
	p := page.Context(ctx)
	if sel.Type == selector.TypeXPath || sel.Type == selector.TypeText || strings.HasPrefix(sel.Value, "/") {
		els, err := p.ElementsX(sel.Value)
		if err != nil {
			return nil, fmt.Errorf("analyzer: xpath %q: %w", sel.Value, err)
		}
		return els, nil
	}
	els, err := p.Elements(sel.Value)
	if err != nil {
		return nil, fmt.Errorf("analyzer: css %q: %w", sel.Value, err)
	}
	return els, nil
}

// elementInfo extracts attributes and visible text from an element handle.
func elementInfo(ctx context.Context, el *rod.Element) (*selector.Element, error) {
	res, err := el.Context(ctx).Eval(`() => {
		const attrs = { tag: this.tagName.toLowerCase() };
		for (const a of this.attributes) attrs[a.name] = a.value;
		return JSON.stringify({ attributes: attrs, text: (this.innerText || '').trim() });
	}`)
	if err != nil {
		return nil, fmt.Errorf("analyzer: element info: %w", err)
	}
	var out selector.Element
	if err := json.Unmarshal([]byte(res.Value.Str()), &out); err != nil {
		return nil, fmt.Errorf("analyzer: decode element info: %w", err)
	}
	return &out, nil
}

package selector

// HealingContext is the caller-supplied snapshot of the page around the
// element a broken selector used to match. It is read-only for the duration
// of one heal attempt and is never stored by the engine.
type HealingContext struct {
	PageURL       string `json:"page_url"`
	PageTitle     string `json:"page_title,omitempty"`
	ScreenshotRef string `json:"screenshot_ref,omitempty"`

	// HTMLSnapshot optionally carries raw page HTML so healing can run
	// against a snapshot instead of a live browser session.
	HTMLSnapshot string `json:"html_snapshot,omitempty"`

	SurroundingText   string            `json:"surrounding_text,omitempty"`
	ElementAttributes map[string]string `json:"element_attributes,omitempty"`
	ParentSelector    string            `json:"parent_selector,omitempty"`
	SiblingSelectors  []string          `json:"sibling_selectors,omitempty"`

	TenantID string `json:"tenant_id,omitempty"`
}

// Package selector defines the locator model shared by the healing engine:
// selectors, their usage statistics, the per-attempt healing context, and
// the result/session aggregates produced by the healer.
//
// Metadata is an immutable snapshot. Every usage event produces a new value
// via [Metadata.WithUsage]; nothing mutates statistics in place outside the
// repository.
package selector

import "time"

// Type classifies how a selector locates an element.
type Type string

const (
	TypeCSS           Type = "css"
	TypeXPath         Type = "xpath"
	TypeID            Type = "id"
	TypeName          Type = "name"
	TypeClass         Type = "class"
	TypeTag           Type = "tag"
	TypeAttribute     Type = "attribute"
	TypeText          Type = "text"
	TypeARIA          Type = "aria"
	TypeDataAttribute Type = "data-attribute"
	TypeComposite     Type = "composite"
)

// Provenance records how a selector came to exist.
type Provenance string

const (
	ProvenanceManual    Provenance = "manual"
	ProvenanceGenerated Provenance = "generated"
	ProvenanceHealed    Provenance = "healed"
)

// Metadata holds rolling usage statistics for a selector. It is a value
// type: updates return a new Metadata, callers replace rather than mutate.
type Metadata struct {
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UsageCount  int        `json:"usage_count"`
	SuccessRate float64    `json:"success_rate"` // [0,1], running weighted average
	LastSuccess time.Time  `json:"last_success,omitzero"`
	Provenance  Provenance `json:"provenance"`
}

// WithUsage returns a copy of m updated with one usage outcome. The success
// rate is recomputed as a running weighted average over all observations;
// this is the only way the rate changes.
func (m Metadata) WithUsage(success bool, now time.Time) Metadata {
	outcome := 0.0
	if success {
		outcome = 1.0
		m.LastSuccess = now
	}
	n := float64(m.UsageCount)
	m.SuccessRate = (m.SuccessRate*n + outcome) / (n + 1)
	m.UsageCount++
	m.UpdatedAt = now
	return m
}

// Selector is a locator string plus everything the engine knows about it.
type Selector struct {
	ID           string     `json:"id"`
	Value        string     `json:"value"`
	Type         Type       `json:"type"`
	Metadata     Metadata   `json:"metadata"`
	Alternatives []Selector `json:"alternatives,omitempty"` // previously accepted replacements, tried in order
	IsActive     bool       `json:"is_active"`
	TenantID     string     `json:"tenant_id,omitempty"`
}

// NewGenerated builds a candidate selector with generated provenance and a
// neutral success rate: no history yet, so it regresses to the middle.
func NewGenerated(value string, typ Type) Selector {
	now := time.Now()
	return Selector{
		Value: value,
		Type:  typ,
		Metadata: Metadata{
			CreatedAt:   now,
			UpdatedAt:   now,
			SuccessRate: 0.5,
			Provenance:  ProvenanceGenerated,
		},
		IsActive: true,
	}
}

// Healed returns a copy of s marked as a healed replacement. The copy gets
// a fresh identity; statistics start from the candidate's neutral history.
func (s Selector) Healed(id string) Selector {
	s.ID = id
	s.Metadata.Provenance = ProvenanceHealed
	s.Alternatives = nil
	return s
}

// Element is the page analyzer's view of a live element: its attributes and
// visible text. The engine never holds a handle to the element itself.
type Element struct {
	Attributes map[string]string `json:"attributes"`
	Text       string            `json:"text"`
}

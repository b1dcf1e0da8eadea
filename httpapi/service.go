// Package httpapi exposes the healing engine over HTTP and MCP. It owns no
// business logic: handlers decode requests, assemble a healer with the right
// page analyzer, and encode results.
package httpapi

import (
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/selmend/selmend/analyzer"
	"github.com/selmend/selmend/heal"
	"github.com/selmend/selmend/idgen"
	"github.com/selmend/selmend/selector"
	"github.com/selmend/selmend/store"
)

// Service wires the engine's collaborators behind the HTTP and MCP surfaces.
type Service struct {
	store   *store.Store
	events  *store.EventLogger
	scorer  heal.Scorer
	gen     heal.Generator
	opts    heal.Options
	browser *analyzer.Browser // nil when only snapshot healing is available
	logger  *slog.Logger

	newID        idgen.Generator // selector ids
	newSessionID idgen.Generator
}

// NewService creates the service. browser may be nil; heal requests must
// then carry an HTML snapshot.
func NewService(st *store.Store, scorer heal.Scorer, gen heal.Generator, opts heal.Options, browser *analyzer.Browser, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		events:  store.NewEventLogger(st.DB),
		scorer:  scorer,
		gen:     gen,
		opts:    opts,
		browser: browser,
		logger:  logger,

		newID:        idgen.Prefixed("sel_", idgen.UUIDv7()),
		newSessionID: idgen.Prefixed("sess_", idgen.UUIDv7()),
	}
}

// Router builds the HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/heal", s.handleHeal)
		r.Post("/heal/batch", s.handleBatchHeal)

		r.Route("/selectors", func(r chi.Router) {
			r.Get("/low-confidence", s.handleLowConfidence)
			r.Get("/{id}", s.handleGetSelector)
			r.Post("/{id}/usage", s.handleRecordUsage)
			r.Post("/{id}/deactivate", s.handleDeactivate)
		})

		r.Get("/sessions/{id}", s.handleGetSession)
	})
	return r
}

// analyzerFor picks the page analyzer for one healing context: an offline
// snapshot when the caller supplied page HTML, otherwise a live browser tab.
func (s *Service) analyzerFor(hctx selector.HealingContext) (heal.PageAnalyzer, error) {
	if hctx.HTMLSnapshot != "" {
		return analyzer.ParseSnapshot(hctx.HTMLSnapshot)
	}
	if s.browser == nil {
		return nil, fmt.Errorf("httpapi: no html_snapshot provided and no browser configured")
	}
	if hctx.PageURL == "" {
		return nil, fmt.Errorf("httpapi: page_url is required for live healing")
	}
	return s.browser.Page(hctx.PageURL), nil
}

// healerFor assembles a healer bound to the analyzer chosen for hctx.
func (s *Service) healerFor(hctx selector.HealingContext) (*heal.Healer, error) {
	pa, err := s.analyzerFor(hctx)
	if err != nil {
		return nil, err
	}
	return heal.New(s.scorer, s.gen, pa, s.store, s.opts, s.logger, s.newID), nil
}

// normalizeContext fills derivable context fields: surrounding text is
// extracted from the snapshot when the caller only sent raw HTML.
func normalizeContext(hctx selector.HealingContext) selector.HealingContext {
	if hctx.SurroundingText == "" && hctx.HTMLSnapshot != "" {
		hctx.SurroundingText = analyzer.SurroundingText(hctx.HTMLSnapshot)
	}
	return hctx
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/selmend/selmend/selector"
	"github.com/selmend/selmend/store"
)

// maxBodyBytes caps request bodies. HTML snapshots are the big consumer.
const maxBodyBytes = 4 << 20

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type healRequest struct {
	Selector selector.Selector       `json:"selector"`
	Context  selector.HealingContext `json:"context"`
}

func (s *Service) handleHeal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req healRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Selector.Value) == "" {
		jsonErr(w, "selector.value is required", http.StatusBadRequest)
		return
	}

	broken := s.resolveSelector(r.Context(), req.Selector)
	hctx := normalizeContext(req.Context)

	healer, err := s.healerFor(hctx)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := healer.Heal(r.Context(), broken, hctx)
	s.events.LogResult(r.Context(), "", result)

	writeJSON(w, http.StatusOK, result)
}

type batchHealRequest struct {
	Selectors []selector.Selector     `json:"selectors"`
	Context   selector.HealingContext `json:"context"`
}

type batchHealResponse struct {
	Session *store.SessionRecord     `json:"session"`
	Results []selector.HealingResult `json:"results"`
}

func (s *Service) handleBatchHeal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req batchHealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Selectors) == 0 {
		jsonErr(w, "selectors must not be empty", http.StatusBadRequest)
		return
	}

	hctx := normalizeContext(req.Context)
	healer, err := s.healerFor(hctx)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := s.newSessionID()
	if err := s.store.InsertSession(r.Context(), sessionID, hctx.TenantID); err != nil {
		s.logger.Error("httpapi: create session", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}

	for i := range req.Selectors {
		req.Selectors[i] = s.resolveSelector(r.Context(), req.Selectors[i])
	}

	results := healer.BatchHeal(r.Context(), req.Selectors,
		func(selector.Selector) selector.HealingContext { return hctx })

	for _, res := range results {
		if err := s.store.AppendSessionResult(r.Context(), sessionID, res); err != nil {
			s.logger.Warn("httpapi: append session result", "session", sessionID, "error", err)
		}
		s.events.LogResult(r.Context(), sessionID, res)
	}
	if err := s.store.CompleteSession(r.Context(), sessionID); err != nil {
		s.logger.Warn("httpapi: complete session", "session", sessionID, "error", err)
	}

	rec, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("httpapi: load session", "session", sessionID, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, batchHealResponse{Session: rec, Results: results})
}

func (s *Service) handleLowConfidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	threshold := 0.5
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			jsonErr(w, "threshold must be in [0,1]", http.StatusBadRequest)
			return
		}
		threshold = f
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	sels, err := s.store.LowConfidence(r.Context(), q.Get("tenant_id"), threshold, limit)
	if err != nil {
		s.logger.Error("httpapi: low confidence query", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sels == nil {
		sels = []selector.Selector{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"selectors": sels})
}

func (s *Service) handleGetSelector(w http.ResponseWriter, r *http.Request) {
	sel, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("httpapi: get selector", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sel == nil {
		jsonErr(w, "selector not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (s *Service) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	err := s.store.RecordUsage(r.Context(), id, req.Success)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, "selector not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("httpapi: record usage", "selector", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.Deactivate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, "selector not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("httpapi: deactivate", "selector", id, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("httpapi: get session", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonErr(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// resolveSelector merges stored state into a caller-supplied selector so
// healing sees real usage history and alternatives. Lookup is by id first,
// then by (value, type).
func (s *Service) resolveSelector(ctx context.Context, sel selector.Selector) selector.Selector {
	var stored *selector.Selector
	var err error
	if sel.ID != "" {
		stored, err = s.store.Get(ctx, sel.ID)
	} else if sel.Type != "" {
		stored, err = s.store.GetByValue(ctx, sel.Value, sel.Type)
	}
	if err != nil {
		s.logger.Warn("httpapi: selector lookup failed", "value", sel.Value, "error", err)
		return sel
	}
	if stored == nil {
		return sel
	}
	return *stored
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

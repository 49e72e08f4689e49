package httpapi

import (
	"net/http"
	"strconv"
)

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, errBadRequest("некорректный limit"))
			return
		}
		limit = min(n, 200)
	}
	top := h.deps.Patterns.TopByConfidence
	switch q.Get("sort") {
	case "", "confidence":
	case "frequency":
		top = h.deps.Patterns.TopByFrequency
	default:
		h.fail(w, r, errBadRequest("sort должен быть confidence или frequency"))
		return
	}
	list, err := top(r.Context(), userID(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]patternResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPatternResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) patternStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Patterns.Stats(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getPattern(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.deps.Patterns.Get(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatternResponse(p))
}

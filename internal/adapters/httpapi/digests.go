package httpapi

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"notify-hub/internal/domain"
)

func (h *Handler) listDigests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, errBadRequest("некорректный limit"))
			return
		}
		limit = n
	}
	list, err := h.deps.Digests.List(r.Context(), userID(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	loc := h.deps.Digests.Location()
	out := make([]digestResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toDigestResponse(d, loc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) generateDigest(w http.ResponseWriter, r *http.Request) {
	var req generateDigestRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t := domain.DigestType(req.Type)
	var window domain.Window
	if req.Start != nil && req.End != nil {
		window = domain.Window{Start: req.Start.UTC(), End: req.End.UTC()}
	} else {
		var err error
		if window, err = h.deps.Digests.Window(t); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	d, err := h.deps.Digests.Generate(r.Context(), userID(r), t, window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDigestResponse(d, h.deps.Digests.Location()))
}

func (h *Handler) latestDigest(w http.ResponseWriter, r *http.Request) {
	d, err := h.deps.Digests.Latest(r.Context(), userID(r), domain.DigestType(chi.URLParam(r, "type")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDigestResponse(d, h.deps.Digests.Location()))
}

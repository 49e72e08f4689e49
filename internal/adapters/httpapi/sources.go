package httpapi

import (
	"net/http"

	"notify-hub/internal/domain"
	"notify-hub/internal/usecase/sources"
)

func (h *Handler) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	src, err := h.deps.Sources.Create(r.Context(), userID(r), sources.CreateInput{
		Type:        domain.SourceType(req.Type),
		Name:        req.Name,
		Enabled:     enabled,
		Credentials: req.Credentials,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Sources.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sourceResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSourceResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := h.deps.Sources.Get(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(src))
}

func (h *Handler) updateSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateSourceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	src, err := h.deps.Sources.Update(r.Context(), userID(r), id, sources.UpdateInput{
		Name:        req.Name,
		Enabled:     req.Enabled,
		Credentials: req.Credentials,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(src))
}

func (h *Handler) deleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Sources.Delete(r.Context(), userID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) syncSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.deps.Ingest.SyncNow(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type testAuthResponse struct {
	OK    bool   `json:"ok"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) testSourceAuth(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	err = h.deps.Ingest.TestAuth(r.Context(), userID(r), id)
	if err == nil {
		writeJSON(w, http.StatusOK, testAuthResponse{OK: true})
		return
	}
	if se, ok := domain.AsSourceError(err); ok {
		writeJSON(w, http.StatusOK, testAuthResponse{Kind: string(se.Kind), Error: se.Error()})
		return
	}
	h.fail(w, r, err)
}

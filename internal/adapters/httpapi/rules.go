package httpapi

import (
	"net/http"

	"notify-hub/internal/domain"
)

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.deps.Rules.Create(r.Context(), userID(r), rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(created))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Rules.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ruleResponse, 0, len(list))
	for _, rule := range list {
		out = append(out, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.deps.Rules.Get(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ruleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule.ID = id
	updated, err := h.deps.Rules.Update(r.Context(), userID(r), rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(updated))
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Rules.Delete(r.Context(), userID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testRules(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	var candidate *domain.NotificationRule
	if req.Rule != nil {
		rule, err := req.Rule.toRule()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		candidate = &rule
	}
	res, err := h.deps.Rules.Test(r.Context(), userID(r), req.Notification.toNotification(), candidate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleTestResponse{
		Notification: toNotificationResponse(res.Notification),
		Applied:      res.Applied,
		Skipped:      res.Skipped,
		Matched:      res.Matched,
	})
}

package httpapi

import (
	"net/http"
	"strconv"

	"notify-hub/internal/domain"
)

type notificationListResponse struct {
	Items  []notificationResponse `json:"items"`
	Unread int                    `json:"unread"`
}

func parseFilter(r *http.Request) (domain.NotificationFilter, error) {
	q := r.URL.Query()
	var filter domain.NotificationFilter
	for name, dst := range map[string]**bool{"read": &filter.Read, "archived": &filter.Archived} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errBadRequest("некорректный параметр " + name)
		}
		*dst = &v
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, errBadRequest("некорректный параметр " + name)
		}
		*dst = v
	}
	filter.Category = q.Get("category")
	return filter, nil
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	uid := userID(r)
	list, err := h.deps.Notifications.List(r.Context(), uid, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unread, err := h.deps.Notifications.UnreadCount(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := notificationListResponse{Items: make([]notificationResponse, 0, len(list)), Unread: unread}
	for _, n := range list {
		out.Items = append(out.Items, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Notifications.MarkRead(r.Context(), userID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	changed, err := h.deps.Notifications.MarkAllRead(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": changed})
}

func (h *Handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Notifications.Delete(r.Context(), userID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

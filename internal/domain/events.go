package domain

import "time"

// EventType - тип события доставки.
type EventType string

const (
	// EventNotification - появилось новое обработанное уведомление.
	EventNotification EventType = "notification"
	// EventUnreadCount - изменилось число непрочитанных.
	EventUnreadCount EventType = "unread_count"
	// EventNotificationRead - уведомление отмечено прочитанным.
	EventNotificationRead EventType = "notification_read"
)

// Event - сообщение, которое уходит подписчикам пользователя.
type Event struct {
	Type         EventType          `json:"type"`
	UserID       int64              `json:"user_id"`
	Notification *NotificationEvent `json:"notification,omitempty"`
	Unread       *int               `json:"unread,omitempty"`
	IDs          []int64            `json:"ids,omitempty"`
	OccurredAt   time.Time          `json:"occurred_at"`
}

// NotificationEvent - публичное представление уведомления в событии.
type NotificationEvent struct {
	ID         int64      `json:"id"`
	SourceType SourceType `json:"source_type"`
	Sender     string     `json:"sender"`
	Subject    string     `json:"subject"`
	URL        string     `json:"url,omitempty"`
	Category   string     `json:"category"`
	Priority   int        `json:"priority"`
	Sentiment  Sentiment  `json:"sentiment"`
	Summary    string     `json:"summary,omitempty"`
	Read       bool       `json:"read"`
	Archived   bool       `json:"archived"`
	Tags       []string   `json:"tags,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// NewNotificationEvent строит событие о новом уведомлении.
func NewNotificationEvent(n Notification, at time.Time) Event {
	return Event{
		Type:   EventNotification,
		UserID: n.UserID,
		Notification: &NotificationEvent{
			ID:         n.ID,
			SourceType: n.SourceType,
			Sender:     n.Sender,
			Subject:    n.Subject,
			URL:        n.URL,
			Category:   n.Category,
			Priority:   n.Priority,
			Sentiment:  n.Sentiment,
			Summary:    n.Summary,
			Read:       n.Read,
			Archived:   n.Archived,
			Tags:       n.Tags,
			ReceivedAt: n.ReceivedAt,
		},
		OccurredAt: at,
	}
}

// NewUnreadCountEvent строит событие о числе непрочитанных.
func NewUnreadCountEvent(userID int64, unread int, at time.Time) Event {
	return Event{Type: EventUnreadCount, UserID: userID, Unread: &unread, OccurredAt: at}
}

// NewReadEvent строит событие о прочтении уведомлений.
func NewReadEvent(userID int64, ids []int64, at time.Time) Event {
	return Event{Type: EventNotificationRead, UserID: userID, IDs: ids, OccurredAt: at}
}

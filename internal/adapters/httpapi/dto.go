package httpapi

import (
	"strings"
	"time"

	"notify-hub/internal/domain"
	"notify-hub/internal/usecase/digest"
	"notify-hub/internal/usecase/rules"
)

type sourceResponse struct {
	ID         int64             `json:"id"`
	Type       domain.SourceType `json:"type"`
	Name       string            `json:"name"`
	Enabled    bool              `json:"enabled"`
	Cursor     string            `json:"cursor,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	LastSyncAt *time.Time        `json:"last_sync_at,omitempty"`
	NextSyncAt *time.Time        `json:"next_sync_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// toSourceResponse никогда не включает учётные данные.
func toSourceResponse(s domain.NotificationSource) sourceResponse {
	return sourceResponse{
		ID:         s.ID,
		Type:       s.Type,
		Name:       s.Name,
		Enabled:    s.Enabled,
		Cursor:     s.Cursor,
		LastError:  s.LastError,
		LastSyncAt: s.LastSyncAt,
		NextSyncAt: s.NextSyncAt,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

type createSourceRequest struct {
	Type        string             `json:"type" validate:"required,oneof=gmail imap telegram jira github"`
	Name        string             `json:"name" validate:"max=100"`
	Enabled     *bool              `json:"enabled"`
	Credentials domain.Credentials `json:"credentials"`
}

type updateSourceRequest struct {
	Name        *string             `json:"name" validate:"omitempty,max=100"`
	Enabled     *bool               `json:"enabled"`
	Credentials *domain.Credentials `json:"credentials"`
}

type ruleRequest struct {
	Name          string           `json:"name" validate:"required,max=200"`
	Enabled       *bool            `json:"enabled"`
	Priority      int              `json:"priority"`
	ConditionType string           `json:"condition_type" validate:"omitempty,max=64"`
	Condition     domain.Condition `json:"condition"`
	Action        domain.Action    `json:"action"`
}

func (r ruleRequest) toRule() (domain.NotificationRule, error) {
	cond := r.Condition
	if r.ConditionType != "" {
		field, op, err := domain.ParseConditionType(r.ConditionType)
		if err != nil {
			return domain.NotificationRule{}, err
		}
		cond.Field, cond.Operator = field, op
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return domain.NotificationRule{
		Name:      r.Name,
		Enabled:   enabled,
		Priority:  r.Priority,
		Condition: cond,
		Action:    r.Action,
	}, nil
}

type ruleResponse struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Enabled   bool             `json:"enabled"`
	Priority  int              `json:"priority"`
	Condition domain.Condition `json:"condition"`
	Action    domain.Action    `json:"action"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func toRuleResponse(r domain.NotificationRule) ruleResponse {
	return ruleResponse{
		ID:        r.ID,
		Name:      r.Name,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
		Condition: r.Condition,
		Action:    r.Action,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type sampleNotification struct {
	SourceType string   `json:"source_type" validate:"omitempty,oneof=gmail imap telegram jira github"`
	Sender     string   `json:"sender"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	URL        string   `json:"url"`
	Category   string   `json:"category"`
	Priority   int      `json:"priority" validate:"gte=0,lte=100"`
	Sentiment  string   `json:"sentiment"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	SpamScore  float64  `json:"spam_score" validate:"gte=0,lte=1"`
	Tags       []string `json:"tags"`
}

func (s sampleNotification) toNotification() domain.Notification {
	return domain.Notification{
		SourceType: domain.SourceType(s.SourceType),
		Sender:     s.Sender,
		Subject:    s.Subject,
		Body:       s.Body,
		URL:        s.URL,
		Category:   strings.TrimSpace(s.Category),
		Priority:   s.Priority,
		Sentiment:  domain.NormalizeSentiment(s.Sentiment),
		Confidence: s.Confidence,
		SpamScore:  s.SpamScore,
		Tags:       s.Tags,
		ReceivedAt: time.Now().UTC(),
	}
}

type ruleTestRequest struct {
	Notification sampleNotification `json:"notification"`
	Rule         *ruleRequest       `json:"rule"`
}

type ruleTestResponse struct {
	Notification notificationResponse  `json:"notification"`
	Applied      []rules.AppliedAction `json:"applied"`
	Skipped      []rules.SkippedRule   `json:"skipped"`
	Matched      int                   `json:"matched"`
}

type notificationResponse struct {
	ID         int64                       `json:"id"`
	SourceID   int64                       `json:"source_id"`
	SourceType domain.SourceType           `json:"source_type"`
	ExternalID string                      `json:"external_id,omitempty"`
	Sender     string                      `json:"sender"`
	Subject    string                      `json:"subject"`
	Body       string                      `json:"body,omitempty"`
	URL        string                      `json:"url,omitempty"`
	ReceivedAt time.Time                   `json:"received_at"`
	Category   string                      `json:"category"`
	Priority   int                         `json:"priority"`
	Sentiment  domain.Sentiment            `json:"sentiment"`
	Summary    string                      `json:"summary,omitempty"`
	Confidence float64                     `json:"confidence"`
	SpamScore  float64                     `json:"spam_score"`
	Read       bool                        `json:"read"`
	Archived   bool                        `json:"archived"`
	Tags       []string                    `json:"tags"`
	Status     domain.ClassificationStatus `json:"status,omitempty"`
}

func toNotificationResponse(n domain.Notification) notificationResponse {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return notificationResponse{
		ID:         n.ID,
		SourceID:   n.SourceID,
		SourceType: n.SourceType,
		ExternalID: n.ExternalID,
		Sender:     n.Sender,
		Subject:    n.Subject,
		Body:       n.Body,
		URL:        n.URL,
		ReceivedAt: n.ReceivedAt,
		Category:   n.Category,
		Priority:   n.Priority,
		Sentiment:  n.Sentiment,
		Summary:    n.Summary,
		Confidence: n.Confidence,
		SpamScore:  n.SpamScore,
		Read:       n.Read,
		Archived:   n.Archived,
		Tags:       tags,
		Status:     n.Status,
	}
}

type patternResponse struct {
	ID         int64              `json:"id"`
	Key        string             `json:"key"`
	Type       domain.PatternType `json:"type"`
	Category   string             `json:"category"`
	Priority   int                `json:"priority"`
	Frequency  int64              `json:"frequency"`
	Confidence float64            `json:"confidence"`
	SpamScore  float64            `json:"spam_score"`
	LastSeenAt time.Time          `json:"last_seen_at"`
}

func toPatternResponse(p domain.NotificationPattern) patternResponse {
	return patternResponse{
		ID:         p.ID,
		Key:        p.Key,
		Type:       p.Type,
		Category:   p.Category,
		Priority:   p.Priority,
		Frequency:  p.Frequency,
		Confidence: p.Confidence,
		SpamScore:  p.SpamScore,
		LastSeenAt: p.LastSeenAt,
	}
}

type generateDigestRequest struct {
	Type  string     `json:"type" validate:"required,oneof=daily weekly monthly"`
	Start *time.Time `json:"start" validate:"required_with=End"`
	End   *time.Time `json:"end" validate:"required_with=Start"`
}

type digestResponse struct {
	ID                int64             `json:"id"`
	Type              domain.DigestType `json:"type"`
	WindowStart       time.Time         `json:"window_start"`
	WindowEnd         time.Time         `json:"window_end"`
	NotificationCount int               `json:"notification_count"`
	Categories        map[string]int    `json:"categories"`
	Summary           string            `json:"summary"`
	Text              string            `json:"text"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

func toDigestResponse(d domain.NotificationDigest, loc *time.Location) digestResponse {
	categories := d.Categories
	if categories == nil {
		categories = map[string]int{}
	}
	return digestResponse{
		ID:                d.ID,
		Type:              d.Type,
		WindowStart:       d.Window.Start,
		WindowEnd:         d.Window.End,
		NotificationCount: d.NotificationCount,
		Categories:        categories,
		Summary:           d.Summary,
		Text:              digest.FormatDigest(d, loc),
		GeneratedAt:       d.GeneratedAt,
	}
}

package collector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// GmailCollector читает входящие письма через Gmail API.
type GmailCollector struct {
	oauth oauth2.Endpoint
}

// NewGmail создаёт коллектор Gmail.
func NewGmail() *GmailCollector {
	return &GmailCollector{oauth: google.Endpoint}
}

func (c *GmailCollector) service(ctx context.Context, creds domain.Credentials) (*gmail.Service, error) {
	if creds.ClientID == "" || creds.RefreshToken == "" {
		return nil, domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrAuth, fmt.Errorf("не заданы client_id или refresh_token"))
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     c.oauth,
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(creds.BaseURL))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrTransient, fmt.Errorf("gmail service: %w", err))
	}
	return svc, nil
}

// TestAuth получает профиль ящика.
func (c *GmailCollector) TestAuth(ctx context.Context, creds domain.Credentials) error {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = svc.Users.GetProfile("me").Context(ctx).Do()
	metrics.ObserveNetworkRequest("gmail", "profile", "gmail.googleapis.com", start, err)
	return gmailError(err)
}

// Sync возвращает письма с internalDate строго больше курсора (миллисекунды).
// messages.list отдаёт письма от новых к старым: список идентификаторов читается
// целиком, а письма запрашиваются с самых старых.
func (c *GmailCollector) Sync(ctx context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	var since int64
	if source.Cursor != "" {
		v, err := strconv.ParseInt(source.Cursor, 10, 64)
		if err != nil {
			return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrMalformed, fmt.Errorf("курсор %q: %w", source.Cursor, err))
		}
		since = v
	}
	svc, err := c.service(ctx, creds)
	if err != nil {
		return domain.SyncResult{}, err
	}

	query := strings.TrimSpace(creds.Query)
	if since > 0 {
		// after: принимает секунды, точный отбор по internalDate ниже
		query = strings.TrimSpace(fmt.Sprintf("%s after:%d", query, since/1000))
	} else {
		query = strings.TrimSpace(query + " newer_than:7d")
	}

	var ids []string
	pageToken := ""
	for {
		call := svc.Users.Messages.List("me").Q(query).MaxResults(100).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		start := time.Now()
		resp, err := call.Do()
		metrics.ObserveNetworkRequest("gmail", "messages_list", "gmail.googleapis.com", start, err)
		if err != nil {
			return domain.SyncResult{}, gmailError(err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	cursor := since
	var items []domain.Notification
	// лишнее письмо показывает, есть ли ровесник последнего на границе
	next := len(ids) - 1
	for ; next >= 0 && len(items) <= maxItemsPerSync; next-- {
		id := ids[next]
		start := time.Now()
		msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		metrics.ObserveNetworkRequest("gmail", "messages_get", "gmail.googleapis.com", start, err)
		if err != nil {
			return domain.SyncResult{}, gmailError(err)
		}
		if msg.InternalDate <= since {
			continue
		}
		items = append(items, gmailNotification(source, msg))
		if msg.InternalDate > cursor {
			cursor = msg.InternalDate
		}
	}
	items, deferred := keepOldest(items, maxItemsPerSync)
	if (deferred || next >= 0) && len(items) > 0 {
		// более новые письма остались на следующий проход
		cursor = items[len(items)-1].ReceivedAt.UnixMilli()
	}
	res := domain.SyncResult{Items: items, Cursor: source.Cursor}
	if cursor > 0 {
		res.Cursor = strconv.FormatInt(cursor, 10)
	}
	return res, nil
}

func gmailNotification(source domain.NotificationSource, msg *gmail.Message) domain.Notification {
	n := domain.Notification{
		UserID:     source.UserID,
		SourceID:   source.ID,
		SourceType: domain.SourceTypeGmail,
		ExternalID: msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
		URL:        "https://mail.google.com/mail/u/0/#all/" + msg.Id,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				n.Subject = h.Value
			case "from":
				n.Sender = h.Value
			}
		}
		text, html := gmailBody(msg.Payload)
		if text == "" {
			text = stripTags(html)
		}
		n.Body = truncate(strings.TrimSpace(text), 8000)
	}
	if n.Body == "" {
		n.Body = msg.Snippet
	}
	return n
}

func gmailBody(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/plain"):
				text = string(data)
			case strings.HasPrefix(part.MimeType, "text/html"):
				html = string(data)
			}
		}
	}
	for _, sub := range part.Parts {
		t, h := gmailBody(sub)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

// gmailError переводит ошибки Google API и OAuth в ошибки источника.
func gmailError(err error) error {
	if err == nil {
		return nil
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrAuth, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrAuth, err)
		case apiErr.Code == http.StatusTooManyRequests || (apiErr.Code == http.StatusForbidden && gmailRateLimited(apiErr)):
			return domain.RateLimited(domain.SourceTypeGmail, retryAfter(apiErr.Header), err)
		case apiErr.Code == http.StatusForbidden:
			return domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrAuth, err)
		case apiErr.Code >= 500:
			return domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrTransient, err)
		}
		return domain.NewSourceError(domain.SourceTypeGmail, domain.SourceErrMalformed, err)
	}
	return transient(domain.SourceTypeGmail, err)
}

func gmailRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "RateLimitExceeded") || strings.Contains(item.Reason, "rateLimitExceeded") {
			return true
		}
	}
	return false
}

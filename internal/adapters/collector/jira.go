package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notify-hub/internal/domain"
)

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// JiraCollector выбирает задачи Jira, обновлённые после курсора.
type JiraCollector struct {
	rest *restClient
}

// NewJira создаёт коллектор Jira.
func NewJira(httpClient *http.Client) *JiraCollector {
	return &JiraCollector{rest: newRESTClient(domain.SourceTypeJira, httpClient)}
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string    `json:"summary"`
		Description string    `json:"description"`
		Updated     string    `json:"updated"`
		Reporter    *jiraUser `json:"reporter"`
		Assignee    *jiraUser `json:"assignee"`
		Status      *struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
	} `json:"fields"`
}

type jiraUser struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

func (u *jiraUser) sender() string {
	if u == nil {
		return ""
	}
	if u.EmailAddress != "" {
		if u.DisplayName != "" {
			return fmt.Sprintf("%s <%s>", u.DisplayName, u.EmailAddress)
		}
		return u.EmailAddress
	}
	return u.DisplayName
}

func jiraAuth(creds domain.Credentials) authFunc {
	if creds.Username != "" {
		secret := creds.Password
		if secret == "" {
			secret = creds.Token
		}
		return basic(creds.Username, secret)
	}
	return bearer(creds.Token)
}

func jiraBase(creds domain.Credentials) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if base == "" {
		return "", domain.NewSourceError(domain.SourceTypeJira, domain.SourceErrAuth, fmt.Errorf("не задан base_url"))
	}
	return base, nil
}

// TestAuth проверяет токен запросом /myself.
func (c *JiraCollector) TestAuth(ctx context.Context, creds domain.Credentials) error {
	base, err := jiraBase(creds)
	if err != nil {
		return err
	}
	_, err = c.rest.getJSON(ctx, "myself", base+"/rest/api/2/myself", jiraAuth(creds), nil)
	return err
}

// Sync возвращает задачи, обновлённые строго позже курсора.
// Курсор - время последнего обновления в RFC3339.
func (c *JiraCollector) Sync(ctx context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	base, err := jiraBase(creds)
	if err != nil {
		return domain.SyncResult{}, err
	}
	var since time.Time
	if source.Cursor != "" {
		since, err = time.Parse(time.RFC3339Nano, source.Cursor)
		if err != nil {
			return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeJira, domain.SourceErrMalformed, fmt.Errorf("курсор %q: %w", source.Cursor, err))
		}
	}

	jql := strings.TrimSpace(creds.Query)
	if jql == "" {
		jql = "assignee = currentUser() OR reporter = currentUser() OR watcher = currentUser()"
	}
	if !since.IsZero() {
		// JQL сравнивает с точностью до минуты, точный отбор ниже
		jql = fmt.Sprintf("(%s) AND updated >= \"%s\"", jql, since.UTC().Format("2006/01/02 15:04"))
	}
	jql += " ORDER BY updated ASC"

	cursor := since
	var items []domain.Notification
	for startAt := 0; len(items) < maxItemsPerSync; {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("fields", "summary,description,updated,reporter,assignee,status,priority")
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", "50")
		var page jiraSearchResponse
		if _, err := c.rest.getJSON(ctx, "search", base+"/rest/api/2/search?"+q.Encode(), jiraAuth(creds), &page); err != nil {
			return domain.SyncResult{}, err
		}
		for _, issue := range page.Issues {
			updated, err := time.Parse(jiraTimeLayout, issue.Fields.Updated)
			if err != nil {
				return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeJira, domain.SourceErrMalformed, fmt.Errorf("%s: updated %q: %w", issue.Key, issue.Fields.Updated, err))
			}
			if !updated.After(since) {
				continue
			}
			items = append(items, jiraNotification(source, base, issue, updated))
			if updated.After(cursor) {
				cursor = updated
			}
		}
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}
	items, deferred := keepOldest(items, maxItemsPerSync)
	if deferred {
		cursor = items[len(items)-1].ReceivedAt
	}
	res := domain.SyncResult{Items: items, Cursor: source.Cursor}
	if !cursor.IsZero() {
		res.Cursor = cursor.UTC().Format(time.RFC3339Nano)
	}
	return res, nil
}

func jiraNotification(source domain.NotificationSource, base string, issue jiraIssue, updated time.Time) domain.Notification {
	f := issue.Fields
	var body strings.Builder
	if f.Status != nil {
		fmt.Fprintf(&body, "Status: %s\n", f.Status.Name)
	}
	if f.Priority != nil {
		fmt.Fprintf(&body, "Priority: %s\n", f.Priority.Name)
	}
	if f.Assignee != nil {
		fmt.Fprintf(&body, "Assignee: %s\n", f.Assignee.DisplayName)
	}
	if f.Description != "" {
		body.WriteString("\n")
		body.WriteString(truncate(f.Description, 8000))
	}
	return domain.Notification{
		UserID:     source.UserID,
		SourceID:   source.ID,
		SourceType: domain.SourceTypeJira,
		ExternalID: issue.Key + "@" + updated.UTC().Format(time.RFC3339Nano),
		Sender:     f.Reporter.sender(),
		Subject:    fmt.Sprintf("[%s] %s", issue.Key, f.Summary),
		Body:       strings.TrimSpace(body.String()),
		URL:        base + "/browse/" + issue.Key,
		ReceivedAt: updated.UTC(),
	}
}

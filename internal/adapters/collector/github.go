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

const (
	defaultGitHubAPI = "https://api.github.com"
	githubPageSize   = 50
)

// GitHubCollector выбирает уведомления GitHub: issues, pull requests, обсуждения и проекты.
type GitHubCollector struct {
	rest *restClient
}

// NewGitHub создаёт коллектор GitHub.
func NewGitHub(httpClient *http.Client) *GitHubCollector {
	return &GitHubCollector{rest: newRESTClient(domain.SourceTypeGitHub, httpClient)}
}

type githubThread struct {
	ID        string `json:"id"`
	Unread    bool   `json:"unread"`
	Reason    string `json:"reason"`
	UpdatedAt string `json:"updated_at"`
	Subject   struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

func githubBase(creds domain.Credentials) string {
	base := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if base == "" {
		return defaultGitHubAPI
	}
	return base
}

func githubAuth(creds domain.Credentials) (authFunc, error) {
	if creds.Token == "" {
		return nil, domain.NewSourceError(domain.SourceTypeGitHub, domain.SourceErrAuth, fmt.Errorf("не задан token"))
	}
	return bearer(creds.Token), nil
}

// TestAuth проверяет токен запросом /user.
func (c *GitHubCollector) TestAuth(ctx context.Context, creds domain.Credentials) error {
	auth, err := githubAuth(creds)
	if err != nil {
		return err
	}
	_, err = c.rest.getJSON(ctx, "user", githubBase(creds)+"/user", auth, nil)
	return err
}

// Sync возвращает потоки уведомлений, обновлённые строго позже курсора.
// GitHub отдаёт потоки от новых к старым, поэтому страницы читаются до конца,
// а за проход берутся самые старые элементы.
func (c *GitHubCollector) Sync(ctx context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	auth, err := githubAuth(creds)
	if err != nil {
		return domain.SyncResult{}, err
	}
	var since time.Time
	if source.Cursor != "" {
		since, err = time.Parse(time.RFC3339, source.Cursor)
		if err != nil {
			return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeGitHub, domain.SourceErrMalformed, fmt.Errorf("курсор %q: %w", source.Cursor, err))
		}
	}

	base := githubBase(creds)
	q := url.Values{}
	q.Set("all", "true")
	q.Set("per_page", fmt.Sprint(githubPageSize))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpoint := base + "/notifications?" + q.Encode()

	cursor := since
	var items []domain.Notification
	for page := 1; endpoint != ""; page++ {
		var threads []githubThread
		header, err := c.rest.getJSON(ctx, "notifications", endpoint, auth, &threads)
		if err != nil {
			return domain.SyncResult{}, err
		}
		for _, th := range threads {
			updated, err := time.Parse(time.RFC3339, th.UpdatedAt)
			if err != nil {
				return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeGitHub, domain.SourceErrMalformed, fmt.Errorf("thread %s: updated_at %q: %w", th.ID, th.UpdatedAt, err))
			}
			// since у GitHub включительный
			if !updated.After(since) {
				continue
			}
			items = append(items, githubNotification(source, th, updated))
			if updated.After(cursor) {
				cursor = updated
			}
		}
		endpoint = nextLink(header)
		if header.Get("Link") == "" && len(threads) == githubPageSize {
			// без Link листаем по номеру страницы до неполной
			q.Set("page", fmt.Sprint(page+1))
			endpoint = base + "/notifications?" + q.Encode()
		}
	}
	items, deferred := keepOldest(items, maxItemsPerSync)
	if deferred {
		cursor = items[len(items)-1].ReceivedAt
	}
	res := domain.SyncResult{Items: items, Cursor: source.Cursor}
	if !cursor.IsZero() {
		res.Cursor = cursor.UTC().Format(time.RFC3339)
	}
	return res, nil
}

func githubNotification(source domain.NotificationSource, th githubThread, updated time.Time) domain.Notification {
	body := fmt.Sprintf("%s in %s (reason: %s)", th.Subject.Type, th.Repository.FullName, th.Reason)
	return domain.Notification{
		UserID:     source.UserID,
		SourceID:   source.ID,
		SourceType: domain.SourceTypeGitHub,
		ExternalID: th.ID + "@" + updated.UTC().Format(time.RFC3339),
		Sender:     th.Repository.FullName,
		Subject:    fmt.Sprintf("[%s] %s", th.Repository.FullName, th.Subject.Title),
		Body:       body,
		URL:        githubHTMLURL(th),
		ReceivedAt: updated.UTC(),
	}
}

// githubHTMLURL переводит API-ссылку субъекта в ссылку для браузера.
func githubHTMLURL(th githubThread) string {
	api := th.Subject.URL
	if api == "" {
		return th.Repository.HTMLURL
	}
	idx := strings.Index(api, "/repos/")
	if idx < 0 {
		return th.Repository.HTMLURL
	}
	path := api[idx+len("/repos/"):]
	path = strings.Replace(path, "/pulls/", "/pull/", 1)
	return "https://github.com/" + path
}

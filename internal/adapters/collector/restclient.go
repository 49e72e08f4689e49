package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// maxItemsPerSync ограничивает число элементов за один проход источника.
const maxItemsPerSync = 200

const defaultRetryAfter = time.Minute

// keepOldest сортирует элементы по времени и оставляет не больше limit самых старых.
// Граница не разрезает элементы с одинаковым временем: курсор по времени строгий,
// и отброшенный ровесник последнего элемента потерялся бы. Второй результат
// сообщает, что часть элементов отложена до следующего прохода.
func keepOldest(items []domain.Notification, limit int) ([]domain.Notification, bool) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ReceivedAt.Before(items[j].ReceivedAt) })
	if len(items) <= limit {
		return items, false
	}
	boundary := items[limit].ReceivedAt
	cut := limit
	for cut > 0 && items[cut-1].ReceivedAt.Equal(boundary) {
		cut--
	}
	if cut == 0 {
		// все первые limit элементов - ровесники: берём их целиком
		cut = limit
		for cut < len(items) && items[cut].ReceivedAt.Equal(boundary) {
			cut++
		}
	}
	return items[:cut], cut < len(items)
}

// nextLink возвращает ссылку rel="next" из заголовка Link.
func nextLink(h http.Header) string {
	for _, value := range h.Values("Link") {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				param = strings.TrimSpace(param)
				if param == `rel="next"` || param == "rel=next" {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

// restClient - общий JSON-клиент REST-источников. На 429 не ждёт,
// а возвращает ошибку rate_limit: источник продолжит на следующем цикле.
type restClient struct {
	http   *http.Client
	source domain.SourceType
}

func newRESTClient(source domain.SourceType, httpClient *http.Client) *restClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &restClient{http: httpClient, source: source}
}

type authFunc func(*http.Request)

func bearer(token string) authFunc {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func basic(user, password string) authFunc {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

// getJSON выполняет GET и декодирует ответ в out.
func (c *restClient) getJSON(ctx context.Context, op, endpoint string, auth authFunc, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewSourceError(c.source, domain.SourceErrMalformed, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}

	target := endpoint
	if u, err := url.Parse(endpoint); err == nil {
		target = u.Host
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(string(c.source), op, target, start, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewSourceError(c.source, domain.SourceErrTransient, fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		metrics.ObserveNetworkRequest(string(c.source), op, target, start, err)
		return nil, domain.NewSourceError(c.source, domain.SourceErrTransient, fmt.Errorf("%s: read body: %w", op, err))
	}
	if statusErr := c.statusError(op, resp, body); statusErr != nil {
		metrics.ObserveNetworkRequest(string(c.source), op, target, start, statusErr)
		return resp.Header, statusErr
	}
	metrics.ObserveNetworkRequest(string(c.source), op, target, start, nil)
	if out == nil {
		return resp.Header, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.Header, domain.NewSourceError(c.source, domain.SourceErrMalformed, fmt.Errorf("%s: decode: %w", op, err))
	}
	return resp.Header, nil
}

func (c *restClient) statusError(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	msg := fmt.Errorf("%s: status %d: %s", op, code, snippet(body))
	switch {
	case code == http.StatusUnauthorized:
		return domain.NewSourceError(c.source, domain.SourceErrAuth, msg)
	case code == http.StatusForbidden:
		// GitHub отвечает 403 при исчерпании лимита
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return domain.RateLimited(c.source, rateLimitReset(resp.Header), msg)
		}
		return domain.NewSourceError(c.source, domain.SourceErrAuth, msg)
	case code == http.StatusTooManyRequests:
		return domain.RateLimited(c.source, retryAfter(resp.Header), msg)
	case code >= 500:
		return domain.NewSourceError(c.source, domain.SourceErrTransient, msg)
	}
	return domain.NewSourceError(c.source, domain.SourceErrMalformed, msg)
}

func retryAfter(h http.Header) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func rateLimitReset(h http.Header) time.Duration {
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if d := time.Until(time.Unix(reset, 0)); d > 0 {
			return d
		}
	}
	return retryAfter(h)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// transient оборачивает неожиданную ошибку в SourceError, если она ещё не типизирована.
func transient(source domain.SourceType, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsSourceError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewSourceError(source, domain.SourceErrTransient, err)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

package collector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"notify-hub/internal/domain"
)

func TestJiraSyncFiltersByCursor(t *testing.T) {
	var gotJQL, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/search" {
			http.NotFound(w, r)
			return
		}
		gotJQL = r.URL.Query().Get("jql")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"startAt":0,"maxResults":50,"total":2,"issues":[
			{"key":"OPS-1","fields":{"summary":"old","updated":"2026-01-10T10:00:00.000+0000"}},
			{"key":"OPS-2","fields":{"summary":"Deploy failed","updated":"2026-01-10T10:05:30.000+0000","reporter":{"displayName":"Ann","emailAddress":"ann@corp.com"},"status":{"name":"Open"}}}
		]}`)
	}))
	defer srv.Close()

	c := NewJira(srv.Client())
	source := domain.NotificationSource{ID: 3, UserID: 7, Cursor: "2026-01-10T10:00:00Z"}
	res, err := c.Sync(context.Background(), source, domain.Credentials{BaseURL: srv.URL, Token: "pat"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("ожидали 1 новую задачу, получили %d", len(res.Items))
	}
	n := res.Items[0]
	if n.ExternalID != "OPS-2@2026-01-10T10:05:30Z" || n.Sender != "Ann <ann@corp.com>" || n.URL != srv.URL+"/browse/OPS-2" {
		t.Fatalf("неожиданное уведомление: %+v", n)
	}
	if n.UserID != 7 || n.SourceID != 3 || n.SourceType != domain.SourceTypeJira {
		t.Fatalf("не проставлен владелец: %+v", n)
	}
	if res.Cursor != "2026-01-10T10:05:30Z" {
		t.Fatalf("курсор %q", res.Cursor)
	}
	if !strings.Contains(gotJQL, `updated >= "2026/01/10 10:00"`) || !strings.HasSuffix(gotJQL, "ORDER BY updated ASC") {
		t.Fatalf("неожиданный JQL: %s", gotJQL)
	}
	if gotAuth != "Bearer pat" {
		t.Fatalf("ожидали bearer, получили %q", gotAuth)
	}
}

func TestJiraRateLimitDoesNotSleep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewJira(srv.Client()).Sync(context.Background(), domain.NotificationSource{}, domain.Credentials{BaseURL: srv.URL, Token: "x"})
	if !domain.IsRateLimited(err) {
		t.Fatalf("ожидали rate_limit, получили %v", err)
	}
	se, _ := domain.AsSourceError(err)
	if se.RetryAfter != 30*time.Second {
		t.Fatalf("retry after %s", se.RetryAfter)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("клиент не должен ждать на 429")
	}
}

func TestRESTStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		header map[string]string
		kind   domain.SourceErrorKind
	}{
		{http.StatusUnauthorized, nil, domain.SourceErrAuth},
		{http.StatusForbidden, nil, domain.SourceErrAuth},
		{http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, domain.SourceErrRateLimit},
		{http.StatusBadGateway, nil, domain.SourceErrTransient},
		{http.StatusBadRequest, nil, domain.SourceErrMalformed},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status, tc.header), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewGitHub(srv.Client()).TestAuth(context.Background(), domain.Credentials{BaseURL: srv.URL, Token: "t"})
			se, ok := domain.AsSourceError(err)
			if !ok || se.Kind != tc.kind {
				t.Fatalf("ожидали %s, получили %v", tc.kind, err)
			}
		})
	}
}

func TestGitHubSync(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		fmt.Fprint(w, `[
			{"id":"11","reason":"review_requested","updated_at":"2026-02-01T09:00:00Z","subject":{"title":"Fix login","url":"https://api.github.com/repos/acme/app/pulls/42","type":"PullRequest"},"repository":{"full_name":"acme/app","html_url":"https://github.com/acme/app"}},
			{"id":"10","reason":"mention","updated_at":"2026-02-01T08:00:00Z","subject":{"title":"Old","type":"Issue"},"repository":{"full_name":"acme/app"}}
		]`)
	}))
	defer srv.Close()

	source := domain.NotificationSource{UserID: 1, Cursor: "2026-02-01T08:00:00Z"}
	res, err := NewGitHub(srv.Client()).Sync(context.Background(), source, domain.Credentials{BaseURL: srv.URL, Token: "t"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotSince != "2026-02-01T08:00:00Z" {
		t.Fatalf("since %q", gotSince)
	}
	if len(res.Items) != 1 || res.Items[0].URL != "https://github.com/acme/app/pull/42" {
		t.Fatalf("неожиданный результат: %+v", res.Items)
	}
	if res.Cursor != "2026-02-01T09:00:00Z" {
		t.Fatalf("курсор %q", res.Cursor)
	}
}

func TestGitHubRequiresToken(t *testing.T) {
	err := NewGitHub(nil).TestAuth(context.Background(), domain.Credentials{})
	if !domain.IsAuthError(err) {
		t.Fatalf("ожидали auth, получили %v", err)
	}
}

func TestTelegramSync(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"hub","username":"hub_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_ = r.ParseForm()
			offsets = append(offsets, r.Form.Get("offset"))
			fmt.Fprint(w, `{"ok":true,"result":[
				{"update_id":41,"message":{"message_id":5,"date":1767225600,"chat":{"id":-100,"type":"supergroup","title":"Ops","username":"ops_chat"},"from":{"id":2,"is_bot":false,"first_name":"Ann","username":"ann"},"text":"deploy failed\nstack trace"}},
				{"update_id":42,"message":{"message_id":6,"date":1767225660,"chat":{"id":-100,"type":"supergroup","title":"Ops"},"sticker":{"file_id":"x"}}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	source := domain.NotificationSource{UserID: 9, Cursor: "40"}
	res, err := NewTelegram(srv.Client()).Sync(context.Background(), source, domain.Credentials{Token: "123:abc", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(offsets) != 1 || offsets[0] != "41" {
		t.Fatalf("ожидали offset=41, получили %v", offsets)
	}
	if res.Cursor != "42" {
		t.Fatalf("курсор должен сдвинуться и на сообщениях без текста: %q", res.Cursor)
	}
	if len(res.Items) != 1 {
		t.Fatalf("ожидали 1 сообщение, получили %d", len(res.Items))
	}
	n := res.Items[0]
	if n.ExternalID != "-100:5" || n.Sender != "@ann" || n.Subject != "Ops: deploy failed" || n.URL != "https://t.me/ops_chat/5" {
		t.Fatalf("неожиданное уведомление: %+v", n)
	}
}

func TestTelegramUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	err := NewTelegram(srv.Client()).TestAuth(context.Background(), domain.Credentials{Token: "bad", BaseURL: srv.URL})
	if !domain.IsAuthError(err) {
		t.Fatalf("ожидали auth, получили %v", err)
	}
}

func TestIMAPCursor(t *testing.T) {
	c, err := parseIMAPCursor("17:250")
	if err != nil || c.validity != 17 || c.uid != 250 {
		t.Fatalf("разбор курсора: %+v %v", c, err)
	}
	if c.String() != "17:250" {
		t.Fatalf("строка курсора %q", c.String())
	}
	if empty, err := parseIMAPCursor(""); err != nil || empty.uid != 0 {
		t.Fatalf("пустой курсор: %+v %v", empty, err)
	}
	for _, bad := range []string{"17", "x:1", "1:y"} {
		if _, err := parseIMAPCursor(bad); err == nil {
			t.Fatalf("ожидали ошибку для %q", bad)
		}
	}
}

func TestMailTextPrefersPlain(t *testing.T) {
	raw := "From: a@b.c\r\nSubject: hi\r\nMIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=XX\r\n\r\n" +
		"--XX\r\nContent-Type: text/html\r\n\r\n<p>html body</p>\r\n" +
		"--XX\r\nContent-Type: text/plain\r\n\r\nplain body\r\n" +
		"--XX--\r\n"
	if got := mailText([]byte(raw)); got != "plain body" {
		t.Fatalf("ожидали text/plain, получили %q", got)
	}
	if got := stripTags("<div>a <b>b</b></div>"); got != "a b" {
		t.Fatalf("stripTags: %q", got)
	}
}

func TestGmailNotification(t *testing.T) {
	enc := base64.URLEncoding.EncodeToString
	msg := &gmail.Message{
		Id:           "m1",
		InternalDate: 1767225600000,
		Snippet:      "snippet",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  []*gmail.MessagePartHeader{{Name: "Subject", Value: "Invoice"}, {Name: "From", Value: "billing@shop.com"}},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc([]byte("<b>Pay</b> now"))}},
			},
		},
	}
	n := gmailNotification(domain.NotificationSource{UserID: 2}, msg)
	if n.Subject != "Invoice" || n.Sender != "billing@shop.com" || n.Body != "Pay now" {
		t.Fatalf("неожиданное уведомление: %+v", n)
	}
	if !n.ReceivedAt.Equal(time.UnixMilli(1767225600000)) {
		t.Fatalf("received_at %s", n.ReceivedAt)
	}
}

func TestGmailErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		kind domain.SourceErrorKind
	}{
		{&googleapi.Error{Code: 401}, domain.SourceErrAuth},
		{&googleapi.Error{Code: 429}, domain.SourceErrRateLimit},
		{&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, domain.SourceErrRateLimit},
		{&googleapi.Error{Code: 403}, domain.SourceErrAuth},
		{&googleapi.Error{Code: 503}, domain.SourceErrTransient},
		{fmt.Errorf("dial tcp: refused"), domain.SourceErrTransient},
	}
	for _, tc := range cases {
		se, ok := domain.AsSourceError(gmailError(tc.err))
		if !ok || se.Kind != tc.kind {
			t.Fatalf("%v: ожидали %s, получили %+v", tc.err, tc.kind, se)
		}
	}
}

func TestRegistryCoversAllTypes(t *testing.T) {
	r := NewRegistry(nil)
	for _, typ := range domain.SourceTypes() {
		if _, err := r.Get(typ); err != nil {
			t.Fatalf("нет коллектора для %s: %v", typ, err)
		}
	}
	if _, err := r.Get("fax"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного типа")
	}
}

func TestKeepOldest(t *testing.T) {
	at := func(minute int) domain.Notification {
		return domain.Notification{ReceivedAt: time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC)}
	}
	items, deferred := keepOldest([]domain.Notification{at(3), at(1), at(2), at(2), at(2)}, 2)
	if !deferred || len(items) != 1 || items[0].ReceivedAt.Minute() != 1 {
		t.Fatalf("граница не должна разрезать ровесников: %v %+v", deferred, items)
	}
	items, deferred = keepOldest([]domain.Notification{at(5), at(5), at(5)}, 2)
	if deferred || len(items) != 3 {
		t.Fatalf("одинаковое время целиком: %v %d", deferred, len(items))
	}
	items, deferred = keepOldest([]domain.Notification{at(2), at(1)}, 5)
	if deferred || items[0].ReceivedAt.Minute() != 1 {
		t.Fatalf("ожидали сортировку от старых: %+v", items)
	}
}

func TestNextLink(t *testing.T) {
	h := http.Header{}
	h.Set("Link", `<https://api.github.com/notifications?page=2>; rel="next", <https://api.github.com/notifications?page=6>; rel="last"`)
	if got := nextLink(h); got != "https://api.github.com/notifications?page=2" {
		t.Fatalf("next %q", got)
	}
	h.Set("Link", `<https://api.github.com/notifications?page=1>; rel="prev"`)
	if got := nextLink(h); got != "" {
		t.Fatalf("на последней странице next пуст, получили %q", got)
	}
}

func TestGitHubBacklogDrainsAcrossSyncs(t *testing.T) {
	const total = 300
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var since time.Time
		if v := q.Get("since"); v != "" {
			since, _ = time.Parse(time.RFC3339, v)
		}
		// как GitHub: от новых к старым, since включительный
		threads := []map[string]any{}
		for i := total - 1; i >= 0; i-- {
			updated := base.Add(time.Duration(i) * time.Minute)
			if updated.Before(since) {
				continue
			}
			threads = append(threads, map[string]any{
				"id":         strconv.Itoa(i),
				"updated_at": updated.Format(time.RFC3339),
				"subject":    map[string]any{"title": "issue " + strconv.Itoa(i), "type": "Issue"},
				"repository": map[string]any{"full_name": "acme/app"},
			})
		}
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		from := min((page-1)*50, len(threads))
		to := min(from+50, len(threads))
		if to < len(threads) {
			q.Set("page", strconv.Itoa(page+1))
			w.Header().Set("Link", fmt.Sprintf(`<%s/notifications?%s>; rel="next"`, srv.URL, q.Encode()))
		}
		_ = json.NewEncoder(w).Encode(threads[from:to])
	}))
	defer srv.Close()

	collector := NewGitHub(srv.Client())
	creds := domain.Credentials{BaseURL: srv.URL, Token: "t"}
	source := domain.NotificationSource{UserID: 1}
	seen := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		res, err := collector.Sync(context.Background(), source, creds)
		if err != nil {
			t.Fatalf("проход %d: %v", i, err)
		}
		if i == 0 && len(res.Items) != maxItemsPerSync {
			t.Fatalf("первый проход должен взять %d самых старых, получили %d", maxItemsPerSync, len(res.Items))
		}
		for _, n := range res.Items {
			seen[n.ExternalID] = struct{}{}
		}
		source.Cursor = res.Cursor
	}
	if len(seen) != total {
		t.Fatalf("за несколько проходов ожидали %d уведомлений, получили %d", total, len(seen))
	}
}

func TestTelegramBacklogKeepsCursorOnLastTaken(t *testing.T) {
	const total = 299
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"hub","username":"hub_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_ = r.ParseForm()
			offset, _ := strconv.Atoi(r.Form.Get("offset"))
			var updates []string
			for id := offset; id <= total && len(updates) < 100; id++ {
				updates = append(updates, fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1767225600,"chat":{"id":-100,"type":"group","title":"Ops"},"text":"event %d"}}`, id, id, id))
			}
			fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, strings.Join(updates, ","))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	collector := NewTelegram(srv.Client())
	creds := domain.Credentials{Token: "123:abc", BaseURL: srv.URL}
	res, err := collector.Sync(context.Background(), domain.NotificationSource{UserID: 1}, creds)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Items) != maxItemsPerSync || res.Cursor != strconv.Itoa(maxItemsPerSync) {
		t.Fatalf("курсор должен стоять на последнем взятом: items=%d cursor=%q", len(res.Items), res.Cursor)
	}
	res, err = collector.Sync(context.Background(), domain.NotificationSource{UserID: 1, Cursor: res.Cursor}, creds)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Items) != total-maxItemsPerSync || res.Cursor != strconv.Itoa(total) {
		t.Fatalf("второй проход: items=%d cursor=%q", len(res.Items), res.Cursor)
	}
}

func TestGmailBacklogReadsOldestFirst(t *testing.T) {
	const total = 250
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
		resp := map[string]any{}
		var messages []map[string]string
		// от новых к старым, как messages.list
		for i := total - 1 - page*100; i >= 0 && len(messages) < 100; i-- {
			messages = append(messages, map[string]string{"id": fmt.Sprintf("m%d", i)})
		}
		resp["messages"] = messages
		if total-(page+1)*100 > 0 {
			resp["nextPageToken"] = strconv.Itoa(page + 1)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		i, _ := strconv.Atoi(strings.TrimPrefix(id, "m"))
		fmt.Fprintf(w, `{"id":%q,"internalDate":"%d","snippet":"letter %d"}`, id, base+int64(i)*1000, i)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	collector := NewGmail()
	collector.oauth = oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	creds := domain.Credentials{ClientID: "cid", RefreshToken: "rt", BaseURL: srv.URL + "/"}

	res, err := collector.Sync(context.Background(), domain.NotificationSource{UserID: 1}, creds)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Items) != maxItemsPerSync || res.Items[0].ExternalID != "m0" {
		t.Fatalf("ожидали %d самых старых писем: %d", maxItemsPerSync, len(res.Items))
	}
	if res.Cursor != strconv.FormatInt(base+int64(maxItemsPerSync-1)*1000, 10) {
		t.Fatalf("курсор %q", res.Cursor)
	}
	seen := make(map[string]struct{})
	for _, n := range res.Items {
		seen[n.ExternalID] = struct{}{}
	}

	res, err = collector.Sync(context.Background(), domain.NotificationSource{UserID: 1, Cursor: res.Cursor}, creds)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, n := range res.Items {
		seen[n.ExternalID] = struct{}{}
	}
	if len(seen) != total {
		t.Fatalf("ожидали %d писем за два прохода, получили %d", total, len(seen))
	}
}

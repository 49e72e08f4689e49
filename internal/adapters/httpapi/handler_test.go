package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"notify-hub/internal/adapters/collector"
	"notify-hub/internal/adapters/delivery"
	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/adapters/summarizer"
	"notify-hub/internal/domain"
	"notify-hub/internal/infra/cache"
	httpinfra "notify-hub/internal/infra/http"
	"notify-hub/internal/infra/queue"
	"notify-hub/internal/infra/secrets"
	"notify-hub/internal/usecase/digest"
	"notify-hub/internal/usecase/ingest"
	"notify-hub/internal/usecase/notifications"
	"notify-hub/internal/usecase/patterns"
	"notify-hub/internal/usecase/rules"
	"notify-hub/internal/usecase/sources"
)

const testSecret = "test-secret"

type authFailingCollector struct{}

func (authFailingCollector) Sync(context.Context, domain.NotificationSource, domain.Credentials) (domain.SyncResult, error) {
	return domain.SyncResult{Items: []domain.Notification{{ExternalID: "1", Subject: "hello", ReceivedAt: time.Now()}}, Cursor: "1"}, nil
}

func (authFailingCollector) TestAuth(context.Context, domain.Credentials) error {
	return domain.NewSourceError(domain.SourceTypeGitHub, domain.SourceErrAuth, nil)
}

type testAPI struct {
	router http.Handler
	mem    *repo.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := repo.NewMemory()
	box, err := secrets.NewEphemeralBox()
	require.NoError(t, err)
	log := zerolog.Nop()
	registry := collector.NewRegistryFrom(map[domain.SourceType]domain.Collector{domain.SourceTypeGitHub: authFailingCollector{}})

	handler := NewHandler(Deps{
		Sources:       sources.NewService(mem, box, log),
		Ingest:        ingest.NewService(mem, mem, queue.NewMemoryClassifyQueue(16), registry, box, cache.NewMemoryLock(), ingest.Config{}, log),
		Rules:         rules.NewService(mem, log),
		Patterns:      patterns.NewStore(mem, patterns.Config{}, log),
		Digests:       digest.NewService(mem, mem, mem, summarizer.NewSimple(), time.UTC, 0, log),
		Notifications: notifications.NewService(mem, delivery.Nop{}, log),
	}, log)
	r := chi.NewRouter()
	handler.Mount(r, testSecret)
	return &testAPI{router: r, mem: mem}
}

func (a *testAPI) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		token, err := httpinfra.IssueToken(testSecret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, 0, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSourceLifecycleNeverExposesCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, 1, http.MethodPost, "/api/v1/sources", map[string]any{
		"type":        "github",
		"name":        "work",
		"credentials": map[string]any{"token": "ghp_secret"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "ghp_secret")
	require.NotContains(t, rec.Body.String(), "credentials")

	var created sourceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Enabled)
	path := "/api/v1/sources/" + itoa(created.ID)

	rec = api.do(t, 2, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, 1, http.MethodPost, path+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out ingest.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 1, out.Inserted)

	rec = api.do(t, 1, http.MethodPost, path+"/test-auth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"kind":"auth"`)

	rec = api.do(t, 1, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, 1, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSourceValidation(t *testing.T) {
	api := newTestAPI(t)
	cases := []struct {
		name string
		body any
	}{
		{"unknown type", map[string]any{"type": "fax"}},
		{"missing token", map[string]any{"type": "github"}},
		{"unknown field", map[string]any{"type": "github", "password": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, 1, http.MethodPost, "/api/v1/sources", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRuleCRUDAndDryRun(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, 1, http.MethodPost, "/api/v1/rules", map[string]any{
		"name":           "urgent",
		"condition_type": "subject_contains",
		"condition":      map[string]any{"value": "urgent"},
		"action":         map[string]any{"type": "set_priority", "value": "90"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, 1, http.MethodPost, "/api/v1/rules", map[string]any{
		"name":      "bad",
		"condition": map[string]any{"field": "subject", "operator": "greater_than", "value": "x"},
		"action":    map[string]any{"type": "set_priority", "value": "90"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, 1, http.MethodPost, "/api/v1/rules/test", map[string]any{
		"notification": map[string]any{"subject": "URGENT: prod down", "priority": 10},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ruleTestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 90, res.Notification.Priority)
	require.Equal(t, 1, res.Matched)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ruleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.NotContains(t, rec.Body.String(), "user_id")
}

func TestNotificationsReadFlow(t *testing.T) {
	api := newTestAPI(t)
	ids, err := api.mem.UpsertNotifications(context.Background(), []domain.Notification{
		{UserID: 1, SourceID: 1, ExternalID: "a", Subject: "a", ReceivedAt: time.Now()},
		{UserID: 1, SourceID: 1, ExternalID: "b", Subject: "b", ReceivedAt: time.Now()},
	})
	require.NoError(t, err)

	rec := api.do(t, 1, http.MethodPost, "/api/v1/notifications/"+itoa(ids[0])+"/read", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/notifications?read=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list notificationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, 1, list.Unread)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/notifications?read=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, 2, http.MethodDelete, "/api/v1/notifications/"+itoa(ids[1]), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, 1, http.MethodPost, "/api/v1/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"updated":1}`, rec.Body.String())
}

func TestDigestGenerateAndLatest(t *testing.T) {
	api := newTestAPI(t)
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	_, err := api.mem.UpsertNotifications(context.Background(), []domain.Notification{
		{UserID: 1, SourceID: 1, ExternalID: "a", Sender: "ci", Subject: "build failed", ReceivedAt: start.Add(time.Hour)},
	})
	require.NoError(t, err)

	rec := api.do(t, 1, http.MethodGet, "/api/v1/digests/latest/daily", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, 1, http.MethodPost, "/api/v1/digests/generate", map[string]any{
		"type":  "daily",
		"start": start,
		"end":   start.Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d digestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, 1, d.NotificationCount)
	require.Contains(t, d.Text, "🗓 Дайджест за день")

	rec = api.do(t, 1, http.MethodPost, "/api/v1/digests/generate", map[string]any{
		"type":  "daily",
		"start": start,
		"end":   start,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, 1, http.MethodPost, "/api/v1/digests/generate", map[string]any{"type": "daily", "start": start})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/digests/latest/daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/digests/latest/hourly", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatternsEndpoints(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, 1, http.MethodGet, "/api/v1/patterns/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"count":0,"average_confidence":0}`, rec.Body.String())

	rec = api.do(t, 1, http.MethodGet, "/api/v1/patterns?sort=frequency", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = api.do(t, 1, http.MethodGet, "/api/v1/patterns?sort=name", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, 1, http.MethodGet, "/api/v1/patterns/7", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusFor(domain.ErrSourceBusy))
	require.Equal(t, http.StatusBadRequest, statusFor(digest.ErrUnknownType))
	require.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

package domain

import (
	"context"
	"time"
)

// Credentials - расшифрованный набор учётных данных источника.
// Набор полей общий для всех коллекторов, каждый использует свою часть.
type Credentials struct {
	// OAuth (gmail)
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// Токен доступа: бот Telegram, Jira PAT, GitHub token.
	Token string `json:"token,omitempty"`
	// IMAP и Jira basic auth.
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Mailbox  string `json:"mailbox,omitempty"`
	// REST-источники.
	BaseURL string `json:"base_url,omitempty"`
	// Фильтр выборки: Gmail query, JQL.
	Query string `json:"query,omitempty"`
}

// SyncResult - результат одного прохода коллектора.
type SyncResult struct {
	Items  []Notification
	Cursor string
}

// Collector получает новые элементы из внешнего источника.
type Collector interface {
	// Sync возвращает элементы строго новее курсора источника и новый курсор.
	Sync(ctx context.Context, source NotificationSource, creds Credentials) (SyncResult, error)
	// TestAuth проверяет учётные данные без выборки данных.
	TestAuth(ctx context.Context, creds Credentials) error
}

// PatternHint - слабый шаблон, передаваемый модели как подсказка.
type PatternHint struct {
	Key        string
	Category   string
	Priority   int
	Confidence float64
}

// ClassifierModel вызывает внешнюю модель классификации.
type ClassifierModel interface {
	Classify(ctx context.Context, n Notification, hints []PatternHint) (Classification, error)
}

// DigestInput - данные для суммаризации дайджеста.
type DigestInput struct {
	Type          DigestType
	Window        Window
	Categories    []CategoryGroup
	Notifications int
}

// CategoryGroup - уведомления одной категории, от новых к старым.
// Notifications может быть усечён, Count - полное число в окне.
type CategoryGroup struct {
	Category      string
	Count         int
	Notifications []Notification
}

// DigestSummarizer строит текст сводки дайджеста.
type DigestSummarizer interface {
	SummarizeDigest(ctx context.Context, in DigestInput) (string, error)
}

// Publisher отправляет события доставки подписчикам пользователя.
type Publisher interface {
	Publish(ctx context.Context, userID int64, event Event) error
}

// CredentialSealer шифрует и расшифровывает наборы учётных данных.
type CredentialSealer interface {
	Seal(creds Credentials) ([]byte, error)
	Open(sealed []byte) (Credentials, error)
}

// SourceLock обеспечивает единственного писателя курсора источника.
type SourceLock interface {
	// TryLock захватывает блокировку; ok=false, если её держит другой воркер.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// NotificationFilter - параметры выборки списка уведомлений.
type NotificationFilter struct {
	Read     *bool
	Archived *bool
	Category string
	Limit    int
	Offset   int
}

// BacklogQuery описывает выборку уведомлений, ожидающих классификации.
type BacklogQuery struct {
	MaxAttempts int
	// RetryBefore - failed-уведомления с последней попыткой раньше этого момента.
	RetryBefore time.Time
	// StaleBefore - processing-захваты старше этого момента считаются брошенными.
	StaleBefore time.Time
	Limit       int
}

// NotificationRepo управляет уведомлениями.
type NotificationRepo interface {
	// UpsertNotifications сохраняет сырые поля и возвращает идентификаторы впервые вставленных записей.
	UpsertNotifications(ctx context.Context, items []Notification) ([]int64, error)
	GetNotification(ctx context.Context, userID, id int64) (Notification, error)
	ListNotifications(ctx context.Context, userID int64, filter NotificationFilter) ([]Notification, error)
	ListNotificationsInWindow(ctx context.Context, userID int64, window Window) ([]Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, id int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	DeleteNotification(ctx context.Context, userID, id int64) error

	// ClaimForClassification атомарно переводит уведомление в processing.
	ClaimForClassification(ctx context.Context, userID, id int64, staleBefore time.Time) (Notification, bool, error)
	// SaveProcessed записывает результат классификации и правил.
	SaveProcessed(ctx context.Context, n Notification) error
	ListClassificationBacklog(ctx context.Context, q BacklogQuery) ([]ClassifyJob, error)

	// ArchiveSpam архивирует не более limit спам-уведомлений, обработанных до cutoff.
	ArchiveSpam(ctx context.Context, threshold float64, cutoff, archivedAt time.Time, limit int) (int, error)
	// PurgeArchived удаляет не более limit уведомлений, заархивированных раньше before.
	PurgeArchived(ctx context.Context, before time.Time, limit int) (int, error)
}

// SourceRepo управляет источниками уведомлений.
type SourceRepo interface {
	CreateSource(ctx context.Context, source NotificationSource) (NotificationSource, error)
	GetSource(ctx context.Context, userID, id int64) (NotificationSource, error)
	ListSources(ctx context.Context, userID int64) ([]NotificationSource, error)
	UpdateSource(ctx context.Context, source NotificationSource) (NotificationSource, error)
	DeleteSource(ctx context.Context, userID, id int64) error
	// ListSyncableSources возвращает включённые источники, чей backoff истёк к now.
	ListSyncableSources(ctx context.Context, now time.Time) ([]NotificationSource, error)
	RecordSyncSuccess(ctx context.Context, id int64, cursor string, at time.Time) error
	RecordSyncFailure(ctx context.Context, id int64, message string, at time.Time, nextSyncAt *time.Time) error
	// ListUserIDs возвращает пользователей, у которых есть хотя бы один источник.
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// RuleRepo управляет правилами.
type RuleRepo interface {
	CreateRule(ctx context.Context, rule NotificationRule) (NotificationRule, error)
	GetRule(ctx context.Context, userID, id int64) (NotificationRule, error)
	ListRules(ctx context.Context, userID int64) ([]NotificationRule, error)
	ListEnabledRules(ctx context.Context, userID int64) ([]NotificationRule, error)
	UpdateRule(ctx context.Context, rule NotificationRule) (NotificationRule, error)
	DeleteRule(ctx context.Context, userID, id int64) error
}

// PatternRepo хранит выученные шаблоны.
type PatternRepo interface {
	GetPattern(ctx context.Context, userID int64, key string) (NotificationPattern, error)
	GetPatternByID(ctx context.Context, userID, id int64) (NotificationPattern, error)
	// InsertPattern возвращает ErrPatternConflict, если ключ уже существует.
	InsertPattern(ctx context.Context, p NotificationPattern) (NotificationPattern, error)
	// UpdatePatternCAS записывает p, если версия в хранилище равна p.Version, и увеличивает её.
	UpdatePatternCAS(ctx context.Context, p NotificationPattern) (NotificationPattern, error)
	TopPatternsByConfidence(ctx context.Context, userID int64, limit int) ([]NotificationPattern, error)
	TopPatternsByFrequency(ctx context.Context, userID int64, limit int) ([]NotificationPattern, error)
	PatternStats(ctx context.Context, userID int64) (PatternStats, error)
	ResetPatterns(ctx context.Context, userID int64) error
}

// DigestRepo хранит дайджесты.
type DigestRepo interface {
	CreateDigest(ctx context.Context, digest NotificationDigest) (NotificationDigest, error)
	ListDigests(ctx context.Context, userID int64, limit int) ([]NotificationDigest, error)
	LatestDigest(ctx context.Context, userID int64, digestType DigestType) (NotificationDigest, error)
	DigestExists(ctx context.Context, userID int64, digestType DigestType, window Window) (bool, error)
}

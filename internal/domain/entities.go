package domain

import (
	"sort"
	"strings"
	"time"
)

// SourceType определяет вид внешнего источника уведомлений.
type SourceType string

const (
	// SourceTypeGmail - почтовый ящик Gmail через Gmail API.
	SourceTypeGmail SourceType = "gmail"
	// SourceTypeIMAP - произвольный почтовый сервер IMAP.
	SourceTypeIMAP SourceType = "imap"
	// SourceTypeTelegram - чаты, в которые добавлен Telegram-бот.
	SourceTypeTelegram SourceType = "telegram"
	// SourceTypeJira - задачи Jira по JQL-фильтру.
	SourceTypeJira SourceType = "jira"
	// SourceTypeGitHub - уведомления GitHub (issues, pull requests, проекты).
	SourceTypeGitHub SourceType = "github"
)

// SourceTypes возвращает все поддерживаемые типы источников.
func SourceTypes() []SourceType {
	return []SourceType{SourceTypeGmail, SourceTypeIMAP, SourceTypeTelegram, SourceTypeJira, SourceTypeGitHub}
}

// Valid сообщает, поддерживается ли тип источника.
func (t SourceType) Valid() bool {
	for _, known := range SourceTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Sentiment - тональность уведомления.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// NormalizeSentiment приводит произвольную строку к известной тональности.
func NormalizeSentiment(raw string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(raw))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// ClassificationStatus описывает стадию обработки уведомления классификатором.
type ClassificationStatus string

const (
	// StatusPending - уведомление сохранено коллектором и ждёт классификации.
	StatusPending ClassificationStatus = "pending"
	// StatusProcessing - уведомление захвачено воркером классификации.
	StatusProcessing ClassificationStatus = "processing"
	// StatusClassified - классификация и правила применены.
	StatusClassified ClassificationStatus = "classified"
	// StatusFailed - классификация не удалась, правила применены.
	StatusFailed ClassificationStatus = "failed"
)

// Processed сообщает, прошло ли уведомление классификацию (успешно или нет).
func (s ClassificationStatus) Processed() bool {
	return s == StatusClassified || s == StatusFailed
}

// CategoryUnclassified проставляется при сбое внешнего классификатора.
const CategoryUnclassified = "unclassified"

const (
	// MinPriority и MaxPriority задают диапазон приоритета уведомления.
	MinPriority = 0
	MaxPriority = 100
)

// Notification - каноническое уведомление, к которому приводятся все источники.
type Notification struct {
	ID               int64
	UserID           int64
	SourceID         int64
	SourceType       SourceType
	ExternalID       string
	Sender           string
	Subject          string
	Body             string
	URL              string
	ReceivedAt       time.Time
	Category         string
	Priority         int
	Sentiment        Sentiment
	Summary          string
	Confidence       float64
	SpamScore        float64
	Read             bool
	Archived         bool
	ArchivedAt       *time.Time
	Tags             []string
	Embedding        []float32
	Status           ClassificationStatus
	ClassifyAttempts int
	ClaimedAt        *time.Time
	ClassifiedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone возвращает копию уведомления без общих срезов.
func (n Notification) Clone() Notification {
	out := n
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	if n.Embedding != nil {
		out.Embedding = append([]float32(nil), n.Embedding...)
	}
	return out
}

// HasTag проверяет наличие тега без учёта регистра.
func (n Notification) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, existing := range n.Tags {
		if strings.ToLower(existing) == tag {
			return true
		}
	}
	return false
}

// AddTag добавляет тег, сохраняя множество без повторов.
func (n *Notification) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || n.HasTag(tag) {
		return false
	}
	n.Tags = append(n.Tags, tag)
	return true
}

// ClampPriority ограничивает приоритет допустимым диапазоном.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ClampUnit ограничивает значение отрезком [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NotificationSource описывает настроенное пользователем подключение к внешней системе.
type NotificationSource struct {
	ID          int64
	UserID      int64
	Type        SourceType
	Name        string
	Enabled     bool
	Credentials []byte
	Cursor      string
	LastError   string
	LastSyncAt  *time.Time
	NextSyncAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Classification - результат работы классификатора.
type Classification struct {
	Category   string
	Priority   int
	Sentiment  Sentiment
	Summary    string
	Confidence float64
	SpamScore  float64
	// FromPattern выставляется, если результат взят из выученного шаблона.
	FromPattern bool
}

// Unclassified возвращает результат для уведомления, которое не удалось классифицировать.
func Unclassified() Classification {
	return Classification{Category: CategoryUnclassified, Sentiment: SentimentNeutral}
}

// PatternType описывает признак, из которого построен ключ шаблона.
type PatternType string

const (
	// PatternTypeSender - связь «точный отправитель → категория».
	PatternTypeSender PatternType = "sender_category"
	// PatternTypeDomain - связь «домен отправителя → категория».
	PatternTypeDomain PatternType = "domain_category"
)

// NotificationPattern - выученная связь признака и результата классификации.
type NotificationPattern struct {
	ID         int64
	UserID     int64
	Key        string
	Type       PatternType
	Category   string
	Priority   int
	Frequency  int64
	Confidence float64
	// SpamScore - скользящая оценка спама по наблюдениям модели.
	SpamScore  float64
	Version    int64
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// PatternStats - агрегаты по шаблонам пользователя.
type PatternStats struct {
	Count             int     `json:"count"`
	AverageConfidence float64 `json:"average_confidence"`
}

// DigestType - периодичность дайджеста.
type DigestType string

const (
	DigestDaily   DigestType = "daily"
	DigestWeekly  DigestType = "weekly"
	DigestMonthly DigestType = "monthly"
)

// Valid сообщает, известен ли тип дайджеста.
func (t DigestType) Valid() bool {
	switch t {
	case DigestDaily, DigestWeekly, DigestMonthly:
		return true
	}
	return false
}

// Window - полуинтервал времени [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет попадание момента в окно.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Valid проверяет, что окно не пустое.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// NotificationDigest - неизменяемая сводка уведомлений за окно.
type NotificationDigest struct {
	ID                int64
	UserID            int64
	Type              DigestType
	Window            Window
	NotificationCount int
	Categories        map[string]int
	Summary           string
	GeneratedAt       time.Time
}

// CategoryNames возвращает категории дайджеста по убыванию числа уведомлений.
func (d NotificationDigest) CategoryNames() []string {
	names := make([]string, 0, len(d.Categories))
	for name := range d.Categories {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		if d.Categories[names[i]] == d.Categories[names[j]] {
			return names[i] < names[j]
		}
		return d.Categories[names[i]] > d.Categories[names[j]]
	})
	return names
}

package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// TelegramCollector читает сообщения чатов, в которые добавлен бот, через getUpdates.
type TelegramCollector struct {
	http *http.Client
}

// NewTelegram создаёт коллектор Telegram.
func NewTelegram(httpClient *http.Client) *TelegramCollector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramCollector{http: httpClient}
}

func (c *TelegramCollector) bot(ctx context.Context, creds domain.Credentials) (*tgbotapi.BotAPI, error) {
	if creds.Token == "" {
		return nil, domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrAuth, fmt.Errorf("не задан token бота"))
	}
	endpoint := tgbotapi.APIEndpoint
	if base := strings.TrimRight(creds.BaseURL, "/"); base != "" {
		endpoint = base + "/bot%s/%s"
	}
	start := time.Now()
	// конструктор сразу вызывает getMe
	bot, err := tgbotapi.NewBotAPIWithClient(creds.Token, endpoint, c.http)
	metrics.ObserveNetworkRequest("telegram", "getMe", "api.telegram.org", start, err)
	if err != nil {
		return nil, telegramError(ctx, err)
	}
	return bot, nil
}

// TestAuth проверяет токен бота.
func (c *TelegramCollector) TestAuth(ctx context.Context, creds domain.Credentials) error {
	_, err := c.bot(ctx, creds)
	return err
}

// Sync забирает обновления после последнего update_id из курсора.
func (c *TelegramCollector) Sync(ctx context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	var lastUpdate int
	if source.Cursor != "" {
		v, err := strconv.Atoi(source.Cursor)
		if err != nil {
			return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrMalformed, fmt.Errorf("курсор %q: %w", source.Cursor, err))
		}
		lastUpdate = v
	}
	bot, err := c.bot(ctx, creds)
	if err != nil {
		return domain.SyncResult{}, err
	}

	cursor := lastUpdate
	var items []domain.Notification
	full := false
	for !full {
		if err := ctx.Err(); err != nil {
			return domain.SyncResult{}, err
		}
		cfg := tgbotapi.NewUpdate(cursor + 1)
		cfg.Limit = 100
		cfg.AllowedUpdates = []string{"message", "channel_post"}
		start := time.Now()
		updates, err := bot.GetUpdates(cfg)
		metrics.ObserveNetworkRequest("telegram", "getUpdates", "api.telegram.org", start, err)
		if err != nil {
			return domain.SyncResult{}, telegramError(ctx, err)
		}
		for _, upd := range updates {
			if len(items) == maxItemsPerSync {
				// курсор остаётся на последнем взятом обновлении
				full = true
				break
			}
			if upd.UpdateID > cursor {
				cursor = upd.UpdateID
			}
			msg := upd.Message
			if msg == nil {
				msg = upd.ChannelPost
			}
			if msg == nil || msg.Chat == nil {
				continue
			}
			if n, ok := telegramNotification(source, msg); ok {
				items = append(items, n)
			}
		}
		if len(updates) < cfg.Limit {
			break
		}
	}
	res := domain.SyncResult{Items: items, Cursor: source.Cursor}
	if cursor > 0 {
		res.Cursor = strconv.Itoa(cursor)
	}
	return res, nil
}

func telegramNotification(source domain.NotificationSource, msg *tgbotapi.Message) (domain.Notification, bool) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return domain.Notification{}, false
	}
	chat := msg.Chat
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	sender := title
	if msg.From != nil {
		if msg.From.UserName != "" {
			sender = "@" + msg.From.UserName
		} else {
			sender = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	}
	var link string
	if chat.UserName != "" {
		link = fmt.Sprintf("https://t.me/%s/%d", chat.UserName, msg.MessageID)
	}
	return domain.Notification{
		UserID:     source.UserID,
		SourceID:   source.ID,
		SourceType: domain.SourceTypeTelegram,
		ExternalID: fmt.Sprintf("%d:%d", chat.ID, msg.MessageID),
		Sender:     sender,
		Subject:    truncate(title+": "+firstLine(text), 200),
		Body:       truncate(text, 8000),
		URL:        link,
		ReceivedAt: msg.Time().UTC(),
	}, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// telegramError переводит ошибки Bot API в ошибки источника.
func telegramError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusNotFound:
			return domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrAuth, err)
		case apiErr.Code == http.StatusTooManyRequests:
			retry := defaultRetryAfter
			if apiErr.RetryAfter > 0 {
				retry = time.Duration(apiErr.RetryAfter) * time.Second
			}
			return domain.RateLimited(domain.SourceTypeTelegram, retry, err)
		case apiErr.Code == http.StatusConflict:
			// другой getUpdates или установлен webhook
			return domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrTransient, err)
		case apiErr.Code >= 500:
			return domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrTransient, err)
		}
		return domain.NewSourceError(domain.SourceTypeTelegram, domain.SourceErrMalformed, err)
	}
	return transient(domain.SourceTypeTelegram, err)
}

package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// IMAPCollector читает новые письма почтового ящика по UID.
type IMAPCollector struct{}

// NewIMAP создаёт коллектор IMAP.
func NewIMAP() *IMAPCollector {
	return &IMAPCollector{}
}

// imapCursor - пара UIDVALIDITY и последнего прочитанного UID.
type imapCursor struct {
	validity uint32
	uid      imap.UID
}

func parseIMAPCursor(raw string) (imapCursor, error) {
	if raw == "" {
		return imapCursor{}, nil
	}
	left, right, ok := strings.Cut(raw, ":")
	if !ok {
		return imapCursor{}, fmt.Errorf("ожидали uidvalidity:uid, получили %q", raw)
	}
	validity, err := strconv.ParseUint(left, 10, 32)
	if err != nil {
		return imapCursor{}, fmt.Errorf("uidvalidity %q: %w", left, err)
	}
	uid, err := strconv.ParseUint(right, 10, 32)
	if err != nil {
		return imapCursor{}, fmt.Errorf("uid %q: %w", right, err)
	}
	return imapCursor{validity: uint32(validity), uid: imap.UID(uid)}, nil
}

func (c imapCursor) String() string {
	return fmt.Sprintf("%d:%d", c.validity, c.uid)
}

func (c *IMAPCollector) connect(ctx context.Context, creds domain.Credentials) (*imapclient.Client, func(), error) {
	if creds.Host == "" || creds.Username == "" {
		return nil, nil, domain.NewSourceError(domain.SourceTypeIMAP, domain.SourceErrAuth, fmt.Errorf("не заданы host или username"))
	}
	port := creds.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))
	start := time.Now()
	var (
		client *imapclient.Client
		err    error
	)
	if port == 143 {
		client, err = imapclient.DialStartTLS(addr, nil)
	} else {
		client, err = imapclient.DialTLS(addr, nil)
	}
	metrics.ObserveNetworkRequest("imap", "dial", creds.Host, start, err)
	if err != nil {
		return nil, nil, domain.NewSourceError(domain.SourceTypeIMAP, domain.SourceErrTransient, fmt.Errorf("подключение к %s: %w", addr, err))
	}
	// imapclient не принимает контекст: при отмене закрываем соединение
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	closeFn := func() {
		stop()
		_ = client.Logout().Wait()
		_ = client.Close()
	}
	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		closeFn()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, nil, domain.NewSourceError(domain.SourceTypeIMAP, domain.SourceErrAuth, fmt.Errorf("login %s: %w", creds.Username, err))
		}
		return nil, nil, domain.NewSourceError(domain.SourceTypeIMAP, domain.SourceErrTransient, fmt.Errorf("login: %w", err))
	}
	return client, closeFn, nil
}

// TestAuth подключается и выполняет LOGIN.
func (c *IMAPCollector) TestAuth(ctx context.Context, creds domain.Credentials) error {
	_, closeFn, err := c.connect(ctx, creds)
	if err != nil {
		return err
	}
	closeFn()
	return nil
}

// Sync читает письма с UID больше курсора. При смене UIDVALIDITY курсор сбрасывается,
// а дубли отсекает уникальность по Message-ID.
func (c *IMAPCollector) Sync(ctx context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	cursor, err := parseIMAPCursor(source.Cursor)
	if err != nil {
		return domain.SyncResult{}, domain.NewSourceError(domain.SourceTypeIMAP, domain.SourceErrMalformed, err)
	}
	client, closeFn, err := c.connect(ctx, creds)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer closeFn()

	mailbox := creds.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	selected, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return domain.SyncResult{}, transient(domain.SourceTypeIMAP, fmt.Errorf("select %s: %w", mailbox, err))
	}
	if selected.UIDValidity != cursor.validity {
		cursor = imapCursor{validity: selected.UIDValidity}
	}

	var uidSet imap.UIDSet
	uidSet.AddRange(cursor.uid+1, 0)
	criteria := &imap.SearchCriteria{UID: []imap.UIDSet{uidSet}}
	if cursor.uid == 0 {
		// первый проход: только свежая почта
		criteria.Since = time.Now().AddDate(0, 0, -7)
	}
	search, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return domain.SyncResult{}, transient(domain.SourceTypeIMAP, fmt.Errorf("uid search: %w", err))
	}
	var uids []imap.UID
	for _, uid := range search.AllUIDs() {
		// диапазон n:* всегда включает последнее письмо
		if uid > cursor.uid {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > maxItemsPerSync {
		uids = uids[:maxItemsPerSync]
	}
	if len(uids) == 0 {
		return domain.SyncResult{Cursor: cursor.String()}, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var items []domain.Notification
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return domain.SyncResult{}, transient(domain.SourceTypeIMAP, fmt.Errorf("fetch: %w", err))
		}
		items = append(items, imapNotification(source, cursor.validity, buf, buf.FindBodySection(bodySection)))
		if buf.UID > cursor.uid {
			cursor.uid = buf.UID
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return domain.SyncResult{}, transient(domain.SourceTypeIMAP, fmt.Errorf("fetch: %w", err))
	}
	return domain.SyncResult{Items: items, Cursor: cursor.String()}, nil
}

func imapNotification(source domain.NotificationSource, validity uint32, buf *imapclient.FetchMessageBuffer, raw []byte) domain.Notification {
	n := domain.Notification{
		UserID:     source.UserID,
		SourceID:   source.ID,
		SourceType: domain.SourceTypeIMAP,
		ExternalID: fmt.Sprintf("%d:%d", validity, buf.UID),
		ReceivedAt: buf.InternalDate.UTC(),
	}
	if env := buf.Envelope; env != nil {
		if env.MessageID != "" {
			n.ExternalID = env.MessageID
		}
		n.Subject = env.Subject
		if !env.Date.IsZero() {
			n.ReceivedAt = env.Date.UTC()
		}
		if len(env.From) > 0 {
			from := env.From[0]
			if from.Name != "" {
				n.Sender = fmt.Sprintf("%s <%s>", from.Name, from.Addr())
			} else {
				n.Sender = from.Addr()
			}
		}
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}
	if raw != nil {
		n.Body = truncate(mailText(raw), 8000)
	}
	return n
}

// mailText извлекает text/plain часть письма, при её отсутствии - text/html.
func mailText(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	defer mr.Close()
	var text, html string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(body)
		}
	}
	if text != "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(stripTags(html))
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

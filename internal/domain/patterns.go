package domain

import (
	"net/mail"
	"strings"
)

// PatternKey - ключ шаблона, выведенный из признаков уведомления.
type PatternKey struct {
	Key  string
	Type PatternType
}

// SenderAddress извлекает нормализованный адрес из поля отправителя
// ("Имя <addr@host>", "addr@host" или произвольный логин).
func SenderAddress(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(sender); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start, end := strings.LastIndex(sender, "<"), strings.LastIndex(sender, ">"); start >= 0 && end > start {
		return strings.ToLower(strings.TrimSpace(sender[start+1 : end]))
	}
	return strings.ToLower(sender)
}

// publicMailHosts - общие почтовые сервисы: домен ничего не говорит об отправителе.
var publicMailHosts = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"yahoo.com":      {},
	"icloud.com":     {},
	"me.com":         {},
	"proton.me":      {},
	"protonmail.com": {},
	"aol.com":        {},
	"gmx.com":        {},
	"yandex.ru":      {},
	"ya.ru":          {},
	"mail.ru":        {},
	"bk.ru":          {},
	"inbox.ru":       {},
	"list.ru":        {},
	"rambler.ru":     {},
}

// IsPublicMailHost сообщает, относится ли домен к общему почтовому сервису.
func IsPublicMailHost(host string) bool {
	_, ok := publicMailHosts[strings.ToLower(host)]
	return ok
}

// PatternKeysFor возвращает ключи шаблонов в порядке убывания специфичности:
// сначала точный отправитель, затем домен. Для общих почтовых сервисов
// доменный ключ не строится.
func PatternKeysFor(n Notification) []PatternKey {
	addr := SenderAddress(n.Sender)
	if addr == "" {
		return nil
	}
	keys := []PatternKey{{Key: "sender:" + addr, Type: PatternTypeSender}}
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		if host := addr[at+1:]; !IsPublicMailHost(host) {
			keys = append(keys, PatternKey{Key: "domain:" + host, Type: PatternTypeDomain})
		}
	}
	return keys
}

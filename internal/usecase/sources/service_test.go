package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/domain"
	"notify-hub/internal/infra/secrets"
)

func newService(t *testing.T) (*Service, *secrets.Box) {
	t.Helper()
	box, err := secrets.NewEphemeralBox()
	if err != nil {
		t.Fatalf("ключ: %v", err)
	}
	return NewService(repo.NewMemory(), box, zerolog.Nop()), box
}

func TestCreateSealsCredentials(t *testing.T) {
	svc, box := newService(t)
	src, err := svc.Create(context.Background(), 1, CreateInput{
		Type:        domain.SourceTypeGitHub,
		Name:        "  work  ",
		Enabled:     true,
		Credentials: domain.Credentials{Token: " ghp_secret "},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if src.Name != "work" {
		t.Fatalf("имя не нормализовано: %q", src.Name)
	}
	if string(src.Credentials) == "ghp_secret" || len(src.Credentials) == 0 {
		t.Fatalf("учётные данные должны храниться зашифрованными")
	}
	creds, err := box.Open(src.Credentials)
	if err != nil || creds.Token != "ghp_secret" {
		t.Fatalf("расшифровка: %+v %v", creds, err)
	}
}

func TestValidateCredentials(t *testing.T) {
	cases := []struct {
		name  string
		typ   domain.SourceType
		creds domain.Credentials
		ok    bool
	}{
		{"gmail ok", domain.SourceTypeGmail, domain.Credentials{ClientID: "id", RefreshToken: "rt"}, true},
		{"gmail no token", domain.SourceTypeGmail, domain.Credentials{ClientID: "id"}, false},
		{"imap ok", domain.SourceTypeIMAP, domain.Credentials{Host: "mail.corp", Username: "u", Password: "p"}, true},
		{"imap bad port", domain.SourceTypeIMAP, domain.Credentials{Host: "mail.corp", Username: "u", Password: "p", Port: 70000}, false},
		{"telegram", domain.SourceTypeTelegram, domain.Credentials{}, false},
		{"jira basic", domain.SourceTypeJira, domain.Credentials{BaseURL: "https://corp.atlassian.net", Username: "u", Password: "p"}, true},
		{"jira no auth", domain.SourceTypeJira, domain.Credentials{BaseURL: "https://corp.atlassian.net"}, false},
		{"jira bad url", domain.SourceTypeJira, domain.Credentials{BaseURL: "corp.atlassian.net", Token: "t"}, false},
		{"unknown", domain.SourceType("fax"), domain.Credentials{Token: "t"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCredentials(tc.typ, tc.creds)
			if tc.ok && err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrInvalidSource) {
				t.Fatalf("ожидали ErrInvalidSource, получили %v", err)
			}
		})
	}
}

func TestUpdateKeepsCredentialsWhenOmitted(t *testing.T) {
	svc, box := newService(t)
	ctx := context.Background()
	src, err := svc.Create(ctx, 1, CreateInput{Type: domain.SourceTypeTelegram, Enabled: true, Credentials: domain.Credentials{Token: "bot"}})
	if err != nil {
		t.Fatalf("создание: %v", err)
	}
	disabled := false
	updated, err := svc.Update(ctx, 1, src.ID, UpdateInput{Enabled: &disabled})
	if err != nil {
		t.Fatalf("обновление: %v", err)
	}
	if updated.Enabled {
		t.Fatalf("источник должен быть выключен")
	}
	creds, err := box.Open(updated.Credentials)
	if err != nil || creds.Token != "bot" {
		t.Fatalf("учётные данные потеряны: %+v %v", creds, err)
	}
	if _, err := svc.Update(ctx, 2, src.ID, UpdateInput{Enabled: &disabled}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("чужой источник должен быть не найден, получили %v", err)
	}
}

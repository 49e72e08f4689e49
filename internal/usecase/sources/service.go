package sources

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
)

const maxNameLength = 100

// Service управляет источниками пользователя. Учётные данные хранятся только зашифрованными.
type Service struct {
	repo   domain.SourceRepo
	sealer domain.CredentialSealer
	log    zerolog.Logger
}

// NewService создаёт сервис источников.
func NewService(repo domain.SourceRepo, sealer domain.CredentialSealer, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sealer: sealer, log: logger}
}

// CreateInput - параметры нового источника.
type CreateInput struct {
	Type        domain.SourceType
	Name        string
	Enabled     bool
	Credentials domain.Credentials
}

// UpdateInput - изменяемые поля источника; nil означает «не менять».
type UpdateInput struct {
	Name        *string
	Enabled     *bool
	Credentials *domain.Credentials
}

// Create проверяет и сохраняет источник.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (domain.NotificationSource, error) {
	if !in.Type.Valid() {
		return domain.NotificationSource{}, fmt.Errorf("%w: неизвестный тип %q", domain.ErrInvalidSource, in.Type)
	}
	name, err := NormalizeName(in.Name, in.Type)
	if err != nil {
		return domain.NotificationSource{}, err
	}
	creds := NormalizeCredentials(in.Credentials)
	if err := ValidateCredentials(in.Type, creds); err != nil {
		return domain.NotificationSource{}, err
	}
	sealed, err := s.sealer.Seal(creds)
	if err != nil {
		return domain.NotificationSource{}, fmt.Errorf("шифрование учётных данных: %w", err)
	}
	created, err := s.repo.CreateSource(ctx, domain.NotificationSource{
		UserID:      userID,
		Type:        in.Type,
		Name:        name,
		Enabled:     in.Enabled,
		Credentials: sealed,
	})
	if err != nil {
		return domain.NotificationSource{}, fmt.Errorf("сохранение источника: %w", err)
	}
	s.log.Info().Int64("user_id", userID).Int64("source_id", created.ID).Str("type", string(in.Type)).Msg("sources: источник создан")
	return created, nil
}

// Get возвращает источник пользователя.
func (s *Service) Get(ctx context.Context, userID, id int64) (domain.NotificationSource, error) {
	return s.repo.GetSource(ctx, userID, id)
}

// List возвращает источники пользователя.
func (s *Service) List(ctx context.Context, userID int64) ([]domain.NotificationSource, error) {
	return s.repo.ListSources(ctx, userID)
}

// Update меняет имя, флаг включения или учётные данные источника.
func (s *Service) Update(ctx context.Context, userID, id int64, in UpdateInput) (domain.NotificationSource, error) {
	current, err := s.repo.GetSource(ctx, userID, id)
	if err != nil {
		return domain.NotificationSource{}, err
	}
	next := current
	next.Credentials = nil
	if in.Name != nil {
		name, err := NormalizeName(*in.Name, current.Type)
		if err != nil {
			return domain.NotificationSource{}, err
		}
		next.Name = name
	}
	if in.Enabled != nil {
		next.Enabled = *in.Enabled
	}
	if in.Credentials != nil {
		creds := NormalizeCredentials(*in.Credentials)
		if err := ValidateCredentials(current.Type, creds); err != nil {
			return domain.NotificationSource{}, err
		}
		sealed, err := s.sealer.Seal(creds)
		if err != nil {
			return domain.NotificationSource{}, fmt.Errorf("шифрование учётных данных: %w", err)
		}
		next.Credentials = sealed
	}
	return s.repo.UpdateSource(ctx, next)
}

// Delete удаляет источник вместе с его уведомлениями.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.repo.DeleteSource(ctx, userID, id)
}

// NormalizeName обрезает пробелы; пустое имя заменяется типом источника.
func NormalizeName(name string, t domain.SourceType) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(t)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: имя длиннее %d символов", domain.ErrInvalidSource, maxNameLength)
	}
	return name, nil
}

// NormalizeCredentials обрезает пробелы в строковых полях.
func NormalizeCredentials(c domain.Credentials) domain.Credentials {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.RefreshToken = strings.TrimSpace(c.RefreshToken)
	c.Token = strings.TrimSpace(c.Token)
	c.Host = strings.TrimSpace(c.Host)
	c.Username = strings.TrimSpace(c.Username)
	c.Mailbox = strings.TrimSpace(c.Mailbox)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Query = strings.TrimSpace(c.Query)
	return c
}

// ValidateCredentials проверяет, что для типа источника заданы обязательные поля.
func ValidateCredentials(t domain.SourceType, c domain.Credentials) error {
	var missing []string
	require := func(field, value string) {
		if value == "" {
			missing = append(missing, field)
		}
	}
	switch t {
	case domain.SourceTypeGmail:
		require("client_id", c.ClientID)
		require("refresh_token", c.RefreshToken)
	case domain.SourceTypeIMAP:
		require("host", c.Host)
		require("username", c.Username)
		require("password", c.Password)
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("%w: некорректный port %d", domain.ErrInvalidSource, c.Port)
		}
	case domain.SourceTypeTelegram:
		require("token", c.Token)
	case domain.SourceTypeJira:
		require("base_url", c.BaseURL)
		if c.Token == "" && (c.Username == "" || c.Password == "") {
			missing = append(missing, "token или username+password")
		}
	case domain.SourceTypeGitHub:
		require("token", c.Token)
	default:
		return fmt.Errorf("%w: неизвестный тип %q", domain.ErrInvalidSource, t)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заданы %s", domain.ErrInvalidSource, strings.Join(missing, ", "))
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "https://") && !strings.HasPrefix(c.BaseURL, "http://") {
		return fmt.Errorf("%w: base_url должен начинаться с http(s)://", domain.ErrInvalidSource)
	}
	return nil
}

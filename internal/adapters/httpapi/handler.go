package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
	httpinfra "notify-hub/internal/infra/http"
	"notify-hub/internal/usecase/digest"
	"notify-hub/internal/usecase/ingest"
	"notify-hub/internal/usecase/notifications"
	"notify-hub/internal/usecase/patterns"
	"notify-hub/internal/usecase/rules"
	"notify-hub/internal/usecase/sources"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 1 << 20

// Deps - сервисы, которые обслуживает API.
type Deps struct {
	Sources       *sources.Service
	Ingest        *ingest.Service
	Rules         *rules.Service
	Patterns      *patterns.Store
	Digests       *digest.Service
	Notifications *notifications.Service
}

// Handler реализует JSON API управления.
type Handler struct {
	deps     Deps
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{deps: deps, validate: validator.New(validator.WithRequiredStructEnabled()), log: logger}
}

// Mount регистрирует маршруты /api/v1 под JWT-авторизацией.
func (h *Handler) Mount(r chi.Router, jwtSecret string) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpinfra.JWTAuthMiddleware(jwtSecret))

		api.Route("/sources", func(r chi.Router) {
			r.Post("/", h.createSource)
			r.Get("/", h.listSources)
			r.Get("/{id}", h.getSource)
			r.Put("/{id}", h.updateSource)
			r.Delete("/{id}", h.deleteSource)
			r.Post("/{id}/sync", h.syncSource)
			r.Post("/{id}/test-auth", h.testSourceAuth)
		})

		api.Route("/rules", func(r chi.Router) {
			r.Post("/", h.createRule)
			r.Get("/", h.listRules)
			r.Post("/test", h.testRules)
			r.Get("/{id}", h.getRule)
			r.Put("/{id}", h.updateRule)
			r.Delete("/{id}", h.deleteRule)
		})

		api.Route("/patterns", func(r chi.Router) {
			r.Get("/", h.listPatterns)
			r.Get("/stats", h.patternStats)
			r.Get("/{id}", h.getPattern)
		})

		api.Route("/digests", func(r chi.Router) {
			r.Get("/", h.listDigests)
			r.Post("/generate", h.generateDigest)
			r.Get("/latest/{type}", h.latestDigest)
		})

		api.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listNotifications)
			r.Post("/read-all", h.markAllRead)
			r.Post("/{id}/read", h.markRead)
			r.Delete("/{id}", h.deleteNotification)
		})
	})
}

func userID(r *http.Request) int64 {
	id, _ := httpinfra.UserID(r.Context())
	return id
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest("некорректный идентификатор")
	}
	return id, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest("некорректное тело запроса: " + err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error { return badRequestError{msg: msg} }

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errBadRequest(err.Error())
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return errBadRequest("ошибка валидации: " + strings.Join(parts, "; "))
}

// statusFor сопоставляет ошибку доменного слоя HTTP-статусу.
func statusFor(err error) int {
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRule),
		errors.Is(err, domain.ErrInvalidSource),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, digest.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSourceBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", httpinfra.RequestID(r)).Msg("api: внутренняя ошибка")
		httpinfra.WriteError(w, status, errors.New("внутренняя ошибка"))
		return
	}
	httpinfra.WriteError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httpinfra.WriteJSON(w, status, v)
}

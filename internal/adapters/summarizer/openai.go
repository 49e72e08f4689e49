package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notify-hub/internal/domain"
	openai "notify-hub/internal/infra/openai"
)

// itemsPerCategory ограничивает число уведомлений категории в промпте.
const itemsPerCategory = 15

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI строит сводку дайджеста через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type digestPayload struct {
	Period     string            `json:"period"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Total      int               `json:"total"`
	Categories []categoryPayload `json:"categories"`
}

type categoryPayload struct {
	Category string        `json:"category"`
	Count    int           `json:"count"`
	Items    []itemPayload `json:"items"`
}

type itemPayload struct {
	Source   string `json:"source"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	Summary  string `json:"summary,omitempty"`
	Priority int    `json:"priority"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// SummarizeDigest возвращает текст сводки уведомлений за окно.
func (s *OpenAI) SummarizeDigest(ctx context.Context, in domain.DigestInput) (string, error) {
	if in.Notifications == 0 {
		return emptySummary(in), nil
	}
	payload := digestPayload{
		Period: string(in.Type),
		From:   in.Window.Start.Format(time.RFC3339),
		To:     in.Window.End.Format(time.RFC3339),
		Total:  in.Notifications,
	}
	for _, group := range in.Categories {
		cp := categoryPayload{Category: group.Category, Count: group.Count}
		for i, n := range group.Notifications {
			if i == itemsPerCategory {
				break
			}
			cp.Items = append(cp.Items, itemPayload{
				Source:   string(n.SourceType),
				Sender:   n.Sender,
				Subject:  clipRunes(n.Subject, 200),
				Summary:  clipRunes(n.Summary, 300),
				Priority: n.Priority,
			})
		}
		payload.Categories = append(payload.Categories, cp)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("summarizer: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   700,
		Messages: []openai.ChatMessage{
			{
				Role: openai.RoleSystem,
				Content: "Ты помощник, который готовит сводку уведомлений пользователя за период. " +
					"Начни с самого важного, сгруппируй по категориям, упомяни срочные и требующие действия пункты. " +
					"Не выдумывай фактов, которых нет во входных данных.",
			},
			{
				Role:    openai.RoleUser,
				Content: "Верни JSON формата {\"summary\": \"...\"} без пояснений. Данные:\n" + string(raw),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed summaryResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return "", fmt.Errorf("распаковка ответа LLM: пустая сводка")
	}
	return summary, nil
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

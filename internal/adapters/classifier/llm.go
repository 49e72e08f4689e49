package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"notify-hub/internal/domain"
	openai "notify-hub/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMClassifier классифицирует уведомления через OpenAI Chat Completions.
type LLMClassifier struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

// NewLLM создаёт классификатор на базе LLM.
func NewLLM(client chatCompletionClient, model string, timeout time.Duration) *LLMClassifier {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMClassifier{client: client, model: model, timeout: timeout}
}

type llmNotificationPayload struct {
	Source     string           `json:"source"`
	Sender     string           `json:"sender"`
	Subject    string           `json:"subject"`
	Body       string           `json:"body"`
	ReceivedAt string           `json:"received_at"`
	Hints      []llmPatternHint `json:"known_patterns,omitempty"`
}

type llmPatternHint struct {
	Key        string  `json:"key"`
	Category   string  `json:"category"`
	Priority   int     `json:"priority"`
	Confidence float64 `json:"confidence"`
}

type llmClassification struct {
	Category   string      `json:"category"`
	Priority   json.Number `json:"priority"`
	Sentiment  string      `json:"sentiment"`
	Summary    string      `json:"summary"`
	Confidence json.Number `json:"confidence"`
	SpamScore  json.Number `json:"spam_score"`
}

const systemPrompt = "You triage a user's incoming notifications from mail, chat and issue trackers. " +
	"Answer only with facts from the notification and never invent details."

// Classify запрашивает у модели категорию, приоритет, тональность и краткое содержание.
func (c *LLMClassifier) Classify(ctx context.Context, n domain.Notification, hints []domain.PatternHint) (domain.Classification, error) {
	payload := llmNotificationPayload{
		Source:     string(n.SourceType),
		Sender:     n.Sender,
		Subject:    truncate(n.Subject, 500),
		Body:       truncate(n.Body, 4000),
		ReceivedAt: n.ReceivedAt.UTC().Format(time.RFC3339),
	}
	for _, h := range hints {
		payload.Hints = append(payload.Hints, llmPatternHint{Key: h.Key, Category: h.Category, Priority: h.Priority, Confidence: h.Confidence})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`
Classify the notification below.
1. "category": one or two lowercase words (for example work, personal, finance, dev, social, promo, news, security).
2. "priority": integer 0-100, how urgently the user should look at it.
3. "sentiment": one of positive, neutral, negative.
4. "summary": one sentence, at most 200 characters.
5. "confidence": number 0-1, how sure you are about the category.
6. "spam_score": number 0-1, likelihood that this is spam or unsolicited marketing.
"known_patterns" are categories this user's earlier notifications from the same sender got; treat them as weak hints.
Reply strictly as JSON: {"category": "...", "priority": 50, "sentiment": "neutral", "summary": "...", "confidence": 0.7, "spam_score": 0.1}.

Notification JSON:
%s`, string(body))

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("openai completion: пустой ответ")
	}
	return parseClassification(resp.Choices[0].Message.Content)
}

func parseClassification(content string) (domain.Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	var parsed llmClassification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	category := strings.ToLower(strings.TrimSpace(parsed.Category))
	if category == "" {
		return domain.Classification{}, fmt.Errorf("ответ LLM без категории")
	}
	priority, err := parsed.Priority.Float64()
	if err != nil {
		return domain.Classification{}, fmt.Errorf("ответ LLM: priority %q: %w", parsed.Priority, err)
	}
	return domain.Classification{
		Category:   category,
		Priority:   domain.ClampPriority(int(priority + 0.5)),
		Sentiment:  domain.NormalizeSentiment(parsed.Sentiment),
		Summary:    truncate(strings.TrimSpace(parsed.Summary), 500),
		Confidence: domain.ClampUnit(numberOrZero(parsed.Confidence)),
		SpamScore:  domain.ClampUnit(numberOrZero(parsed.SpamScore)),
	}, nil
}

func numberOrZero(n json.Number) float64 {
	v, err := n.Float64()
	if err != nil {
		return 0
	}
	return v
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

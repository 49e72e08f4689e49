package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"notify-hub/internal/domain"
	openai "notify-hub/internal/infra/openai"
)

type stubChat struct {
	content string
	err     error
	got     openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.got = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}}}, nil
}

func TestLLMClassifyClampsValues(t *testing.T) {
	stub := &stubChat{content: `{"category":" Work ","priority":140,"sentiment":"ANGRY","summary":"Board meeting moved","confidence":1.7,"spam_score":-0.2}`}
	c := NewLLM(stub, "test-model", time.Second)

	got, err := c.Classify(context.Background(), domain.Notification{Sender: "ceo@corp.com", Subject: "Board"}, []domain.PatternHint{{Key: "domain:corp.com", Category: "work", Confidence: 0.4}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Category != "work" || got.Priority != 100 || got.Sentiment != domain.SentimentNeutral || got.Confidence != 1 || got.SpamScore != 0 {
		t.Fatalf("значения не нормализованы: %+v", got)
	}
	if stub.got.Model != "test-model" || stub.got.ResponseFormat == nil || stub.got.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Fatalf("неожиданный запрос: %+v", stub.got)
	}
	if !strings.Contains(stub.got.Messages[1].Content, "domain:corp.com") {
		t.Fatalf("подсказки шаблонов должны попасть в промпт")
	}
}

func TestLLMClassifyMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":    "sorry, I cannot",
		"no category": `{"priority": 10}`,
		"bad prio":    `{"category":"work","priority":"high"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewLLM(&stubChat{content: content}, "", time.Second)
			if _, err := c.Classify(context.Background(), domain.Notification{}, nil); err == nil {
				t.Fatalf("ожидали ошибку для %q", content)
			}
		})
	}
}

func TestLLMClassifyPropagatesError(t *testing.T) {
	apiErr := &openai.APIError{StatusCode: 429}
	c := NewLLM(&stubChat{err: apiErr}, "", time.Second)
	_, err := c.Classify(context.Background(), domain.Notification{}, nil)
	var got *openai.APIError
	if !errors.As(err, &got) || !got.Retryable() {
		t.Fatalf("ожидали APIError в цепочке, получили %v", err)
	}
}

func TestParseClassificationCodeFence(t *testing.T) {
	got, err := parseClassification("```json\n{\"category\":\"dev\",\"priority\":55.4,\"sentiment\":\"negative\",\"confidence\":0.9,\"spam_score\":0.05}\n```")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Category != "dev" || got.Priority != 55 || got.Sentiment != domain.SentimentNegative {
		t.Fatalf("неожиданный результат: %+v", got)
	}
}

func TestKeywordClassify(t *testing.T) {
	k := NewKeyword()
	ctx := context.Background()

	promo, _ := k.Classify(ctx, domain.Notification{Subject: "Big SALE: 50% off", Body: "Click here to unsubscribe"}, nil)
	if promo.Category != "promo" || promo.SpamScore < 0.5 {
		t.Fatalf("ожидали promo со спамом, получили %+v", promo)
	}

	urgent, _ := k.Classify(ctx, domain.Notification{Subject: "URGENT: build failed on main", Body: "pipeline error"}, nil)
	if urgent.Category != "dev" || urgent.Priority != 80 || urgent.Sentiment != domain.SentimentNegative {
		t.Fatalf("ожидали срочный dev, получили %+v", urgent)
	}

	plain, _ := k.Classify(ctx, domain.Notification{SourceType: domain.SourceTypeJira, Subject: "PROJ-1 updated"}, nil)
	if plain.Category != "dev" {
		t.Fatalf("уведомления трекеров по умолчанию dev, получили %+v", plain)
	}

	hinted, _ := k.Classify(ctx, domain.Notification{Subject: "hello"}, []domain.PatternHint{{Category: "finance", Confidence: 0.5}})
	if hinted.Category != "finance" {
		t.Fatalf("подсказка должна влиять на категорию, получили %+v", hinted)
	}
	for _, c := range []domain.Classification{promo, urgent, plain, hinted} {
		if c.Confidence < 0 || c.Confidence > 1 || c.Priority < 0 || c.Priority > 100 {
			t.Fatalf("значения вне диапазона: %+v", c)
		}
	}
}

package rules

import (
	"reflect"
	"testing"
	"time"

	"notify-hub/internal/domain"
)

func rule(id int64, prio int, cond domain.Condition, action domain.Action) domain.NotificationRule {
	return domain.NotificationRule{
		ID:        id,
		Name:      "r",
		Enabled:   true,
		Priority:  prio,
		Condition: cond,
		Action:    action,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestApplyNoShortCircuit(t *testing.T) {
	n := domain.Notification{Sender: "Boss@Corp.com", Subject: "Quarterly report", Priority: 40}
	snap := NewSnapshot([]domain.NotificationRule{
		rule(1, 10, domain.Condition{Field: "sender_contains", Value: "boss@"}, domain.Action{Type: domain.ActionSetPriority, Value: "90"}),
		rule(2, 5, domain.Condition{Field: domain.FieldPriority, Operator: domain.OpGreaterThan, Value: "80"}, domain.Action{Type: domain.ActionAddTag, Value: "urgent"}),
		rule(3, 1, domain.Condition{Field: domain.FieldTags, Operator: domain.OpContains, Value: "URG"}, domain.Action{Type: domain.ActionCategorize, Value: "work"}),
	})

	res := Apply(n, snap)
	if res.Notification.Priority != 90 {
		t.Fatalf("ожидали приоритет 90, получили %d", res.Notification.Priority)
	}
	if !res.Notification.HasTag("urgent") {
		t.Fatalf("второе правило должно видеть приоритет от первого")
	}
	if res.Notification.Category != "work" {
		t.Fatalf("третье правило должно видеть тег от второго")
	}
	if res.Matched != 3 || len(res.Applied) != 3 {
		t.Fatalf("ожидали 3 сработавших правила, получили %+v", res)
	}
	if n.Priority != 40 || len(n.Tags) != 0 {
		t.Fatalf("Apply не должен менять входное уведомление")
	}
}

func TestSnapshotOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cond := domain.Condition{Field: domain.FieldSubject, Operator: domain.OpIsEmpty}
	low := rule(1, 1, cond, domain.Action{Type: domain.ActionCategorize, Value: "low"})
	lateHigh := rule(2, 5, cond, domain.Action{Type: domain.ActionCategorize, Value: "late"})
	lateHigh.CreatedAt = base.Add(time.Hour)
	earlyHigh := rule(3, 5, cond, domain.Action{Type: domain.ActionCategorize, Value: "early"})
	earlyHigh.CreatedAt = base
	disabled := rule(4, 99, cond, domain.Action{Type: domain.ActionCategorize, Value: "off"})
	disabled.Enabled = false

	snap := NewSnapshot([]domain.NotificationRule{low, lateHigh, disabled, earlyHigh})
	var ids []int64
	for _, r := range snap.Rules() {
		ids = append(ids, r.ID)
	}
	if !reflect.DeepEqual(ids, []int64{3, 2, 1}) {
		t.Fatalf("неожиданный порядок правил: %v", ids)
	}
	// последнее применённое правило выигрывает категорию
	res := Apply(domain.Notification{}, snap)
	if res.Notification.Category != "low" {
		t.Fatalf("ожидали категорию low, получили %q", res.Notification.Category)
	}
}

func TestApplyDeterministic(t *testing.T) {
	rules := []domain.NotificationRule{
		rule(1, 3, domain.Condition{Field: domain.FieldCategory, Operator: domain.OpInList, Values: []string{"News", "promo"}}, domain.Action{Type: domain.ActionArchive}),
		rule(2, 2, domain.Condition{Field: domain.FieldSubject, Operator: domain.OpMatchesRe, Value: `^sale\s+\d+%`}, domain.Action{Type: domain.ActionMarkRead}),
		rule(3, 1, domain.Condition{Field: domain.FieldSpamScore, Operator: domain.OpLessThan, Value: "0.5"}, domain.Action{Type: domain.ActionAddTag, Value: "clean"}),
	}
	n := domain.Notification{Category: "news", Subject: "SALE 50% today", SpamScore: 0.2}
	first := Apply(n, NewSnapshot(rules))
	for i := 0; i < 10; i++ {
		again := Apply(n, NewSnapshot(rules))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("результат применения правил должен быть детерминированным")
		}
	}
	if !first.Notification.Archived || !first.Notification.Read || !first.Notification.HasTag("clean") {
		t.Fatalf("неожиданный результат: %+v", first.Notification)
	}
}

func TestCaseInsensitive(t *testing.T) {
	cases := []struct {
		name string
		cond domain.Condition
		n    domain.Notification
		want bool
	}{
		{"equals", domain.Condition{Field: domain.FieldSender, Operator: domain.OpEquals, Value: "ALERTS@GITHUB.COM"}, domain.Notification{Sender: "alerts@github.com"}, true},
		{"starts_with", domain.Condition{Field: domain.FieldSubject, Operator: domain.OpStartsWith, Value: "re:"}, domain.Notification{Subject: "RE: hello"}, true},
		{"ends_with", domain.Condition{Field: domain.FieldSender, Operator: domain.OpEndsWith, Value: "@Corp.com"}, domain.Notification{Sender: "a@corp.COM"}, true},
		{"not_contains", domain.Condition{Field: domain.FieldBody, Operator: domain.OpNotContains, Value: "Unsubscribe"}, domain.Notification{Body: "click UNSUBSCRIBE"}, false},
		{"regex", domain.Condition{Field: domain.FieldSubject, Operator: domain.OpMatchesRe, Value: "invoice"}, domain.Notification{Subject: "Your INVOICE"}, true},
		{"source_type", domain.Condition{Field: domain.FieldSourceType, Operator: domain.OpEquals, Value: "JIRA"}, domain.Notification{SourceType: domain.SourceTypeJira}, true},
		{"not_in_list", domain.Condition{Field: domain.FieldSentiment, Operator: domain.OpNotInList, Values: []string{"Negative"}}, domain.Notification{Sentiment: domain.SentimentNegative}, false},
		{"tags_not_equals", domain.Condition{Field: domain.FieldTags, Operator: domain.OpNotEquals, Value: "VIP"}, domain.Notification{Tags: []string{"vip"}}, false},
		{"tags_is_empty", domain.Condition{Field: domain.FieldTags, Operator: domain.OpIsEmpty}, domain.Notification{}, true},
		{"priority_in_list", domain.Condition{Field: domain.FieldPriority, Operator: domain.OpInList, Values: []string{"10", "50"}}, domain.Notification{Priority: 50}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := NewSnapshot([]domain.NotificationRule{rule(1, 1, tc.cond, domain.Action{Type: domain.ActionAddTag, Value: "hit"})})
			res := Apply(tc.n, snap)
			if (res.Matched == 1) != tc.want {
				t.Fatalf("ожидали совпадение=%v, результат %+v", tc.want, res)
			}
		})
	}
}

func TestSkippedRules(t *testing.T) {
	snap := NewSnapshot([]domain.NotificationRule{
		rule(1, 3, domain.Condition{Field: domain.FieldSubject, Operator: domain.OpMatchesRe, Value: "(["}, domain.Action{Type: domain.ActionArchive}),
		rule(2, 2, domain.Condition{Field: domain.FieldPriority, Operator: domain.OpGreaterThan, Value: "abc"}, domain.Action{Type: domain.ActionArchive}),
		rule(3, 1, domain.Condition{Field: domain.FieldSubject, Operator: domain.OpGreaterThan, Value: "1"}, domain.Action{Type: domain.ActionArchive}),
		rule(4, 0, domain.Condition{Field: domain.FieldSubject, Operator: domain.OpContains, Value: "ok"}, domain.Action{Type: domain.ActionMarkRead}),
	})
	res := Apply(domain.Notification{Subject: "ok"}, snap)
	if len(res.Skipped) != 3 {
		t.Fatalf("ожидали 3 пропущенных правила, получили %+v", res.Skipped)
	}
	if res.Notification.Archived {
		t.Fatalf("пропущенные правила не должны применяться")
	}
	if !res.Notification.Read {
		t.Fatalf("правило после пропущенных должно сработать")
	}
}

func TestApplyDoesNotSetArchivedAt(t *testing.T) {
	snap := NewSnapshot([]domain.NotificationRule{
		rule(1, 1, domain.Condition{Field: domain.FieldSubject, Operator: domain.OpIsEmpty}, domain.Action{Type: domain.ActionArchive}),
	})
	res := Apply(domain.Notification{}, snap)
	if !res.Notification.Archived || res.Notification.ArchivedAt != nil {
		t.Fatalf("Apply должен только выставить флаг archived")
	}
	if !res.Applied[0].Changed {
		t.Fatalf("архивация должна считаться изменением")
	}
	again := Apply(res.Notification, snap)
	if again.Applied[0].Changed {
		t.Fatalf("повторная архивация не меняет уведомление")
	}
}

package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/domain"
)

func TestServiceCreateValidates(t *testing.T) {
	svc := NewService(repo.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, domain.NotificationRule{
		Name:      "bad",
		Condition: domain.Condition{Field: domain.FieldSubject, Operator: domain.OpGreaterThan, Value: "3"},
		Action:    domain.Action{Type: domain.ActionArchive},
	})
	if !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("ожидали ErrInvalidRule, получили %v", err)
	}

	created, err := svc.Create(ctx, 1, domain.NotificationRule{
		Name:      " vip ",
		Enabled:   true,
		Condition: domain.Condition{Field: "SENDER_CONTAINS", Value: "ceo@"},
		Action:    domain.Action{Type: "Add_Tag", Value: "vip"},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created.Name != "vip" || created.Condition.Field != domain.FieldSender || created.Condition.Operator != domain.OpContains || created.Action.Type != domain.ActionAddTag {
		t.Fatalf("правило не нормализовано: %+v", created)
	}
}

func TestServiceSnapshotInvalidation(t *testing.T) {
	svc := NewService(repo.NewMemory(), zerolog.Nop())
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx, 1)
	if err != nil || snap.Len() != 0 {
		t.Fatalf("ожидали пустой снимок, len=%d err=%v", snap.Len(), err)
	}
	created, err := svc.Create(ctx, 1, domain.NotificationRule{
		Name:      "archive promo",
		Enabled:   true,
		Condition: domain.Condition{Field: domain.FieldCategory, Operator: domain.OpEquals, Value: "promo"},
		Action:    domain.Action{Type: domain.ActionArchive},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap, _ = svc.Snapshot(ctx, 1)
	if snap.Len() != 1 {
		t.Fatalf("создание правила должно сбрасывать кэш")
	}

	res, err := svc.Run(ctx, domain.Notification{UserID: 1, Category: "Promo"})
	if err != nil || !res.Notification.Archived {
		t.Fatalf("ожидали архивацию, res=%+v err=%v", res, err)
	}

	if err := svc.Delete(ctx, 1, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, _ = svc.Snapshot(ctx, 1)
	if snap.Len() != 0 {
		t.Fatalf("удаление правила должно сбрасывать кэш")
	}
	if err := svc.Delete(ctx, 2, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestServiceDryRun(t *testing.T) {
	svc := NewService(repo.NewMemory(), zerolog.Nop())
	ctx := context.Background()
	_, _ = svc.Create(ctx, 1, domain.NotificationRule{
		Name:      "low priority",
		Enabled:   true,
		Condition: domain.Condition{Field: domain.FieldPriority, Operator: domain.OpLessThan, Value: "20"},
		Action:    domain.Action{Type: domain.ActionMarkRead},
	})

	res, err := svc.Test(ctx, 1, domain.Notification{Priority: 10}, nil)
	if err != nil || !res.Notification.Read || len(res.Applied) != 1 {
		t.Fatalf("ожидали срабатывание сохранённого правила, res=%+v err=%v", res, err)
	}

	candidate := domain.NotificationRule{
		Name:      "tag",
		Condition: domain.Condition{Field: domain.FieldPriority, Operator: domain.OpLessThan, Value: "20"},
		Action:    domain.Action{Type: domain.ActionAddTag, Value: "later"},
	}
	res, err = svc.Test(ctx, 1, domain.Notification{Priority: 10}, &candidate)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Notification.Read || !res.Notification.HasTag("later") {
		t.Fatalf("проверка кандидата не должна применять сохранённые правила: %+v", res.Notification)
	}
	rules, _ := svc.List(ctx, 1)
	if len(rules) != 1 {
		t.Fatalf("пробный запуск не должен сохранять правило")
	}
}

package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ConditionField - поле уведомления, по которому проверяется условие правила.
type ConditionField string

const (
	FieldSender     ConditionField = "sender"
	FieldSubject    ConditionField = "subject"
	FieldBody       ConditionField = "body"
	FieldCategory   ConditionField = "category"
	FieldPriority   ConditionField = "priority"
	FieldSourceType ConditionField = "source_type"
	FieldSentiment  ConditionField = "sentiment"
	FieldConfidence ConditionField = "confidence"
	FieldSpamScore  ConditionField = "spam_score"
	FieldTags       ConditionField = "tags"
)

var knownFields = []ConditionField{
	FieldSender, FieldSubject, FieldBody, FieldCategory, FieldPriority,
	FieldSourceType, FieldSentiment, FieldConfidence, FieldSpamScore, FieldTags,
}

// Numeric сообщает, что поле числовое.
func (f ConditionField) Numeric() bool {
	switch f {
	case FieldPriority, FieldConfidence, FieldSpamScore:
		return true
	}
	return false
}

// Valid сообщает, известно ли поле.
func (f ConditionField) Valid() bool {
	for _, known := range knownFields {
		if f == known {
			return true
		}
	}
	return false
}

// Operator - оператор сравнения в условии правила.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpInList      Operator = "in_list"
	OpNotInList   Operator = "not_in_list"
	OpMatchesRe   Operator = "matches_regex"
	OpIsEmpty     Operator = "is_empty"
)

var knownOperators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpGreaterThan, OpLessThan, OpInList, OpNotInList, OpMatchesRe, OpIsEmpty,
}

// Valid сообщает, известен ли оператор.
func (o Operator) Valid() bool {
	for _, known := range knownOperators {
		if o == known {
			return true
		}
	}
	return false
}

// NumericOnly сообщает, что оператор применим лишь к числовым полям.
func (o Operator) NumericOnly() bool {
	return o == OpGreaterThan || o == OpLessThan
}

// ListOperator сообщает, что оператор сравнивает со списком значений.
func (o Operator) ListOperator() bool {
	return o == OpInList || o == OpNotInList
}

// ActionType - действие, которое правило применяет к уведомлению.
type ActionType string

const (
	ActionCategorize  ActionType = "categorize"
	ActionArchive     ActionType = "archive"
	ActionMarkRead    ActionType = "mark_read"
	ActionSetPriority ActionType = "set_priority"
	ActionAddTag      ActionType = "add_tag"
)

// Valid сообщает, известен ли тип действия.
func (a ActionType) Valid() bool {
	switch a {
	case ActionCategorize, ActionArchive, ActionMarkRead, ActionSetPriority, ActionAddTag:
		return true
	}
	return false
}

// Condition - условие правила: поле, оператор и значение либо список значений.
type Condition struct {
	Field    ConditionField `json:"field"`
	Operator Operator       `json:"operator"`
	Value    string         `json:"value,omitempty"`
	Values   []string       `json:"values,omitempty"`
}

// Action - действие правила.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
}

// NotificationRule - пользовательское правило автоматической обработки.
type NotificationRule struct {
	ID        int64
	UserID    int64
	Name      string
	Enabled   bool
	Priority  int
	Condition Condition
	Action    Action
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParseConditionType разбирает составную запись вида "<field>_<operator>",
// например "sender_contains" или "priority_greater_than".
func ParseConditionType(raw string) (ConditionField, Operator, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, field := range knownFields {
		prefix := string(field) + "_"
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		op := Operator(strings.TrimPrefix(raw, prefix))
		if op.Valid() {
			return field, op, nil
		}
	}
	return "", "", fmt.Errorf("%w: неизвестный тип условия %q", ErrInvalidRule, raw)
}

// Normalize приводит условие к каноническому виду, разворачивая составную запись поля.
func (c Condition) Normalize() Condition {
	c.Field = ConditionField(strings.ToLower(strings.TrimSpace(string(c.Field))))
	c.Operator = Operator(strings.ToLower(strings.TrimSpace(string(c.Operator))))
	if c.Operator == "" && c.Field != "" && !c.Field.Valid() {
		if field, op, err := ParseConditionType(string(c.Field)); err == nil {
			c.Field, c.Operator = field, op
		}
	}
	return c
}

// Validate проверяет правило перед сохранением.
func (r NotificationRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: пустое имя", ErrInvalidRule)
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	return r.Action.Validate()
}

// Validate проверяет условие правила.
func (c Condition) Validate() error {
	if !c.Field.Valid() {
		return fmt.Errorf("%w: неизвестное поле %q", ErrInvalidRule, c.Field)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: неизвестный оператор %q", ErrInvalidRule, c.Operator)
	}
	if c.Operator.NumericOnly() {
		if !c.Field.Numeric() {
			return fmt.Errorf("%w: оператор %s применим только к числовым полям", ErrInvalidRule, c.Operator)
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64); err != nil {
			return fmt.Errorf("%w: значение %q не число", ErrInvalidRule, c.Value)
		}
	}
	if c.Operator.ListOperator() && len(nonEmpty(c.Values)) == 0 {
		return fmt.Errorf("%w: пустой список значений", ErrInvalidRule)
	}
	if c.Operator == OpMatchesRe {
		if _, err := regexp.Compile("(?i)" + c.Value); err != nil {
			return fmt.Errorf("%w: некорректное регулярное выражение: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

// Validate проверяет действие правила.
func (a Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: неизвестное действие %q", ErrInvalidRule, a.Type)
	}
	switch a.Type {
	case ActionCategorize, ActionAddTag:
		if strings.TrimSpace(a.Value) == "" {
			return fmt.Errorf("%w: действие %s требует значение", ErrInvalidRule, a.Type)
		}
	case ActionSetPriority:
		p, err := strconv.Atoi(strings.TrimSpace(a.Value))
		if err != nil {
			return fmt.Errorf("%w: приоритет %q не число", ErrInvalidRule, a.Value)
		}
		if p < MinPriority || p > MaxPriority {
			return fmt.Errorf("%w: приоритет %d вне диапазона %d..%d", ErrInvalidRule, p, MinPriority, MaxPriority)
		}
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

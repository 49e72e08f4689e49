package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"notify-hub/internal/domain"
)

// Snapshot - упорядоченный набор включённых правил пользователя с
// заранее скомпилированными регулярными выражениями.
type Snapshot struct {
	rules   []domain.NotificationRule
	regexes map[int]*regexp.Regexp
	errs    map[int]error
}

// NewSnapshot фильтрует выключенные правила и сортирует остальные:
// приоритет по убыванию, затем created_at и id по возрастанию.
func NewSnapshot(rules []domain.NotificationRule) *Snapshot {
	enabled := make([]domain.NotificationRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			r.Condition = r.Condition.Normalize()
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		a, b := enabled[i], enabled[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	s := &Snapshot{rules: enabled, regexes: make(map[int]*regexp.Regexp), errs: make(map[int]error)}
	for i, r := range enabled {
		if r.Condition.Operator != domain.OpMatchesRe {
			continue
		}
		re, err := regexp.Compile("(?i)" + r.Condition.Value)
		if err != nil {
			s.errs[i] = fmt.Errorf("regex: %w", err)
			continue
		}
		s.regexes[i] = re
	}
	return s
}

// Rules возвращает правила в порядке применения.
func (s *Snapshot) Rules() []domain.NotificationRule {
	return s.rules
}

// Len возвращает число правил в снимке.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// AppliedAction описывает одно сработавшее правило.
type AppliedAction struct {
	RuleID   int64             `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Action   domain.ActionType `json:"action"`
	Value    string            `json:"value,omitempty"`
	Changed  bool              `json:"changed"`
}

// SkippedRule описывает правило, условие или действие которого не удалось вычислить.
type SkippedRule struct {
	RuleID   int64  `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// Result - итог применения снимка к уведомлению.
type Result struct {
	Notification domain.Notification
	Applied      []AppliedAction
	Skipped      []SkippedRule
	// Matched - число правил, чьё условие выполнилось.
	Matched int
}

// Apply применяет правила по порядку. Каждое следующее правило видит
// изменения предыдущих; прерывания цепочки нет. Функция чистая.
func Apply(n domain.Notification, snap *Snapshot) Result {
	res := Result{Notification: n.Clone()}
	if snap == nil {
		return res
	}
	for i, rule := range snap.rules {
		if err := snap.errs[i]; err != nil {
			res.Skipped = append(res.Skipped, SkippedRule{RuleID: rule.ID, RuleName: rule.Name, Reason: err.Error()})
			continue
		}
		matched, err := evaluate(res.Notification, rule.Condition, snap.regexes[i])
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRule{RuleID: rule.ID, RuleName: rule.Name, Reason: err.Error()})
			continue
		}
		if !matched {
			continue
		}
		res.Matched++
		changed, err := apply(&res.Notification, rule.Action)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRule{RuleID: rule.ID, RuleName: rule.Name, Reason: err.Error()})
			continue
		}
		res.Applied = append(res.Applied, AppliedAction{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Action:   rule.Action.Type,
			Value:    rule.Action.Value,
			Changed:  changed,
		})
	}
	return res
}

func apply(n *domain.Notification, action domain.Action) (bool, error) {
	value := strings.TrimSpace(action.Value)
	switch action.Type {
	case domain.ActionCategorize:
		if value == "" {
			return false, fmt.Errorf("categorize: пустая категория")
		}
		changed := n.Category != value
		n.Category = value
		return changed, nil
	case domain.ActionArchive:
		changed := !n.Archived
		n.Archived = true
		return changed, nil
	case domain.ActionMarkRead:
		changed := !n.Read
		n.Read = true
		return changed, nil
	case domain.ActionSetPriority:
		p, err := strconv.Atoi(value)
		if err != nil {
			return false, fmt.Errorf("set_priority: %q не число", action.Value)
		}
		p = domain.ClampPriority(p)
		changed := n.Priority != p
		n.Priority = p
		return changed, nil
	case domain.ActionAddTag:
		if value == "" {
			return false, fmt.Errorf("add_tag: пустой тег")
		}
		return n.AddTag(value), nil
	}
	return false, fmt.Errorf("неизвестное действие %q", action.Type)
}

func evaluate(n domain.Notification, c domain.Condition, re *regexp.Regexp) (bool, error) {
	if !c.Field.Valid() {
		return false, fmt.Errorf("неизвестное поле %q", c.Field)
	}
	if !c.Operator.Valid() {
		return false, fmt.Errorf("неизвестный оператор %q", c.Operator)
	}
	if c.Operator == domain.OpMatchesRe && re == nil {
		return false, fmt.Errorf("regex не скомпилирован")
	}
	switch {
	case c.Field == domain.FieldTags:
		return evaluateTags(n.Tags, c, re)
	case c.Field.Numeric():
		return evaluateNumber(numericValue(n, c.Field), c, re)
	default:
		return evaluateText(textValue(n, c.Field), c, re)
	}
}

func textValue(n domain.Notification, field domain.ConditionField) string {
	switch field {
	case domain.FieldSender:
		return n.Sender
	case domain.FieldSubject:
		return n.Subject
	case domain.FieldBody:
		return n.Body
	case domain.FieldCategory:
		return n.Category
	case domain.FieldSourceType:
		return string(n.SourceType)
	case domain.FieldSentiment:
		return string(n.Sentiment)
	}
	return ""
}

func numericValue(n domain.Notification, field domain.ConditionField) float64 {
	switch field {
	case domain.FieldPriority:
		return float64(n.Priority)
	case domain.FieldConfidence:
		return n.Confidence
	case domain.FieldSpamScore:
		return n.SpamScore
	}
	return 0
}

func evaluateText(actual string, c domain.Condition, re *regexp.Regexp) (bool, error) {
	a := strings.ToLower(actual)
	v := strings.ToLower(c.Value)
	switch c.Operator {
	case domain.OpEquals:
		return a == v, nil
	case domain.OpNotEquals:
		return a != v, nil
	case domain.OpContains:
		return strings.Contains(a, v), nil
	case domain.OpNotContains:
		return !strings.Contains(a, v), nil
	case domain.OpStartsWith:
		return strings.HasPrefix(a, v), nil
	case domain.OpEndsWith:
		return strings.HasSuffix(a, v), nil
	case domain.OpInList:
		return inList(a, c.Values), nil
	case domain.OpNotInList:
		return !inList(a, c.Values), nil
	case domain.OpMatchesRe:
		return re.MatchString(actual), nil
	case domain.OpIsEmpty:
		return strings.TrimSpace(actual) == "", nil
	}
	return false, fmt.Errorf("оператор %s неприменим к текстовому полю %s", c.Operator, c.Field)
}

func evaluateNumber(actual float64, c domain.Condition, re *regexp.Regexp) (bool, error) {
	switch c.Operator {
	case domain.OpIsEmpty:
		return actual == 0, nil
	case domain.OpInList, domain.OpNotInList:
		found := false
		for _, raw := range c.Values {
			v, err := parseNumber(raw)
			if err != nil {
				return false, err
			}
			if v == actual {
				found = true
				break
			}
		}
		return found == (c.Operator == domain.OpInList), nil
	case domain.OpMatchesRe:
		return re.MatchString(strconv.FormatFloat(actual, 'f', -1, 64)), nil
	case domain.OpContains, domain.OpNotContains, domain.OpStartsWith, domain.OpEndsWith:
		return evaluateText(strconv.FormatFloat(actual, 'f', -1, 64), c, re)
	}
	v, err := parseNumber(c.Value)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case domain.OpEquals:
		return actual == v, nil
	case domain.OpNotEquals:
		return actual != v, nil
	case domain.OpGreaterThan:
		return actual > v, nil
	case domain.OpLessThan:
		return actual < v, nil
	}
	return false, fmt.Errorf("оператор %s неприменим к числовому полю %s", c.Operator, c.Field)
}

func evaluateTags(tags []string, c domain.Condition, re *regexp.Regexp) (bool, error) {
	if c.Operator.NumericOnly() {
		return false, fmt.Errorf("оператор %s неприменим к тегам", c.Operator)
	}
	switch c.Operator {
	case domain.OpIsEmpty:
		return len(tags) == 0, nil
	case domain.OpNotEquals, domain.OpNotContains, domain.OpNotInList:
		positive := domain.Condition{Field: c.Field, Value: c.Value, Values: c.Values, Operator: negate(c.Operator)}
		found, err := anyTag(tags, positive, re)
		return !found, err
	}
	return anyTag(tags, c, re)
}

func anyTag(tags []string, c domain.Condition, re *regexp.Regexp) (bool, error) {
	for _, tag := range tags {
		ok, err := evaluateText(tag, c, re)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func negate(op domain.Operator) domain.Operator {
	switch op {
	case domain.OpNotEquals:
		return domain.OpEquals
	case domain.OpNotContains:
		return domain.OpContains
	case domain.OpNotInList:
		return domain.OpInList
	}
	return op
}

func inList(actual string, values []string) bool {
	for _, v := range values {
		if strings.ToLower(strings.TrimSpace(v)) == actual {
			return true
		}
	}
	return false
}

func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("значение %q не число", raw)
	}
	return v, nil
}

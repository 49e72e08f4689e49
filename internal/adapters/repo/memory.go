package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"notify-hub/internal/domain"
)

// Memory реализует все репозитории в памяти процесса.
// Используется для локального запуска без PG_DSN и в тестах.
type Memory struct {
	mu sync.RWMutex

	nextID        int64
	notifications map[int64]domain.Notification
	byExternal    map[externalKey]int64
	sources       map[int64]domain.NotificationSource
	rules         map[int64]domain.NotificationRule
	patterns      map[int64]domain.NotificationPattern
	patternKeys   map[patternKey]int64
	digests       map[int64]domain.NotificationDigest

	now func() time.Time
}

type externalKey struct {
	sourceID   int64
	externalID string
}

type patternKey struct {
	userID int64
	key    string
}

var (
	_ domain.NotificationRepo = (*Memory)(nil)
	_ domain.SourceRepo       = (*Memory)(nil)
	_ domain.RuleRepo         = (*Memory)(nil)
	_ domain.PatternRepo      = (*Memory)(nil)
	_ domain.DigestRepo       = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		notifications: make(map[int64]domain.Notification),
		byExternal:    make(map[externalKey]int64),
		sources:       make(map[int64]domain.NotificationSource),
		rules:         make(map[int64]domain.NotificationRule),
		patterns:      make(map[int64]domain.NotificationPattern),
		patternKeys:   make(map[patternKey]int64),
		digests:       make(map[int64]domain.NotificationDigest),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// UpsertNotifications реализует domain.NotificationRepo.
func (m *Memory) UpsertNotifications(_ context.Context, items []domain.Notification) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var inserted []int64
	for _, item := range items {
		key := externalKey{sourceID: item.SourceID, externalID: item.ExternalID}
		if id, ok := m.byExternal[key]; ok {
			existing := m.notifications[id]
			existing.SourceType = item.SourceType
			existing.Sender = item.Sender
			existing.Subject = item.Subject
			existing.Body = item.Body
			existing.URL = item.URL
			existing.ReceivedAt = item.ReceivedAt
			existing.UpdatedAt = now
			m.notifications[id] = existing
			continue
		}
		n := domain.Notification{
			ID:         m.id(),
			UserID:     item.UserID,
			SourceID:   item.SourceID,
			SourceType: item.SourceType,
			ExternalID: item.ExternalID,
			Sender:     item.Sender,
			Subject:    item.Subject,
			Body:       item.Body,
			URL:        item.URL,
			ReceivedAt: item.ReceivedAt,
			Sentiment:  domain.SentimentNeutral,
			Status:     domain.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.notifications[n.ID] = n
		m.byExternal[key] = n.ID
		inserted = append(inserted, n.ID)
	}
	return inserted, nil
}

// GetNotification реализует domain.NotificationRepo.
func (m *Memory) GetNotification(_ context.Context, userID, id int64) (domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return domain.Notification{}, domain.ErrNotFound
	}
	return n.Clone(), nil
}

// ListNotifications реализует domain.NotificationRepo.
func (m *Memory) ListNotifications(_ context.Context, userID int64, filter domain.NotificationFilter) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if filter.Read != nil && n.Read != *filter.Read {
			continue
		}
		if filter.Archived != nil && n.Archived != *filter.Archived {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(n.Category, filter.Category) {
			continue
		}
		out = append(out, n.Clone())
	}
	sortByRecency(out)
	return page(out, filter.Offset, filter.Limit), nil
}

// ListNotificationsInWindow реализует domain.NotificationRepo.
func (m *Memory) ListNotificationsInWindow(_ context.Context, userID int64, window domain.Window) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && window.Contains(n.ReceivedAt) {
			out = append(out, n.Clone())
		}
	}
	sortByRecency(out)
	return out, nil
}

// CountUnread реализует domain.NotificationRepo.
func (m *Memory) CountUnread(_ context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read && !n.Archived {
			count++
		}
	}
	return count, nil
}

// MarkRead реализует domain.NotificationRepo.
func (m *Memory) MarkRead(_ context.Context, userID, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return false, domain.ErrNotFound
	}
	if n.Read {
		return false, nil
	}
	n.Read = true
	n.UpdatedAt = m.now()
	m.notifications[id] = n
	return true, nil
}

// MarkAllRead реализует domain.NotificationRepo.
func (m *Memory) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var changed int64
	for id, n := range m.notifications {
		if n.UserID != userID || n.Read {
			continue
		}
		n.Read = true
		n.UpdatedAt = now
		m.notifications[id] = n
		changed++
	}
	return changed, nil
}

// DeleteNotification реализует domain.NotificationRepo.
func (m *Memory) DeleteNotification(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotFound
	}
	m.deleteNotificationLocked(n)
	return nil
}

func (m *Memory) deleteNotificationLocked(n domain.Notification) {
	delete(m.notifications, n.ID)
	delete(m.byExternal, externalKey{sourceID: n.SourceID, externalID: n.ExternalID})
}

// ClaimForClassification реализует domain.NotificationRepo.
func (m *Memory) ClaimForClassification(_ context.Context, userID, id int64, staleBefore time.Time) (domain.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return domain.Notification{}, false, domain.ErrNotFound
	}
	if !claimable(n, staleBefore) {
		return domain.Notification{}, false, nil
	}
	now := m.now()
	n.Status = domain.StatusProcessing
	n.ClaimedAt = &now
	n.ClassifyAttempts++
	n.UpdatedAt = now
	m.notifications[id] = n
	return n.Clone(), true, nil
}

func claimable(n domain.Notification, staleBefore time.Time) bool {
	switch n.Status {
	case domain.StatusPending, domain.StatusFailed:
		return true
	case domain.StatusProcessing:
		return n.ClaimedAt == nil || n.ClaimedAt.Before(staleBefore)
	}
	return false
}

// SaveProcessed реализует domain.NotificationRepo.
// Флаги read/archived объединяются с текущими, чтобы не потерять действия пользователя.
func (m *Memory) SaveProcessed(_ context.Context, in domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[in.ID]
	if !ok || n.UserID != in.UserID {
		return domain.ErrNotFound
	}
	n.Category = in.Category
	n.Priority = in.Priority
	n.Sentiment = in.Sentiment
	n.Summary = in.Summary
	n.Confidence = in.Confidence
	n.SpamScore = in.SpamScore
	n.Tags = append([]string(nil), in.Tags...)
	n.Read = n.Read || in.Read
	if in.Archived && !n.Archived {
		n.Archived = true
		n.ArchivedAt = in.ArchivedAt
	}
	n.Status = in.Status
	n.ClassifiedAt = in.ClassifiedAt
	n.ClaimedAt = nil
	n.UpdatedAt = m.now()
	m.notifications[in.ID] = n
	return nil
}

// ListClassificationBacklog реализует domain.NotificationRepo.
func (m *Memory) ListClassificationBacklog(_ context.Context, q domain.BacklogQuery) ([]domain.ClassifyJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for id, n := range m.notifications {
		if inBacklog(n, q) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	jobs := make([]domain.ClassifyJob, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, domain.ClassifyJob{UserID: m.notifications[id].UserID, NotificationID: id, Cause: domain.ClassifyCauseSweep})
	}
	return jobs, nil
}

func inBacklog(n domain.Notification, q domain.BacklogQuery) bool {
	switch n.Status {
	case domain.StatusPending:
		return true
	case domain.StatusFailed:
		return n.ClassifyAttempts < q.MaxAttempts && n.ClassifiedAt != nil && n.ClassifiedAt.Before(q.RetryBefore)
	case domain.StatusProcessing:
		return n.ClaimedAt == nil || n.ClaimedAt.Before(q.StaleBefore)
	}
	return false
}

// ArchiveSpam реализует domain.NotificationRepo.
func (m *Memory) ArchiveSpam(ctx context.Context, threshold float64, cutoff, archivedAt time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, n := range m.notifications {
		if n.Archived || n.SpamScore <= threshold || !n.Status.Processed() {
			continue
		}
		if n.ClassifiedAt == nil || n.ClassifiedAt.After(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	ids = limitIDs(ids, limit)
	for _, id := range ids {
		n := m.notifications[id]
		at := archivedAt
		n.Archived = true
		n.ArchivedAt = &at
		n.UpdatedAt = m.now()
		m.notifications[id] = n
	}
	return len(ids), nil
}

// PurgeArchived реализует domain.NotificationRepo.
func (m *Memory) PurgeArchived(_ context.Context, before time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, n := range m.notifications {
		if n.Archived && n.ArchivedAt != nil && n.ArchivedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	ids = limitIDs(ids, limit)
	for _, id := range ids {
		m.deleteNotificationLocked(m.notifications[id])
	}
	return len(ids), nil
}

// CreateSource реализует domain.SourceRepo.
func (m *Memory) CreateSource(_ context.Context, source domain.NotificationSource) (domain.NotificationSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	source.ID = m.id()
	source.CreatedAt = now
	source.UpdatedAt = now
	m.sources[source.ID] = source
	return source, nil
}

// GetSource реализует domain.SourceRepo.
func (m *Memory) GetSource(_ context.Context, userID, id int64) (domain.NotificationSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok || s.UserID != userID {
		return domain.NotificationSource{}, domain.ErrNotFound
	}
	return s, nil
}

// ListSources реализует domain.SourceRepo.
func (m *Memory) ListSources(_ context.Context, userID int64) ([]domain.NotificationSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationSource
	for _, s := range m.sources {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSource реализует domain.SourceRepo.
func (m *Memory) UpdateSource(_ context.Context, source domain.NotificationSource) (domain.NotificationSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sources[source.ID]
	if !ok || existing.UserID != source.UserID {
		return domain.NotificationSource{}, domain.ErrNotFound
	}
	existing.Name = source.Name
	existing.Enabled = source.Enabled
	if len(source.Credentials) > 0 {
		existing.Credentials = source.Credentials
		existing.LastError = ""
		existing.NextSyncAt = nil
	}
	existing.UpdatedAt = m.now()
	m.sources[source.ID] = existing
	return existing, nil
}

// DeleteSource реализует domain.SourceRepo. Уведомления источника удаляются вместе с ним.
func (m *Memory) DeleteSource(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok || s.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.sources, id)
	for _, n := range m.notifications {
		if n.SourceID == id {
			m.deleteNotificationLocked(n)
		}
	}
	return nil
}

// ListSyncableSources реализует domain.SourceRepo.
func (m *Memory) ListSyncableSources(_ context.Context, now time.Time) ([]domain.NotificationSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationSource
	for _, s := range m.sources {
		if !s.Enabled {
			continue
		}
		if s.NextSyncAt != nil && s.NextSyncAt.After(now) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordSyncSuccess реализует domain.SourceRepo.
func (m *Memory) RecordSyncSuccess(_ context.Context, id int64, cursor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Cursor = cursor
	s.LastError = ""
	s.LastSyncAt = &at
	s.NextSyncAt = nil
	s.UpdatedAt = m.now()
	m.sources[id] = s
	return nil
}

// RecordSyncFailure реализует domain.SourceRepo.
func (m *Memory) RecordSyncFailure(_ context.Context, id int64, message string, at time.Time, nextSyncAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.LastError = message
	s.LastSyncAt = &at
	s.NextSyncAt = nextSyncAt
	s.UpdatedAt = m.now()
	m.sources[id] = s
	return nil
}

// ListUserIDs реализует domain.SourceRepo.
func (m *Memory) ListUserIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, s := range m.sources {
		if _, ok := seen[s.UserID]; ok {
			continue
		}
		seen[s.UserID] = struct{}{}
		out = append(out, s.UserID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CreateRule реализует domain.RuleRepo.
func (m *Memory) CreateRule(_ context.Context, rule domain.NotificationRule) (domain.NotificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rule.ID = m.id()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.rules[rule.ID] = rule
	return rule, nil
}

// GetRule реализует domain.RuleRepo.
func (m *Memory) GetRule(_ context.Context, userID, id int64) (domain.NotificationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok || r.UserID != userID {
		return domain.NotificationRule{}, domain.ErrNotFound
	}
	return r, nil
}

// ListRules реализует domain.RuleRepo.
func (m *Memory) ListRules(_ context.Context, userID int64) ([]domain.NotificationRule, error) {
	return m.listRules(userID, false), nil
}

// ListEnabledRules реализует domain.RuleRepo.
func (m *Memory) ListEnabledRules(_ context.Context, userID int64) ([]domain.NotificationRule, error) {
	return m.listRules(userID, true), nil
}

func (m *Memory) listRules(userID int64, enabledOnly bool) []domain.NotificationRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationRule
	for _, r := range m.rules {
		if r.UserID != userID || (enabledOnly && !r.Enabled) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdateRule реализует domain.RuleRepo.
func (m *Memory) UpdateRule(_ context.Context, rule domain.NotificationRule) (domain.NotificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.ID]
	if !ok || existing.UserID != rule.UserID {
		return domain.NotificationRule{}, domain.ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = m.now()
	m.rules[rule.ID] = rule
	return rule, nil
}

// DeleteRule реализует domain.RuleRepo.
func (m *Memory) DeleteRule(_ context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// GetPattern реализует domain.PatternRepo.
func (m *Memory) GetPattern(_ context.Context, userID int64, key string) (domain.NotificationPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.patternKeys[patternKey{userID: userID, key: key}]
	if !ok {
		return domain.NotificationPattern{}, domain.ErrNotFound
	}
	return m.patterns[id], nil
}

// GetPatternByID реализует domain.PatternRepo.
func (m *Memory) GetPatternByID(_ context.Context, userID, id int64) (domain.NotificationPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok || p.UserID != userID {
		return domain.NotificationPattern{}, domain.ErrNotFound
	}
	return p, nil
}

// InsertPattern реализует domain.PatternRepo.
func (m *Memory) InsertPattern(_ context.Context, p domain.NotificationPattern) (domain.NotificationPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := patternKey{userID: p.UserID, key: p.Key}
	if _, ok := m.patternKeys[key]; ok {
		return domain.NotificationPattern{}, domain.ErrPatternConflict
	}
	p.ID = m.id()
	p.Version = 1
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.patterns[p.ID] = p
	m.patternKeys[key] = p.ID
	return p, nil
}

// UpdatePatternCAS реализует domain.PatternRepo.
func (m *Memory) UpdatePatternCAS(_ context.Context, p domain.NotificationPattern) (domain.NotificationPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.patternKeys[patternKey{userID: p.UserID, key: p.Key}]
	if !ok {
		return domain.NotificationPattern{}, domain.ErrNotFound
	}
	stored := m.patterns[id]
	if stored.Version != p.Version {
		return domain.NotificationPattern{}, domain.ErrPatternConflict
	}
	p.ID = id
	p.CreatedAt = stored.CreatedAt
	p.Version = stored.Version + 1
	m.patterns[id] = p
	return p, nil
}

// TopPatternsByConfidence реализует domain.PatternRepo.
func (m *Memory) TopPatternsByConfidence(_ context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	out := m.userPatterns(userID)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ID < out[j].ID
	})
	return page(out, 0, limit), nil
}

// TopPatternsByFrequency реализует domain.PatternRepo.
func (m *Memory) TopPatternsByFrequency(_ context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	out := m.userPatterns(userID)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return page(out, 0, limit), nil
}

// PatternStats реализует domain.PatternRepo.
func (m *Memory) PatternStats(_ context.Context, userID int64) (domain.PatternStats, error) {
	patterns := m.userPatterns(userID)
	stats := domain.PatternStats{Count: len(patterns)}
	if len(patterns) == 0 {
		return stats, nil
	}
	var sum float64
	for _, p := range patterns {
		sum += p.Confidence
	}
	stats.AverageConfidence = sum / float64(len(patterns))
	return stats, nil
}

// ResetPatterns реализует domain.PatternRepo.
func (m *Memory) ResetPatterns(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.patterns {
		if p.UserID == userID {
			delete(m.patterns, id)
			delete(m.patternKeys, patternKey{userID: userID, key: p.Key})
		}
	}
	return nil
}

func (m *Memory) userPatterns(userID int64) []domain.NotificationPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationPattern
	for _, p := range m.patterns {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

// CreateDigest реализует domain.DigestRepo.
func (m *Memory) CreateDigest(_ context.Context, d domain.NotificationDigest) (domain.NotificationDigest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.id()
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = m.now()
	}
	categories := make(map[string]int, len(d.Categories))
	for k, v := range d.Categories {
		categories[k] = v
	}
	d.Categories = categories
	m.digests[d.ID] = d
	return d, nil
}

// ListDigests реализует domain.DigestRepo.
func (m *Memory) ListDigests(_ context.Context, userID int64, limit int) ([]domain.NotificationDigest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationDigest
	for _, d := range m.digests {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sortDigests(out)
	return page(out, 0, limit), nil
}

// LatestDigest реализует domain.DigestRepo.
func (m *Memory) LatestDigest(_ context.Context, userID int64, digestType domain.DigestType) (domain.NotificationDigest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.NotificationDigest
	for _, d := range m.digests {
		if d.UserID == userID && d.Type == digestType {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return domain.NotificationDigest{}, domain.ErrNotFound
	}
	sortDigests(out)
	return out[0], nil
}

// DigestExists реализует domain.DigestRepo.
func (m *Memory) DigestExists(_ context.Context, userID int64, digestType domain.DigestType, window domain.Window) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.digests {
		if d.UserID == userID && d.Type == digestType && d.Window.Start.Equal(window.Start) && d.Window.End.Equal(window.End) {
			return true, nil
		}
	}
	return false, nil
}

func sortByRecency(items []domain.Notification) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ReceivedAt.Equal(items[j].ReceivedAt) {
			return items[i].ReceivedAt.After(items[j].ReceivedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func sortDigests(items []domain.NotificationDigest) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].GeneratedAt.Equal(items[j].GeneratedAt) {
			return items[i].GeneratedAt.After(items[j].GeneratedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func limitIDs(ids []int64, limit int) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

package collector

import (
	"fmt"
	"net/http"

	"notify-hub/internal/domain"
)

// Registry сопоставляет тип источника и коллектор.
type Registry struct {
	collectors map[domain.SourceType]domain.Collector
}

// NewRegistry собирает коллекторы всех поддерживаемых типов.
func NewRegistry(httpClient *http.Client) *Registry {
	r := &Registry{collectors: make(map[domain.SourceType]domain.Collector)}
	for _, t := range domain.SourceTypes() {
		r.collectors[t] = newCollector(t, httpClient)
	}
	return r
}

// NewRegistryFrom собирает реестр из готовых коллекторов (для тестов и подмены).
func NewRegistryFrom(collectors map[domain.SourceType]domain.Collector) *Registry {
	return &Registry{collectors: collectors}
}

func newCollector(t domain.SourceType, httpClient *http.Client) domain.Collector {
	switch t {
	case domain.SourceTypeGmail:
		return NewGmail()
	case domain.SourceTypeIMAP:
		return NewIMAP()
	case domain.SourceTypeTelegram:
		return NewTelegram(httpClient)
	case domain.SourceTypeJira:
		return NewJira(httpClient)
	case domain.SourceTypeGitHub:
		return NewGitHub(httpClient)
	}
	panic(fmt.Sprintf("collector: неизвестный тип источника %q", t))
}

// Get возвращает коллектор для типа источника.
func (r *Registry) Get(t domain.SourceType) (domain.Collector, error) {
	c, ok := r.collectors[t]
	if !ok {
		return nil, fmt.Errorf("collector: %w: тип %q", domain.ErrInvalidSource, t)
	}
	return c, nil
}

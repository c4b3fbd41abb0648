// Package lists manages curated smart lists: stored filter definitions whose
// materialized items are refreshed on demand or on a schedule.
package lists

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/discover"
	"github.com/example/media-curator/internal/platform/analytics"
	"github.com/example/media-curator/internal/platform/metrics"
	"github.com/example/media-curator/internal/store"
)

const (
	defaultItemLimit      = 20
	defaultUpdateInterval = 24
)

var ErrInvalidList = errors.New("invalid list definition")

// Service owns list CRUD and refresh orchestration.
type Service struct {
	lists    store.ListStore
	discover *discover.Service
	events   *analytics.Publisher
	log      *zap.Logger
}

func NewService(lists store.ListStore, disc *discover.Service, events *analytics.Publisher, log *zap.Logger) *Service {
	return &Service{lists: lists, discover: disc, events: events, log: log}
}

// validate normalizes a definition and rejects one whose filters cannot be
// translated; a list that can never refresh should not be storable.
func (s *Service) validate(l *store.List) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidList)
	}
	if !l.MediaType.Valid() {
		return fmt.Errorf("%w: media_type must be movie or tv", ErrInvalidList)
	}
	if l.FilterOperator == "" {
		l.FilterOperator = store.FilterAnd
	}
	if l.FilterOperator != store.FilterAnd && l.FilterOperator != store.FilterOr {
		return fmt.Errorf("%w: filter_operator must be and or or", ErrInvalidList)
	}
	if l.SortBy == "" {
		l.SortBy = "popularity.desc"
	}
	if l.ItemLimit <= 0 {
		l.ItemLimit = defaultItemLimit
	}
	if l.UpdateIntervalHours <= 0 {
		l.UpdateIntervalHours = defaultUpdateInterval
	}
	if _, err := discover.Translate(l.MediaType, l.Filters, l.FilterOperator); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidList, err)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, l *store.List) error {
	if err := s.validate(l); err != nil {
		return err
	}
	return s.lists.CreateList(ctx, l)
}

func (s *Service) Get(ctx context.Context, id int64) (*store.List, error) {
	return s.lists.GetList(ctx, id)
}

func (s *Service) All(ctx context.Context, mt *store.MediaType) ([]store.List, error) {
	return s.lists.GetLists(ctx, mt)
}

func (s *Service) Update(ctx context.Context, l *store.List) error {
	if err := s.validate(l); err != nil {
		return err
	}
	return s.lists.UpdateList(ctx, l)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.lists.DeleteList(ctx, id)
}

func (s *Service) Items(ctx context.Context, id int64) ([]store.ListItem, error) {
	if _, err := s.lists.GetList(ctx, id); err != nil {
		return nil, err
	}
	return s.lists.GetListItems(ctx, id)
}

// Refresh re-runs the list's stored query and atomically replaces its items.
// Returns the new item count.
func (s *Service) Refresh(ctx context.Context, id int64) (int, error) {
	l, err := s.lists.GetList(ctx, id)
	if err != nil {
		return 0, err
	}
	page, err := s.discover.Run(ctx, discover.Query{
		MediaType: l.MediaType,
		Filters:   l.Filters,
		Operator:  l.FilterOperator,
		SortBy:    l.SortBy,
		Limit:     l.ItemLimit,
		Enrich:    true,
	})
	if err != nil {
		metrics.ListRefreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("refresh list %d: %w", id, err)
	}
	if err := s.lists.ReplaceListItems(ctx, id, page.Items); err != nil {
		metrics.ListRefreshes.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.ListRefreshes.WithLabelValues("ok").Inc()
	s.events.Publish(analytics.SubjectListRefreshed, "list_refreshed", map[string]any{
		"list_id": id, "items": len(page.Items),
	})
	s.log.Info("list refreshed", zap.Int64("list_id", id), zap.Int("items", len(page.Items)))
	return len(page.Items), nil
}

// Due returns the lists whose auto-refresh interval has elapsed.
func (s *Service) Due(ctx context.Context, now time.Time) ([]store.List, error) {
	return s.lists.GetDueLists(ctx, now)
}

package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
)

type Config struct {
	DefaultLogPage int
	MaxLogPage     int
}

type Service struct {
	store repository.Repos
	cfg   Config
}

func New(store repository.Repos, cfg Config) *Service {
	if cfg.DefaultLogPage <= 0 {
		cfg.DefaultLogPage = 50
	}

	if cfg.MaxLogPage <= 0 {
		cfg.MaxLogPage = 500
	}

	return &Service{
		store: store,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event to retrieve.
//
// Returns:
//   - *domain.Event: the retrieved event.
//   - error: domain.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	e, err := s.store.Events().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return e, nil
}

// ListAdminLog returns audit entries, newest first.
//
// Parameters:
//   - ctx: request-scoped context.
//   - limit: page size; zero selects the default, values above the maximum
//     are clamped.
//   - offset: number of entries to skip.
func (s *Service) ListAdminLog(ctx context.Context, limit, offset int) ([]domain.AdminLogEntry, error) {
	const op = "service.query.ListAdminLog"

	if limit <= 0 {
		limit = s.cfg.DefaultLogPage
	}
	if limit > s.cfg.MaxLogPage {
		limit = s.cfg.MaxLogPage
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.AdminLog().List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return entries, nil
}

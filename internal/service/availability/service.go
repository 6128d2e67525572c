package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/uow"
)

var ErrNoBroadcast = errors.New("availability broadcast is not configured")

type Cache interface {
	Availability(
		ctx context.Context,
		eventID int64,
		load func(ctx context.Context) (domain.AvailabilitySnapshot, error),
	) (domain.AvailabilitySnapshot, error)
	SetAvailability(ctx context.Context, snap domain.AvailabilitySnapshot) error
}

type Broadcaster interface {
	PublishAvailability(ctx context.Context, snap domain.AvailabilitySnapshot) error
	Subscribe(ctx context.Context, eventID int64, handler func(ctx context.Context, snap domain.AvailabilitySnapshot)) error
}

// Service derives event availability from the booking set. The stored
// counter, the cache and the broadcast are all recomputed from scratch, so
// every operation is idempotent.
type Service struct {
	store   repository.Transactor
	uow     *uow.UoW
	cache   Cache
	bus     Broadcaster
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// New builds the service. cache and bus may be nil.
func New(
	store repository.Transactor,
	cache Cache,
	bus Broadcaster,
	m *metrics.Metrics,
	log *slog.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:   store,
		uow:     uow.NewUoW(store),
		cache:   cache,
		bus:     bus,
		metrics: m,
		log:     log,
		now:     now,
	}
}

// SyncTx recomputes availability for eventID using tx and persists the
// counter when it drifted.
//
// Returns:
//   - domain.AvailabilitySnapshot: the recomputed values.
//   - bool: true when the stored counter was out of date.
//   - error: domain.ErrEventNotFound if the event does not exist.
func (s *Service) SyncTx(
	ctx context.Context,
	tx repository.Repos,
	eventID int64,
) (domain.AvailabilitySnapshot, bool, error) {
	const op = "service.availability.SyncTx"

	snap, stored, err := compute(ctx, tx, eventID, s.now())
	if err != nil {
		return domain.AvailabilitySnapshot{}, false, fmt.Errorf("%s:%w", op, err)
	}

	if stored == snap.AvailableSeats {
		return snap, false, nil
	}

	if err := tx.Events().SetAvailableSeats(ctx, eventID, snap.AvailableSeats); err != nil {
		return domain.AvailabilitySnapshot{}, false, fmt.Errorf("%s:%w", op, err)
	}

	return snap, true, nil
}

// Publish refreshes the cache and broadcasts snap. Failures are logged only.
func (s *Service) Publish(ctx context.Context, snap domain.AvailabilitySnapshot) {
	s.metrics.AvailableSeats(strconv.FormatInt(snap.EventID, 10), snap.AvailableSeats)

	if s.cache != nil {
		if err := s.cache.SetAvailability(ctx, snap); err != nil {
			s.log.Warn("availability cache refresh failed", "event_id", snap.EventID, "err", err)
		}
	}

	if s.bus != nil {
		if err := s.bus.PublishAvailability(ctx, snap); err != nil {
			s.log.Warn("availability broadcast failed", "event_id", snap.EventID, "err", err)
		}
	}
}

func (s *Service) SyncEventAvailability(ctx context.Context, eventID int64) (domain.AvailabilitySnapshot, error) {
	const op = "service.availability.SyncEventAvailability"

	snap, _, err := s.sync(ctx, eventID)
	if err != nil {
		return domain.AvailabilitySnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

func (s *Service) sync(ctx context.Context, eventID int64) (domain.AvailabilitySnapshot, bool, error) {
	var (
		snap     domain.AvailabilitySnapshot
		repaired bool
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		var err error
		snap, repaired, err = s.SyncTx(ctx, tx, eventID)
		if err != nil {
			return err
		}

		after(func(ctx context.Context) { s.Publish(ctx, snap) })

		return nil
	})

	return snap, repaired, err
}

// SyncAllEventsAvailability resynchronizes every event and returns the
// resulting counts. Events that fail are skipped and reported in the joined
// error; the rest are still synced. When any counter had drifted an
// availability_resync entry is written to the admin log on behalf of actor.
func (s *Service) SyncAllEventsAvailability(ctx context.Context, actor string) ([]domain.AvailabilityCount, error) {
	const op = "service.availability.SyncAllEventsAvailability"

	ids, err := s.store.Events().ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		out      = make([]domain.AvailabilityCount, 0, len(ids))
		repaired []int64
		errs     []error
	)

	for _, id := range ids {
		snap, fixed, err := s.sync(ctx, id)
		if err != nil {
			s.log.Error("availability sync failed", "event_id", id, "err", err)
			errs = append(errs, fmt.Errorf("event %d: %w", id, err))
			continue
		}
		if fixed {
			repaired = append(repaired, id)
		}
		out = append(out, snap.Count())
	}

	if len(repaired) > 0 {
		s.log.Warn("availability drift repaired", "events", repaired)
		if err := s.logResync(ctx, actor, repaired); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return out, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) logResync(ctx context.Context, actor string, repaired []int64) error {
	details, err := json.Marshal(map[string]any{"event_ids": repaired})
	if err != nil {
		return fmt.Errorf("encode resync details: %w", err)
	}

	return s.store.AdminLog().Append(ctx, &domain.AdminLogEntry{
		Action:    domain.ActionAvailabilityResync,
		Actor:     actor,
		Details:   details,
		CreatedAt: s.now(),
	})
}

// Get returns the current availability, served from the cache when one is
// configured.
func (s *Service) Get(ctx context.Context, eventID int64) (domain.AvailabilitySnapshot, error) {
	const op = "service.availability.Get"

	load := func(ctx context.Context) (domain.AvailabilitySnapshot, error) {
		snap, _, err := compute(ctx, s.store, eventID, s.now())
		return snap, err
	}

	var (
		snap domain.AvailabilitySnapshot
		err  error
	)
	if s.cache != nil {
		snap, err = s.cache.Availability(ctx, eventID, load)
	} else {
		snap, err = load(ctx)
	}
	if err != nil {
		return domain.AvailabilitySnapshot{}, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

// Watch calls fn for every broadcast snapshot of eventID until ctx is done.
func (s *Service) Watch(
	ctx context.Context,
	eventID int64,
	fn func(ctx context.Context, snap domain.AvailabilitySnapshot),
) error {
	if s.bus == nil {
		return ErrNoBroadcast
	}
	return s.bus.Subscribe(ctx, eventID, fn)
}

// compute returns the derived snapshot and the currently stored counter.
func compute(
	ctx context.Context,
	r repository.Repos,
	eventID int64,
	now time.Time,
) (domain.AvailabilitySnapshot, int64, error) {
	event, err := r.Events().Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AvailabilitySnapshot{}, 0, domain.ErrEventNotFound
		}
		return domain.AvailabilitySnapshot{}, 0, err
	}

	booked, err := r.Bookings().SumActivePartySize(ctx, eventID)
	if err != nil {
		return domain.AvailabilitySnapshot{}, 0, err
	}

	return domain.AvailabilitySnapshot{
		EventID:        eventID,
		TotalSeats:     event.TotalSeats,
		BookedSeats:    booked,
		AvailableSeats: event.TotalSeats - booked,
		ComputedAt:     now,
	}, event.AvailableSeats, nil
}

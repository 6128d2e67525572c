package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
)

type HoldRepository interface {
	Create(ctx context.Context, h *domain.Hold) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Hold, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByCustomer(ctx context.Context, eventID int64, customerRef string) (int64, error)
	// ListActive returns holds for the event started after since. A nil
	// tableID selects every hold of the event.
	ListActive(ctx context.Context, eventID int64, tableID *int64, since time.Time) ([]domain.Hold, error)
	DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error)
}

type BookingRepository interface {
	// Create inserts the booking. ErrConflict is returned when the storage
	// uniqueness guards (one active booking per table, one booking per
	// payment reference) reject it.
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindByPaymentRef(ctx context.Context, ref string) (*domain.Booking, error)
	ActiveForTable(ctx context.Context, eventID, tableID int64) (*domain.Booking, error)
	SumActivePartySize(ctx context.Context, eventID int64) (int64, error)
	// ActiveSeats returns the seat numbers of non-terminal bookings of the
	// event that have no table.
	ActiveSeats(ctx context.Context, eventID int64) ([]int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, refundAmount int64, at time.Time) error
	UpdateTable(ctx context.Context, id uuid.UUID, tableID int64, tableLabel string, status domain.BookingStatus, at time.Time) error
}

type EventRepository interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
	ListIDs(ctx context.Context) ([]int64, error)
	SetAvailableSeats(ctx context.Context, id int64, available int64) error
	GetTable(ctx context.Context, id int64) (*domain.Table, error)
	HasAccess(ctx context.Context, eventID int64, customerRef string) (bool, error)
}

type WebhookEventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Insert records the event as processed. ErrConflict means another
	// delivery recorded it first.
	Insert(ctx context.Context, e domain.ProcessedWebhookEvent) error
}

type AdminLogRepository interface {
	Append(ctx context.Context, e *domain.AdminLogEntry) error
	List(ctx context.Context, limit, offset int) ([]domain.AdminLogEntry, error)
	// HasPaymentRefs reports whether an entry with action was recorded for
	// any of refs.
	HasPaymentRefs(ctx context.Context, action domain.AdminAction, refs []string) (bool, error)
}

// Repos groups the repositories bound to one handle: the pool or a single
// transaction.
type Repos interface {
	Holds() HoldRepository
	Bookings() BookingRepository
	Events() EventRepository
	Webhooks() WebhookEventRepository
	AdminLog() AdminLogRepository
}

// Transactor runs fn with repositories bound to one serializable
// transaction. The transaction is rolled back when fn returns an error and
// may be retried on serialization failures, so fn must be safe to re-run.
type Transactor interface {
	Repos
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

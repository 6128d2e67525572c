package service

import (
	"log/slog"
	"time"

	"github.com/kirinyoku/seatledger/internal/metrics"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/service/availability"
	"github.com/kirinyoku/seatledger/internal/service/booking"
	"github.com/kirinyoku/seatledger/internal/service/ledger"
	"github.com/kirinyoku/seatledger/internal/service/query"
	"github.com/kirinyoku/seatledger/internal/service/recovery"
	"github.com/kirinyoku/seatledger/internal/service/webhook"
	"github.com/kirinyoku/seatledger/internal/validation"
)

type Services struct {
	Ledger       *ledger.Service
	Bookings     *booking.Service
	Availability *availability.Service
	Webhooks     *webhook.Processor
	Recovery     *recovery.Service
	Query        *query.Service
}

// Deps are the adapters the services run on. Every field except Store and
// Validator may be nil.
type Deps struct {
	Store     repository.Transactor
	Validator *validation.Validator
	Cache     availability.Cache
	Broadcast availability.Broadcaster
	Events    booking.EventPublisher
	Limiter   ledger.Limiter
	Parser    webhook.Parser
	Sessions  recovery.SessionFetcher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewServices(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	avail := availability.New(d.Store, d.Cache, d.Broadcast, d.Metrics,
		d.Logger.With("component", "availability"), d.Now)
	bookings := booking.New(d.Store, d.Validator, avail, d.Events, d.Metrics,
		d.Logger.With("component", "booking"))

	return &Services{
		Ledger: ledger.New(d.Store, d.Validator, d.Limiter, d.Metrics,
			d.Logger.With("component", "ledger")),
		Bookings:     bookings,
		Availability: avail,
		Webhooks: webhook.NewProcessor(d.Parser, d.Store, bookings, d.Metrics,
			d.Logger.With("component", "webhook"), d.Now),
		Recovery: recovery.New(d.Sessions, bookings, d.Logger.With("component", "recovery")),
		Query:    query.New(d.Store, query.Config{}),
	}
}

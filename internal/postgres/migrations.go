package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the ledger schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	const op = "postgres.Migrate"

	migrations := []string{
		createVenuesTable,
		createVenueTablesTable,
		createEventsTable,
		createEventAccessTable,
		createHoldsTable,
		createHoldsIndex,
		createBookingsTable,
		createBookingsActiveTableIndex,
		createBookingsSessionIndex,
		createBookingsPaymentIndex,
		createBookingsEventIndex,
		createProcessedWebhookEventsTable,
		createAdminLogTable,
		addAdminLogPaymentRefs,
		createAdminLogPaymentRefsIndex,
		createAdminLogNoUpdateRule,
		createAdminLogNoDeleteRule,
	}

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("%s: step %d: %w", op, i+1, err)
		}
	}

	logger.Info("schema migrated", "steps", len(migrations))

	return nil
}

const createVenuesTable = `
CREATE TABLE IF NOT EXISTS venues (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);`

const createVenueTablesTable = `
CREATE TABLE IF NOT EXISTS venue_tables (
    id       BIGSERIAL PRIMARY KEY,
    venue_id BIGINT NOT NULL REFERENCES venues(id),
    label    TEXT NOT NULL,
    capacity INT NOT NULL CHECK (capacity > 0),
    UNIQUE (venue_id, label)
);`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id                 BIGSERIAL PRIMARY KEY,
    venue_id           BIGINT NOT NULL REFERENCES venues(id),
    title              TEXT NOT NULL,
    starts_at          TIMESTAMPTZ NOT NULL,
    total_seats        BIGINT NOT NULL CHECK (total_seats >= 0),
    available_seats    BIGINT NOT NULL DEFAULT 0,
    ticket_cutoff_days INT NOT NULL DEFAULT 0,
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    is_private         BOOLEAN NOT NULL DEFAULT FALSE,
    ticket_only        BOOLEAN NOT NULL DEFAULT FALSE
);`

const createEventAccessTable = `
CREATE TABLE IF NOT EXISTS event_access (
    event_id     BIGINT NOT NULL REFERENCES events(id),
    customer_ref TEXT NOT NULL,
    PRIMARY KEY (event_id, customer_ref)
);`

const createHoldsTable = `
CREATE TABLE IF NOT EXISTS holds (
    id              UUID PRIMARY KEY,
    event_id        BIGINT NOT NULL REFERENCES events(id),
    table_id        BIGINT REFERENCES venue_tables(id),
    seat_numbers    INT[] NOT NULL DEFAULT '{}',
    party_size      INT NOT NULL CHECK (party_size > 0),
    customer_ref    TEXT NOT NULL,
    hold_start_time TIMESTAMPTZ NOT NULL
);`

const createHoldsIndex = `
CREATE INDEX IF NOT EXISTS holds_event_table_start_idx
    ON holds (event_id, table_id, hold_start_time);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id                UUID PRIMARY KEY,
    event_id          BIGINT NOT NULL REFERENCES events(id),
    table_id          BIGINT REFERENCES venue_tables(id),
    table_label       TEXT NOT NULL DEFAULT '',
    seat_numbers      INT[] NOT NULL DEFAULT '{}',
    party_size        INT NOT NULL CHECK (party_size > 0),
    customer_email    TEXT NOT NULL,
    status            TEXT NOT NULL CHECK (status IN ('pending','confirmed','modified','refunded','canceled')),
    stripe_session_id TEXT NOT NULL DEFAULT '',
    stripe_payment_id TEXT NOT NULL DEFAULT '',
    amount            BIGINT NOT NULL DEFAULT 0,
    food_selections   JSONB NOT NULL DEFAULT '[]',
    wine_selections   JSONB NOT NULL DEFAULT '[]',
    guest_names       JSONB NOT NULL DEFAULT '[]',
    refund_amount     BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_modified     TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// At most one non-terminal booking per (event, table).
const createBookingsActiveTableIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS bookings_one_active_per_table
    ON bookings (event_id, table_id)
    WHERE table_id IS NOT NULL AND status IN ('confirmed','modified');`

const createBookingsSessionIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS bookings_stripe_session_uq
    ON bookings (stripe_session_id)
    WHERE stripe_session_id <> '';`

const createBookingsPaymentIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS bookings_stripe_payment_uq
    ON bookings (stripe_payment_id)
    WHERE stripe_payment_id <> '';`

const createBookingsEventIndex = `
CREATE INDEX IF NOT EXISTS bookings_event_status_idx
    ON bookings (event_id, status);`

const createProcessedWebhookEventsTable = `
CREATE TABLE IF NOT EXISTS processed_webhook_events (
    event_id     TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createAdminLogTable = `
CREATE TABLE IF NOT EXISTS admin_log (
    id           BIGSERIAL PRIMARY KEY,
    action       TEXT NOT NULL,
    actor        TEXT NOT NULL,
    booking_id   UUID,
    event_id     BIGINT,
    payment_refs TEXT[] NOT NULL DEFAULT '{}',
    details      JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const addAdminLogPaymentRefs = `
ALTER TABLE admin_log ADD COLUMN IF NOT EXISTS payment_refs TEXT[] NOT NULL DEFAULT '{}';`

const createAdminLogPaymentRefsIndex = `
CREATE INDEX IF NOT EXISTS admin_log_payment_refs_idx
    ON admin_log USING GIN (payment_refs);`

const createAdminLogNoUpdateRule = `
CREATE OR REPLACE RULE admin_log_no_update AS
    ON UPDATE TO admin_log DO INSTEAD NOTHING;`

const createAdminLogNoDeleteRule = `
CREATE OR REPLACE RULE admin_log_no_delete AS
    ON DELETE TO admin_log DO INSTEAD NOTHING;`

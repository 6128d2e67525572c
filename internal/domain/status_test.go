package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    BookingStatus
		to      BookingStatus
		changed bool
		wantErr bool
	}{
		{"pending to confirmed", StatusPending, StatusConfirmed, true, false},
		{"confirmed to modified", StatusConfirmed, StatusModified, true, false},
		{"confirmed to refunded", StatusConfirmed, StatusRefunded, true, false},
		{"confirmed to canceled", StatusConfirmed, StatusCanceled, true, false},
		{"modified back to confirmed", StatusModified, StatusConfirmed, true, false},
		{"modified to refunded", StatusModified, StatusRefunded, true, false},
		{"refunded again is no-op", StatusRefunded, StatusRefunded, false, false},
		{"canceled then refunded is no-op", StatusCanceled, StatusRefunded, false, false},
		{"refunded cannot be confirmed", StatusRefunded, StatusConfirmed, false, true},
		{"pending cannot be refunded", StatusPending, StatusRefunded, false, true},
		{"confirmed to confirmed", StatusConfirmed, StatusConfirmed, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := Transition(tt.from, tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestBookingStatus_Occupies(t *testing.T) {
	assert.True(t, StatusConfirmed.Occupies())
	assert.True(t, StatusModified.Occupies())
	assert.False(t, StatusPending.Occupies())
	assert.False(t, StatusRefunded.Occupies())
	assert.False(t, StatusCanceled.Occupies())
}

func TestHold_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	timeout := 20 * time.Minute

	expired := Hold{HoldStartTime: now.Add(-20*time.Minute - time.Second)}
	assert.True(t, expired.ExpiredAt(now, timeout))

	live := Hold{HoldStartTime: now.Add(-19*time.Minute - 59*time.Second)}
	assert.False(t, live.ExpiredAt(now, timeout))

	exact := Hold{HoldStartTime: now.Add(-20 * time.Minute)}
	assert.False(t, exact.ExpiredAt(now, timeout))
}

func TestNewBookingEvent_UsesTableLabel(t *testing.T) {
	tableID := int64(286)
	b := Booking{EventID: 35, TableID: &tableID, TableLabel: "T12", PartySize: 2}

	ev := NewBookingEvent(BookingConfirmed, b, time.Now())

	assert.Equal(t, "T12", ev.TableLabel)
	assert.Equal(t, int64(35), ev.EventID)
}

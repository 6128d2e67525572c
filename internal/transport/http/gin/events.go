package httpgin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/service"
	"github.com/kirinyoku/seatledger/internal/service/availability"
)

// @Summary  Get event
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /api/events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60")
	}
}

// @Summary  Get availability
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.AvailabilitySnapshot
// @Failure  404  {object}  ErrorResponse
// @Router   /api/events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		snap, err := svcs.Availability.Get(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, snap, "public, max-age=5")
	}
}

// @Summary  Stream availability updates (SSE)
// @Param    id  path  int  true  "Event ID"
// @Produce  text/event-stream
// @Success  200  {object}  domain.AvailabilitySnapshot
// @Router   /api/events/{id}/availability/stream [get]
func handleAvailabilityStream(svcs *service.Services, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		ctx := c.Request.Context()

		snap, err := svcs.Availability.Get(ctx, eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		updates := make(chan domain.AvailabilitySnapshot, 16)
		watchErr := make(chan error, 1)
		go func() {
			watchErr <- svcs.Availability.Watch(ctx, eventID, func(_ context.Context, s domain.AvailabilitySnapshot) {
				select {
				case updates <- s:
				default:
					// slow client; it gets the next snapshot
				}
			})
		}()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("availability", snap)
		c.Writer.Flush()

		c.Stream(func(io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case err := <-watchErr:
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, availability.ErrNoBroadcast) {
					logger.Warn("availability stream ended", "event_id", eventID, "err", err)
				}
				return false
			case s := <-updates:
				c.SSEvent("availability", s)
				return true
			}
		})
	}
}

// @Summary  Check whether seats are held or booked
// @Param    id        path   int     true   "Event ID"
// @Param    tableId   query  int     false  "Table ID"
// @Param    seats     query  string  false  "comma separated seat numbers"
// @Success  200  {object}  OccupancyResponse
// @Router   /api/events/{id}/occupancy [get]
func handleOccupancy(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		var tableID *int64
		if raw := c.Query("tableId"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v <= 0 {
				badRequest(c, "invalid tableId")
				return
			}
			tableID = &v
		}

		seats, err := parseIntList(c.Query("seats"))
		if err != nil {
			badRequest(c, "invalid seats")
			return
		}

		blocked, err := svcs.Ledger.IsHeldOrBooked(c.Request.Context(), eventID, tableID, seats, zeroTime)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, OccupancyResponse{
			EventID:      eventID,
			TableID:      tableID,
			SeatNumbers:  seats,
			HeldOrBooked: blocked,
		})
	}
}

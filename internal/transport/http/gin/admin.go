package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/service"
)

// @Summary  Recover a booking from a paid checkout session
// @Security BearerAuth
// @Param    req body  RecoverBookingRequest true "payload"
// @Success  200 {object} RecoverBookingResponse
// @Failure  409 {object} ErrorResponse "table unavailable"
// @Failure  422 {object} ErrorResponse "session not paid"
// @Router   /api/admin/recover-booking [post]
func handleRecoverBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecoverBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		out, err := svcs.Recovery.Recover(c.Request.Context(), req.SessionID, actorFrom(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		if out.Conflict != nil {
			respondErr(c, out.Conflict)
			return
		}

		status := http.StatusCreated
		if out.Existing {
			status = http.StatusOK
		}
		c.JSON(status, RecoverBookingResponse{Booking: out.Booking, Existing: out.Existing})
	}
}

// @Summary  Recompute availability for every event
// @Security BearerAuth
// @Success  200 {object} SyncReport
// @Failure  500 {object} SyncReport "partial"
// @Router   /api/admin/sync-all-availability [post]
func handleSyncAllAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snaps, err := svcs.Availability.SyncAllEventsAvailability(c.Request.Context(), actorFrom(c))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, SyncReport{Events: snaps, Error: "some events failed to sync"})
			return
		}
		c.JSON(http.StatusOK, SyncReport{Events: snaps})
	}
}

// @Summary  Cancel booking
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  CancelBookingRequest false "payload"
// @Success  200 {object} ReleaseResponse
// @Router   /api/admin/bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		var req CancelBookingRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				bindError(c, err)
				return
			}
		}

		out, err := svcs.Bookings.Cancel(c.Request.Context(), id, actorFrom(c), req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReleaseResponse{Booking: out.Booking, Changed: out.Changed})
	}
}

// @Summary  Move booking to another table
// @Security BearerAuth
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Param    req body  ReassignBookingRequest true "payload"
// @Success  200 {object} domain.Booking
// @Failure  409 {object} ErrorResponse
// @Router   /api/admin/bookings/{id}/reassign [post]
func handleReassignBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		var req ReassignBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		b, err := svcs.Bookings.Reassign(c.Request.Context(), id, req.TableID, actorFrom(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Record a refund issued outside the webhook flow
// @Security BearerAuth
// @Param    req body  RefundRequest true "payload"
// @Success  200 {object} ReleaseResponse
// @Failure  404 {object} ErrorResponse
// @Router   /api/admin/refunds [post]
func handleRefund(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		out, err := svcs.Bookings.Refund(c.Request.Context(), req.PaymentRef, req.Amount, actorFrom(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ReleaseResponse{Booking: out.Booking, Changed: out.Changed})
	}
}

// @Summary  List admin log
// @Security BearerAuth
// @Param    limit  query  int  false  "page size"
// @Param    offset query  int  false  "offset"
// @Success  200 {array} domain.AdminLogEntry
// @Router   /api/admin/log [get]
func handleAdminLog(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		entries, err := svcs.Query.ListAdminLog(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		if entries == nil {
			c.JSON(http.StatusOK, []any{})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

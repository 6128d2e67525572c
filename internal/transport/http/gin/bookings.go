package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/service"
	"github.com/kirinyoku/seatledger/internal/service/booking"
)

// @Summary  Create booking without checkout
// @Security BearerAuth
// @Param    req body  CreateBookingRequest true "payload"
// @Success  201 {object} domain.Booking
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "table unavailable"
// @Router   /api/bookings [post]
func handleCreateBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}

		b, err := svcs.Bookings.CreateDirect(c.Request.Context(), booking.CreateInput{
			EventID:        req.EventID,
			TableID:        req.TableID,
			SeatNumbers:    req.SeatNumbers,
			PartySize:      req.partySize(),
			CustomerEmail:  req.CustomerEmail,
			Amount:         req.Amount,
			FoodSelections: req.FoodSelections,
			WineSelections: req.WineSelections,
			GuestNames:     req.GuestNames,
			Actor:          actorFrom(c),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Router   /api/bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		b, err := svcs.Bookings.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, b)
	}
}

package httpgin

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/seatledger/internal/service"
)

// @Summary  Stripe webhook
// @Param    Stripe-Signature  header  string  true  "signature"
// @Success  200 {object} WebhookResponse
// @Failure  400 {object} ErrorResponse "bad signature or payload"
// @Failure  500 {object} ErrorResponse "retry later"
// @Router   /api/stripe-webhook [post]
func handleStripeWebhook(svcs *service.Services, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBytes+1))
		if err != nil {
			badRequest(c, "unreadable body")
			return
		}
		if int64(len(body)) > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}

		res, err := svcs.Webhooks.Process(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := WebhookResponse{
			Received:  true,
			EventID:   res.EventID,
			Type:      res.Type,
			Duplicate: res.Duplicate,
			Outcome:   res.Outcome,
		}
		if res.BookingID != nil {
			resp.BookingID = res.BookingID.String()
		}
		c.JSON(http.StatusOK, resp)
	}
}

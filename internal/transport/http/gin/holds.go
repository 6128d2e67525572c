package httpgin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redisrepo "github.com/kirinyoku/seatledger/internal/repository/redis"
	"github.com/kirinyoku/seatledger/internal/service"
	"github.com/kirinyoku/seatledger/internal/service/ledger"
)

const idemLockTTL = 60 * time.Second

var zeroTime time.Time

// @Summary  Create hold (idempotent)
// @Param    id  path  int  true  "Event ID"
// @Param    req body  CreateHoldRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} HoldResponse
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse "private event"
// @Failure  409 {object} ErrorResponse "seats unavailable / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /api/events/{id}/holds [post]
func handleCreateHold(svcs *service.Services, idem Idempotency) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		ctx := c.Request.Context()

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemHold(eventID, idemKey)

			payload, done, claimed, err := idem.Begin(ctx, idemStorageKey, idemLockTTL)
			if err != nil {
				respondErr(c, err)
				return
			}
			if done {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}
			if !claimed {
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		hold, err := svcs.Ledger.PlaceHold(ctx, ledger.PlaceHoldInput{
			EventID:     eventID,
			TableID:     req.TableID,
			SeatNumbers: req.SeatNumbers,
			PartySize:   req.partySize(),
			CustomerRef: req.CustomerRef,
			RateKey:     "ip:" + c.ClientIP(),
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(ctx, idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := newHoldResponse(hold, svcs.Ledger.HoldTimeout())

		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(ctx, idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Release hold
// @Param    id  path  string  true  "Hold ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Router   /api/holds/{id} [delete]
func handleReleaseHold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		holdID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid id")
			return
		}
		if _, err := svcs.Ledger.ReleaseHold(c.Request.Context(), holdID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

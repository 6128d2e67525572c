package httpgin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/kirinyoku/seatledger/internal/domain"
	"github.com/kirinyoku/seatledger/internal/repository"
	"github.com/kirinyoku/seatledger/internal/service/availability"
	"github.com/kirinyoku/seatledger/internal/service/ledger"
	"github.com/kirinyoku/seatledger/internal/service/recovery"
)

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

var registerJSONNames sync.Once

// useJSONFieldNames makes binding errors report the JSON key of a field
// instead of its Go name.
func useJSONFieldNames() {
	registerJSONNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindError reports a request body that failed to decode or validate.
func bindError(c *gin.Context, err error) {
	var (
		fields    validator.ValidationErrors
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
	)

	switch {
	case errors.As(err, &fields) && len(fields) > 0:
		fe := fields[0]
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error: fieldMessage(fe),
			Field: fe.Field(),
		})
	case errors.As(err, &typeErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type),
			Field: typeErr.Field,
		})
	case errors.As(err, &syntaxErr):
		badRequest(c, "malformed JSON body")
	default:
		badRequest(c, "invalid request body")
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
		he *domain.HoldConflictError
		re *ledger.RateLimitError
	)

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, domain.ErrAuthenticity):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "table unavailable", Conflict: ce})
	case errors.As(err, &he):
		c.JSON(http.StatusConflict, ErrorResponse{Error: he.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking status does not allow this change"})
	case errors.As(err, &re):
		c.Header("Retry-After", strconv.Itoa(retrySeconds(re)))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	case errors.Is(err, domain.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, domain.ErrTableNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "table not found"})
	case errors.Is(err, domain.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	case errors.Is(err, domain.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "hold not found"})
	case errors.Is(err, domain.ErrAccessDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "event is private"})
	case errors.Is(err, recovery.ErrSessionNotPaid):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "checkout session is not paid"})
	case errors.Is(err, recovery.ErrUnavailable),
		errors.Is(err, availability.ErrNoBroadcast),
		errors.Is(err, repository.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	if c.Writer.Status() >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
}

func retrySeconds(e *ledger.RateLimitError) int {
	s := int(e.RetryAfter.Seconds())
	if s < 1 {
		return 1
	}
	return s
}

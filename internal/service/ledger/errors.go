package ledger

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimited = errors.New("too many hold requests")

// RateLimitError tells the client when it may try again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

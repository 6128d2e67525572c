package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "seatledger:v1:event:35:availability", KeyEventAvailability(35))
	assert.Equal(t, "seatledger:v1:rl:holds:10.0.0.1", KeyRateLimit("holds", "10.0.0.1"))
	assert.Equal(t, "seatledger:v1:idem:holds:35:abc", KeyIdemHold(35, "abc"))
	assert.NotEqual(t, ChannelAvailability(), ChannelBookingEvents())
}

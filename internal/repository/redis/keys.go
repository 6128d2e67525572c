package redis

import "fmt"

const ns = "seatledger:v1"

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemHold(eventID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:holds:%d:%s", ns, eventID, idemKey)
}

func ChannelAvailability() string {
	return ns + ":availability:changed"
}

func ChannelBookingEvents() string {
	return ns + ":bookings:events"
}

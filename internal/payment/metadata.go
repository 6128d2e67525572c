package payment

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kirinyoku/seatledger/internal/domain"
)

// Checkout metadata keys written when the session is created.
const (
	MetaEventID        = "event_id"
	MetaTableID        = "table_id"
	MetaTableLabel     = "table_label"
	MetaSeatNumbers    = "seat_numbers"
	MetaPartySize      = "party_size"
	MetaCustomerEmail  = "customer_email"
	MetaFoodSelections = "food_selections"
	MetaWineSelections = "wine_selections"
	MetaGuestNames     = "guest_names"
	MetaHoldID         = "hold_id"
)

// BookingMetadata is the reservation described by checkout metadata.
type BookingMetadata struct {
	EventID        int64
	TableID        *int64
	TableLabel     string
	SeatNumbers    []int
	PartySize      int
	CustomerEmail  string
	FoodSelections []domain.FoodSelection
	WineSelections []domain.WineSelection
	GuestNames     []string
	HoldID         *uuid.UUID
}

// OwnedByEngine reports whether the payment was created for an engine
// booking. Foreign payments carry no event_id.
func OwnedByEngine(md map[string]string) bool {
	return strings.TrimSpace(md[MetaEventID]) != ""
}

// ParseBookingMetadata decodes checkout metadata. Malformed values are
// reported as *domain.ValidationError naming the key.
func ParseBookingMetadata(md map[string]string) (BookingMetadata, error) {
	var out BookingMetadata

	eventID, err := strconv.ParseInt(strings.TrimSpace(md[MetaEventID]), 10, 64)
	if err != nil || eventID <= 0 {
		return out, domain.NewValidationError(MetaEventID, "must be a positive integer")
	}
	out.EventID = eventID

	if raw := strings.TrimSpace(md[MetaTableID]); raw != "" {
		tableID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tableID <= 0 {
			return out, domain.NewValidationError(MetaTableID, "must be a positive integer")
		}
		out.TableID = &tableID
	}
	out.TableLabel = strings.TrimSpace(md[MetaTableLabel])

	if raw := strings.TrimSpace(md[MetaSeatNumbers]); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return out, domain.NewValidationError(MetaSeatNumbers, "must be a comma separated list of integers")
			}
			out.SeatNumbers = append(out.SeatNumbers, n)
		}
	}

	if raw := strings.TrimSpace(md[MetaPartySize]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return out, domain.NewValidationError(MetaPartySize, "must be an integer")
		}
		out.PartySize = n
	} else {
		out.PartySize = len(out.SeatNumbers)
	}

	out.CustomerEmail = strings.TrimSpace(md[MetaCustomerEmail])

	if err := decodeJSON(md, MetaFoodSelections, &out.FoodSelections); err != nil {
		return out, err
	}
	if err := decodeJSON(md, MetaWineSelections, &out.WineSelections); err != nil {
		return out, err
	}
	if err := decodeJSON(md, MetaGuestNames, &out.GuestNames); err != nil {
		return out, err
	}

	if raw := strings.TrimSpace(md[MetaHoldID]); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return out, domain.NewValidationError(MetaHoldID, "must be a uuid")
		}
		out.HoldID = &id
	}

	return out, nil
}

// EncodeBookingMetadata is the inverse of ParseBookingMetadata.
func EncodeBookingMetadata(m BookingMetadata) map[string]string {
	md := map[string]string{
		MetaEventID:   strconv.FormatInt(m.EventID, 10),
		MetaPartySize: strconv.Itoa(m.PartySize),
	}
	if m.TableID != nil {
		md[MetaTableID] = strconv.FormatInt(*m.TableID, 10)
	}
	if m.TableLabel != "" {
		md[MetaTableLabel] = m.TableLabel
	}
	if len(m.SeatNumbers) > 0 {
		parts := make([]string, len(m.SeatNumbers))
		for i, n := range m.SeatNumbers {
			parts[i] = strconv.Itoa(n)
		}
		md[MetaSeatNumbers] = strings.Join(parts, ",")
	}
	if m.CustomerEmail != "" {
		md[MetaCustomerEmail] = m.CustomerEmail
	}
	if len(m.FoodSelections) > 0 {
		b, _ := json.Marshal(m.FoodSelections)
		md[MetaFoodSelections] = string(b)
	}
	if len(m.WineSelections) > 0 {
		b, _ := json.Marshal(m.WineSelections)
		md[MetaWineSelections] = string(b)
	}
	if len(m.GuestNames) > 0 {
		b, _ := json.Marshal(m.GuestNames)
		md[MetaGuestNames] = string(b)
	}
	if m.HoldID != nil {
		md[MetaHoldID] = m.HoldID.String()
	}
	return md
}

func decodeJSON(md map[string]string, key string, dst any) error {
	raw := strings.TrimSpace(md[key])
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return domain.NewValidationError(key, "must be valid JSON")
	}
	return nil
}

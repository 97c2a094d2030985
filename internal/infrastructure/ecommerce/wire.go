package ecommerce

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marketsync/backend/internal/domain/integration"
)

// timestampLayouts are the formats providers use for resource timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp parses a provider timestamp; zone-less values are read as UTC.
// It returns the zero time when nothing matches.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// unixTime converts epoch seconds, mapping 0 to the zero time
func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// orNow substitutes the current time for a zero timestamp
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// decodeWebhookBody unmarshals a webhook body, mapping syntax errors to ErrMalformedPayload
func decodeWebhookBody(body []byte, out any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", integration.ErrMalformedPayload)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrMalformedPayload, err)
	}
	return nil
}

// minorUnits parses a decimal amount string, treating an empty string as zero
func minorUnits(amount, currency string) (int64, error) {
	if strings.TrimSpace(amount) == "" {
		return 0, nil
	}
	v, err := integration.ParseMinorUnits(amount, currency)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", integration.ErrPlatformInvalidResponse, amount, err)
	}
	return v, nil
}

// ensureWebhookEvent checks the correlation fields every parsed event must carry
func ensureWebhookEvent(ev *integration.WebhookEvent) (*integration.WebhookEvent, error) {
	if ev.ResourceKind != integration.ResourceUninstall && ev.ResourceKind != integration.ResourceCatalog && ev.ResourceID == "" {
		return nil, fmt.Errorf("%w: %s event without resource id", integration.ErrMalformedPayload, ev.Topic)
	}
	if ev.EventID == "" {
		ev.EventID = integration.CompositeEventID(ev.Topic, ev.ResourceID, ev.OccurredAt)
	}
	return ev, nil
}

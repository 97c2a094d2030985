package integration

import (
	"context"
	"net/http"
	"time"
)

// ArchivedPayload is a webhook body kept for later inspection.
// Only non-secret headers are retained.
type ArchivedPayload struct {
	Marketplace Marketplace
	Reason      ErrorKind
	Topic       string
	EventID     string
	Headers     http.Header
	Body        []byte
	ReceivedAt  time.Time
}

// PayloadArchive stores malformed or failed webhook payloads out of the request path
type PayloadArchive interface {
	// Archive stores the payload and returns its object key
	Archive(ctx context.Context, p ArchivedPayload) (string, error)
}

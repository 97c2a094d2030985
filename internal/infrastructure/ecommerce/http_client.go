package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/marketsync/backend/internal/domain/integration"
)

// apiClient is the REST client shared by every adapter.
// It retries 429 and 5xx responses and maps failures onto the integration error sentinels.
type apiClient struct {
	marketplace integration.Marketplace
	rc          *resty.Client
}

func newAPIClient(m integration.Marketplace, cfg ProviderConfig) *apiClient {
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", "marketsync/1.0").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &apiClient{marketplace: m, rc: rc}
}

// httpClient exposes the underlying transport for the OAuth token exchange
func (c *apiClient) httpClient() *http.Client {
	return c.rc.GetClient()
}

// request starts a request bound to ctx
func (c *apiClient) request(ctx context.Context) *resty.Request {
	return c.rc.R().SetContext(ctx)
}

// do executes the request and decodes a 2xx JSON body into out (when non-nil)
func (c *apiClient) do(req *resty.Request, method, url string, out any) (*resty.Response, error) {
	resp, err := req.Execute(method, url)
	if err := c.classify(resp, err); err != nil {
		return resp, err
	}
	if out == nil || len(resp.Body()) == 0 {
		return resp, nil
	}
	if len(resp.Body()) > maxResponseSize {
		return resp, fmt.Errorf("%w: %s response exceeds %d bytes", integration.ErrPlatformInvalidResponse, c.marketplace, maxResponseSize)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return resp, fmt.Errorf("%w: %s: %v", integration.ErrPlatformInvalidResponse, c.marketplace, err)
	}
	return resp, nil
}

// classify turns a transport error or non-2xx status into a sentinel-wrapped error.
// Response bodies are not included: some providers echo credentials in error payloads.
func (c *apiClient) classify(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s: %w", integration.ErrPlatformUnavailable, c.marketplace, err)
		}
		return fmt.Errorf("%w: %s: %v", integration.ErrPlatformUnavailable, c.marketplace, err)
	}
	return statusError(c.marketplace, resp.StatusCode())
}

// statusError maps an HTTP status to the integration error taxonomy; 2xx and 3xx yield nil
func statusError(m integration.Marketplace, status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformAuthFailed, m, status)
	case status == http.StatusNotFound, status == http.StatusGone:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrResourceNotFound, m, status)
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformUnavailable, m, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformRateLimited, m, status)
	case status >= 500:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformUnavailable, m, status)
	default:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformRequestFailed, m, status)
	}
}

// nextLink extracts the rel="next" URL from an RFC 8288 Link header
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, attr := range segments[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/EnrollSync/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.stripe.com"

// ProviderClient fetches provider objects needed to complete partial payloads.
type ProviderClient interface {
	RetrieveInvoice(ctx context.Context, invoiceID string, expand []string) (*InvoicePayload, error)
}

type HTTPProviderClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewProviderClientFromEnv returns nil when no secret key is configured, which
// disables invoice re-fetching.
func NewProviderClientFromEnv() *HTTPProviderClient {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil
	}
	return &HTTPProviderClient{
		SecretKey:  key,
		APIBaseURL: strings.TrimSpace(env.GetEnv("BILLING_PROVIDER_API_BASE", defaultProviderAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// RetrieveInvoice loads the full invoice. Network errors, 429 and 5xx
// responses wrap ErrProviderTransient.
func (c *HTTPProviderClient) RetrieveInvoice(ctx context.Context, invoiceID string, expand []string) (*InvoicePayload, error) {
	id := strings.TrimSpace(invoiceID)
	if id == "" {
		return nil, ErrMissingInvoiceID
	}

	baseURL := strings.TrimRight(c.APIBaseURL, "/")
	u, err := url.Parse(baseURL + "/v1/invoices/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for _, e := range expand {
		q.Add("expand[]", e)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProviderTransient, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: invoice request failed: status=%d", ErrProviderTransient, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invoice request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	inv, err := normalizeInvoice(body)
	if err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, errors.New("invoice response without id")
	}
	return inv, nil
}

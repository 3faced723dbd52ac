// Package clients holds the synchronous HTTP clients the order service uses to
// reach inventory and payment. Every call runs under a resilience.Policy.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/andreasstove999/order-fulfillment/internal/httpx"
	"github.com/andreasstove999/order-fulfillment/internal/logging"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

type Client struct {
	Name    string
	BaseURL *url.URL
	HTTP    *http.Client
}

func NewClient(name, baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url %q: %w", name, baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Name: name, BaseURL: u, HTTP: httpClient}, nil
}

// StatusError is a non-2xx answer from a downstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Message)
}

// Do sends body as JSON and decodes a 2xx response into out. 4xx answers are
// returned as permanent errors so the policy neither retries them nor counts
// them against the breaker.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	rel := &url.URL{Path: path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.BaseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("marshal %s request: %w", c.Name, err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cid := logging.CorrelationID(ctx); cid != "" {
		req.Header.Set(httpx.HeaderCorrelationID, cid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.Name, method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", c.Name, err)
		}
		return nil
	}

	statusErr := &StatusError{Service: c.Name, StatusCode: res.StatusCode, Message: errorMessage(res.Body)}
	if res.StatusCode >= 400 && res.StatusCode < 500 {
		return resilience.Permanent(statusErr)
	}
	return statusErr
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(raw))
}

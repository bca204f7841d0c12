package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"cargolink/internal/app"
	billingstore "cargolink/internal/billing/store"
	cachestore "cargolink/internal/cache/store"
	"cargolink/internal/platform/config"
	"cargolink/internal/platform/tracer"
	authmw "cargolink/pkg/platform/middleware/auth"
	"cargolink/pkg/testutil"
)

// TestContext holds state between test steps
type TestContext struct {
	Marketplace *Marketplace
	Billing     *billingstore.Memory
	Server      *httptest.Server
	HTTPClient  *http.Client

	LastResponse     *http.Response
	LastResponseBody []byte
}

// NewTestContext starts the fake marketplace and the service in front of it.
func NewTestContext() *TestContext {
	market := NewMarketplace()
	billing := billingstore.NewMemory()

	cfg := config.Server{
		Environment: "test",
		CargoTech: config.CargoTechConfig{
			BaseURL:       market.URL(),
			Phone:         "+7 999 000-12-34",
			Password:      "e2e-password",
			TokenTTL:      time.Hour,
			HTTPTimeout:   2 * time.Second,
			RateLimit:     config.DefaultRateLimit,
			RetryAttempts: config.DefaultRetryAttempts,
			RetryBase:     time.Millisecond,
			RetryJitter:   time.Millisecond,
			WebhookSecret: testutil.WebhookSecret,
		},
		Cache: config.CacheConfig{
			ListTTL:      config.DefaultListTTL,
			DetailTTL:    config.DefaultDetailTTL,
			ReferenceTTL: config.DefaultReferenceTTL,
			StaleGrace:   config.DefaultStaleGrace,
		},
		Billing: config.BillingConfig{
			WebhookSecret:         testutil.WebhookSecret,
			AccessTokenSigningKey: "e2e-signing-key",
			PlanDuration:          config.DefaultPlanDuration,
		},
	}

	service := app.New(cfg, app.Backends{
		CacheStore:   cachestore.NewMemory(),
		BillingStore: billing,
		Tracer:       tracer.NewNoop(),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &TestContext{
		Marketplace: market,
		Billing:     billing,
		Server:      httptest.NewServer(service.Handler),
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Close stops both servers.
func (tc *TestContext) Close() {
	tc.Server.Close()
	tc.Marketplace.Close()
}

// GET makes a GET request as userID (0 means anonymous) and stores the response
func (tc *TestContext) GET(path string, userID int64) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.Server.URL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if userID != 0 {
		req.Header.Set(authmw.UserIDHeader, strconv.FormatInt(userID, 10))
	}
	return tc.do(req)
}

// POSTRaw posts body verbatim with optional headers and stores the response
func (tc *TestContext) POSTRaw(path string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a top-level field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %q not found in response: %s", field, tc.LastResponseBody)
	}
	return value, nil
}

func newDelete(url string, userID int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(authmw.UserIDHeader, strconv.FormatInt(userID, 10))
	return req, nil
}

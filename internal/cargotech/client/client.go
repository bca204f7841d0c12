// Package client is the typed CargoTech API surface used by the cargo
// service. Every call is authenticated and retried through auth.Manager.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"cargolink/internal/cargotech/auth"
	"cargolink/internal/sentinel"
)

const (
	listPath   = "/v2/cargos/views"
	detailPath = "/v1/carrier/cargos/"
	pointsPath = "/v1/dictionaries/points"

	OpList   = "cargos.list"
	OpDetail = "cargos.detail"
	OpPoints = "points.search"

	maxBodyBytes = 4 << 20
)

// Caller sends authenticated requests. Implemented by *auth.Manager.
type Caller interface {
	Call(ctx context.Context, op string, send auth.SendFunc) (*http.Response, error)
}

// StatusError is an upstream answer outside 2xx that the retry and auth
// layers passed through.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cargotech %s: unexpected status %d", e.Op, e.StatusCode)
}

// Client talks to the CargoTech carrier API.
type Client struct {
	baseURL string
	doer    auth.HTTPDoer
	caller  Caller
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client. doer performs the raw HTTP exchange; caller wraps
// it with token handling and retries.
func New(baseURL string, doer auth.HTTPDoer, caller Caller, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		doer:    doer,
		caller:  caller,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListCargos returns one page of listings visible to userID.
func (c *Client) ListCargos(ctx context.Context, userID int64, q ListQuery) (*CargoList, error) {
	var out CargoList
	if err := c.get(ctx, OpList, listPath, q.Values(userID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCargo returns a single listing with its note. Unknown ids yield
// sentinel.ErrNotFound.
func (c *Client) GetCargo(ctx context.Context, id int64) (*CargoDetail, error) {
	var out detailEnvelope
	if err := c.get(ctx, OpDetail, detailPath+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SearchPoints looks up settlements by name prefix.
func (c *Client) SearchPoints(ctx context.Context, q PointQuery) ([]Point, error) {
	params := url.Values{}
	params.Set("filter[name]", q.Name)
	var out pointsEnvelope
	if err := c.get(ctx, OpPoints, pointsPath, params, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []Point{}, nil
	}
	return out.Data, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, dst any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	resp, err := c.caller.Call(ctx, op, func(ctx context.Context, token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return c.doer.Do(req)
	})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("cargotech %s: %w", op, sentinel.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.WarnContext(ctx, "cargotech returned unexpected status", "op", op, "status", resp.StatusCode)
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("cargotech %s: decode response: %w", op, err)
	}
	return nil
}

// Package service routes user-facing cargo reads through the tiered cache
// and turns CargoTech failures into domain errors.
package service

import (
	"context"
	"errors"
	"log/slog"

	"cargolink/internal/cache"
	"cargolink/internal/cargo/models"
	"cargolink/internal/cargotech/auth"
	"cargolink/internal/cargotech/client"
	"cargolink/internal/cargotech/retry"
	"cargolink/internal/sentinel"
	dErrors "cargolink/pkg/domain-errors"
)

// CargoAPI is the upstream surface the service reads through.
type CargoAPI interface {
	ListCargos(ctx context.Context, userID int64, q client.ListQuery) (*client.CargoList, error)
	GetCargo(ctx context.Context, id int64) (*client.CargoDetail, error)
	SearchPoints(ctx context.Context, q client.PointQuery) ([]client.Point, error)
}

// Service serves cargo reads and cache invalidation.
type Service struct {
	api    CargoAPI
	cache  *cache.Cache
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service.
func New(api CargoAPI, c *cache.Cache, opts ...Option) *Service {
	s := &Service{api: api, cache: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a page of listings for userID.
func (s *Service) List(ctx context.Context, userID int64, q client.ListQuery) (*models.ListResult, error) {
	page, stale, err := cache.Fetch(ctx, s.cache, cache.TierList, cache.ListKey(userID, q.Hash()),
		func(ctx context.Context) (*client.CargoList, error) {
			return s.api.ListCargos(ctx, userID, q)
		})
	if err != nil {
		return nil, s.translate(ctx, "list cargos", err)
	}
	cargos := page.Data
	if cargos == nil {
		cargos = []client.Cargo{}
	}
	return &models.ListResult{Cargos: cargos, Meta: page.Meta, Stale: stale}, nil
}

// Detail returns one listing.
func (s *Service) Detail(ctx context.Context, cargoID int64) (*models.DetailResult, error) {
	if cargoID <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "cargo id must be positive")
	}
	detail, stale, err := cache.Fetch(ctx, s.cache, cache.TierDetail, cache.DetailKey(cargoID),
		func(ctx context.Context) (*client.CargoDetail, error) {
			return s.api.GetCargo(ctx, cargoID)
		})
	if err != nil {
		return nil, s.translate(ctx, "cargo detail", err)
	}
	return &models.DetailResult{Cargo: *detail, Stale: stale}, nil
}

// Points searches the settlement dictionary.
func (s *Service) Points(ctx context.Context, q client.PointQuery) (*models.PointsResult, error) {
	points, stale, err := cache.Fetch(ctx, s.cache, cache.TierReference, cache.PointsKey(q.Name),
		func(ctx context.Context) ([]client.Point, error) {
			return s.api.SearchPoints(ctx, q)
		})
	if err != nil {
		return nil, s.translate(ctx, "search points", err)
	}
	if points == nil {
		points = []client.Point{}
	}
	return &models.PointsResult{Points: points, Stale: stale}, nil
}

// ResetUser drops every list page cached for userID.
func (s *Service) ResetUser(ctx context.Context, userID int64) error {
	if _, err := s.cache.Invalidate(ctx, cache.TierList, cache.UserListPattern(userID)); err != nil {
		return s.invalidationFailed(ctx, err)
	}
	return nil
}

// CargoStatusChanged drops the listing's detail entry and every list page,
// since any page may contain it.
func (s *Service) CargoStatusChanged(ctx context.Context, cargoID int64) error {
	if _, err := s.cache.Invalidate(ctx, cache.TierDetail, cache.DetailKey(cargoID)); err != nil {
		return s.invalidationFailed(ctx, err)
	}
	if _, err := s.cache.Invalidate(ctx, cache.TierList, cache.AllPattern); err != nil {
		return s.invalidationFailed(ctx, err)
	}
	s.logger.InfoContext(ctx, "cargo status changed, cache invalidated", "cargo_id", cargoID)
	return nil
}

// CargoPosted drops every list page.
func (s *Service) CargoPosted(ctx context.Context) error {
	if _, err := s.cache.Invalidate(ctx, cache.TierList, cache.AllPattern); err != nil {
		return s.invalidationFailed(ctx, err)
	}
	return nil
}

func (s *Service) invalidationFailed(ctx context.Context, err error) error {
	s.logger.ErrorContext(ctx, "cache invalidation failed", "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, "cache invalidation failed")
}

func (s *Service) translate(ctx context.Context, op string, err error) error {
	var transient *retry.TransientError
	var status *client.StatusError
	var domainErr *dErrors.Error

	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "cargo not found")
	case errors.Is(err, retry.ErrRateLimitExceeded):
		s.logger.WarnContext(ctx, "cargotech rate limit exhausted", "op", op)
		return dErrors.Wrap(err, dErrors.CodeRateLimited, "marketplace is busy, try again later")
	case errors.Is(err, auth.ErrAuthenticationFailure):
		return dErrors.Wrap(err, dErrors.CodeUpstreamAuth, "marketplace temporarily unavailable")
	case errors.As(err, &transient):
		s.logger.WarnContext(ctx, "cargotech unavailable", "op", op, "attempts", transient.Attempts, "status", transient.StatusCode)
		return dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "marketplace unavailable")
	case errors.As(err, &status):
		s.logger.WarnContext(ctx, "cargotech rejected request", "op", op, "status", status.StatusCode)
		return dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "marketplace rejected the request")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "marketplace request timed out")
	case errors.Is(err, context.Canceled):
		return err
	default:
		s.logger.ErrorContext(ctx, "cargo read failed", "op", op, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
	}
}

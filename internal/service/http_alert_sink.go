package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/greywolf-labs/siteward/internal/core"
	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// HTTPAlertSinkServiceOptions groups dependencies for HTTPAlertSinkService.
type HTTPAlertSinkServiceOptions struct {
	Repo   core.HTTPAlertSinkRepository // required
	Logger *slog.Logger                 // optional
}

// HTTPAlertSinkService owns CRUD for HTTP alert sink configurations. Payload
// templating and delivery logic live in AlertSinkService instead, since that
// needs the JMESPath evaluator and secret repo this service doesn't.
type HTTPAlertSinkService struct {
	repo   core.HTTPAlertSinkRepository
	logger *slog.Logger
}

// NewHTTPAlertSinkService validates dependencies and constructs a service.
func NewHTTPAlertSinkService(opts HTTPAlertSinkServiceOptions) (*HTTPAlertSinkService, error) {
	if opts.Repo == nil {
		return nil, errors.New("HTTPAlertSinkRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "http_alert_sink_service")
		logger.Debug("HTTPAlertSinkService initialized")
	}

	return &HTTPAlertSinkService{repo: opts.Repo, logger: logger}, nil
}

// MustNewHTTPAlertSinkService constructs a service or panics; use at startup
// where a misconfigured dependency should fail fast rather than surface
// later as a nil-pointer panic mid-request.
func MustNewHTTPAlertSinkService(opts HTTPAlertSinkServiceOptions) *HTTPAlertSinkService {
	svc, err := NewHTTPAlertSinkService(opts)
	if err != nil {
		//nolint:forbidigo // startup fail-fast
		panic(err)
	}
	return svc
}

// Create persists a new HTTP alert sink.
func (s *HTTPAlertSinkService) Create(ctx context.Context, req *model.CreateHTTPAlertSinkRequest) (*model.HTTPAlertSink, error) {
	if req == nil {
		return nil, errors.New("create http alert sink request is required")
	}
	sink, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create HTTP alert sink: %w", err)
	}
	s.debugf(ctx, "HTTP alert sink created", sink)
	return sink, nil
}

// GetByID looks up a sink by ID.
func (s *HTTPAlertSinkService) GetByID(ctx context.Context, id string) (*model.HTTPAlertSink, error) {
	sink, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get HTTP alert sink by id: %w", err)
	}
	return sink, nil
}

// GetByName looks up a sink by its unique name.
func (s *HTTPAlertSinkService) GetByName(ctx context.Context, name string) (*model.HTTPAlertSink, error) {
	sink, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get HTTP alert sink by name: %w", err)
	}
	return sink, nil
}

// List returns a page of configured sinks.
func (s *HTTPAlertSinkService) List(ctx context.Context, limit, offset int) ([]*model.HTTPAlertSink, error) {
	sinks, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list HTTP alert sinks: %w", err)
	}
	return sinks, nil
}

// Update applies partial changes to an existing sink.
func (s *HTTPAlertSinkService) Update(ctx context.Context, id string, req *model.UpdateHTTPAlertSinkRequest) (*model.HTTPAlertSink, error) {
	if req == nil {
		return nil, errors.New("update http alert sink request is required")
	}
	sink, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update HTTP alert sink: %w", err)
	}
	s.debugf(ctx, "HTTP alert sink updated", sink)
	return sink, nil
}

// Delete removes a sink by ID, reporting whether it existed.
func (s *HTTPAlertSinkService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete HTTP alert sink: %w", err)
	}
	if s.logger != nil && deleted {
		s.logger.DebugContext(ctx, "HTTP alert sink deleted", "id", id)
	}
	return deleted, nil
}

func (s *HTTPAlertSinkService) debugf(ctx context.Context, msg string, sink *model.HTTPAlertSink) {
	if s.logger != nil && sink != nil {
		s.logger.DebugContext(ctx, msg, "id", sink.ID)
	}
}

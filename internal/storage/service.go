package storage

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/telemetry"
)

// service checks requests before they reach the repository. Writes that
// arrive after their context is done fail with ErrTimeout and touch nothing.
type service struct {
	Gateway
	logger logger.Logger
}

// NewService opens the repository described by cfg behind request
// validation. This is the Gateway the daemon uses.
func NewService(cfg Config, log logger.Logger) (Gateway, error) {
	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{
		Gateway: repo,
		logger:  log,
	}, nil
}

func (s *service) CreateFlight(ctx context.Context, name string, startedAt time.Time) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errors.New().WithMessage(errors.ErrInvalidArgument, "Flight name is required")
	}
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	return s.Gateway.CreateFlight(ctx, name, startedAt)
}

func (s *service) CompleteFlight(ctx context.Context, id int64, endedAt time.Time) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	return s.Gateway.CompleteFlight(ctx, id, endedAt)
}

func (s *service) DeleteFlight(ctx context.Context, id int64) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	return s.Gateway.DeleteFlight(ctx, id)
}

func (s *service) InsertTelemetry(ctx context.Context, rec *telemetry.Record) (int64, error) {
	if rec == nil {
		return 0, errors.New().WithMessage(errors.ErrInvalidArgument, "Telemetry record is required")
	}
	if err := validID(rec.FlightID); err != nil {
		return 0, err
	}
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	return s.Gateway.InsertTelemetry(ctx, rec)
}

func (s *service) InsertEvent(ctx context.Context, ev *telemetry.Event) (int64, error) {
	if ev == nil {
		return 0, errors.New().WithMessage(errors.ErrInvalidArgument, "Event is required")
	}
	if err := validID(ev.FlightID); err != nil {
		return 0, err
	}
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	return s.Gateway.InsertEvent(ctx, ev)
}

func validID(id int64) error {
	if id <= 0 {
		return errors.New().WithData(errors.ErrInvalidArgument, id).WithMessage("Invalid flight id")
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	default:
		return nil
	}
}

package booking

import (
	"context"
	"log/slog"

	"github.com/hhconstruction/hh-assistant/pkg/metrics"
)

// Service accepts booking requests. The notifier is optional.
type Service struct {
	store    Store
	notifier *Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(store Store, notifier *Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Service{store: store, notifier: notifier, logger: logger, metrics: m}
}

// Submit validates and stores req, then notifies the edge function. A
// notification failure is logged and does not fail the submission.
func (s *Service) Submit(ctx context.Context, req Request) (int64, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.metrics.RecordBooking(ctx, "invalid")
		return 0, err
	}

	id, err := s.store.Insert(ctx, req)
	if err != nil {
		s.metrics.RecordBooking(ctx, "store_error")
		s.logger.Error("booking insert failed", "err", err)
		return 0, err
	}
	s.logger.Info("booking stored", "id", id, "flexible", req.IsFlexible)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, req); err != nil {
			s.logger.Warn("booking notification failed", "id", id, "err", err)
		}
	}
	s.metrics.RecordBooking(ctx, "ok")
	return id, nil
}

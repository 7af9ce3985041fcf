package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Service owns the session state machine and the derived aggregates. All
// mutation flows through it; HTTP handlers and the background workers only
// ever talk to the Service, never to a Store directly.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) Connect(ctx context.Context) error { return s.store.Connect(ctx) }
func (s *Service) Close(ctx context.Context) error   { return s.store.Close(ctx) }
func (s *Service) Ping(ctx context.Context) error    { return s.store.Ping(ctx) }

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package scheduler drives the daily billing sweeps. Sweeps are
// date-idempotent, so the driver can run more often than daily without
// double-billing: each sweep selects by date equality and each dispatched
// unit re-checks its preconditions under lock.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/netvora/billing/internal/clock"
	obsmetrics "github.com/netvora/billing/internal/observability/metrics"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	Metrics         *obsmetrics.Metrics `optional:"true"`
	Config          Config              `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	metrics         *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
	}, nil
}

// RunOnce runs one full sweep cycle. End-of-term runs before renewal: a
// subscription whose term closes today is deactivated rather than billed
// for another period, and the renewal unit re-checks end_date itself in
// case the sweeps are ever reordered.
func (s *Scheduler) RunOnce(ctx context.Context) {
	today := clock.DateOf(s.clock.Now())

	s.runJob(ctx, "finish_subscriptions_ending_today", func(jobCtx context.Context) error {
		return s.subscriptionSvc.FinishSubscriptionsEndingToday(jobCtx, today)
	})
	s.runJob(ctx, "create_renewal_invoices", func(jobCtx context.Context) error {
		return s.subscriptionSvc.CreateInvoicesForTodayActiveSubscriptions(jobCtx, today)
	})
	s.runJob(ctx, "cancel_overdue_invoices", func(jobCtx context.Context) error {
		return s.subscriptionSvc.CancelSubscriptionsWithOverdueInvoices(jobCtx, today)
	})
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	start := time.Now()
	if s.metrics != nil {
		s.metrics.IncJobRun(name)
	}

	err := fn(ctx)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveJobDuration(name, elapsed.Seconds())
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.IncJobError(name)
		}
		log.Error("sweep job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	log.Info("sweep job finished", zap.Duration("elapsed", elapsed))
}

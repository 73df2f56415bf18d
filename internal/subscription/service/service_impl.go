package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"

	eventdomain "github.com/netvora/billing/internal/billingevent/domain"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/internal/clock"
	"github.com/netvora/billing/internal/config"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	obsmetrics "github.com/netvora/billing/internal/observability/metrics"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"github.com/netvora/billing/internal/tasks"
	"github.com/netvora/billing/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        subscriptiondomain.Repository
	InvoiceRepo invoicedomain.Repository
	Publisher   eventdomain.Publisher
	Dispatcher  tasks.Dispatcher
	Registry    catalogdomain.Registry
	BillingCfg  *config.BillingConfigHolder
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        subscriptiondomain.Repository
	invoiceRepo invoicedomain.Repository
	publisher   eventdomain.Publisher
	dispatcher  tasks.Dispatcher
	registry    catalogdomain.Registry
	billingCfg  *config.BillingConfigHolder
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		publisher:   p.Publisher,
		dispatcher:  p.Dispatcher,
		registry:    p.Registry,
		billingCfg:  p.BillingCfg,
		metrics:     p.Metrics,
	}
}

// SubscribeToService opens a subscription and its first invoice as one
// atomic unit. The subscription starts inactive; settlement of the first
// invoice activates it.
func (s *Service) SubscribeToService(ctx context.Context, req subscriptiondomain.SubscribeRequest) (subscriptiondomain.Subscription, error) {
	if req.UserID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidUser
	}
	if req.Service == nil || req.Ref.Type == "" || req.Ref.ID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidService
	}
	if req.Months <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidMonths
	}

	// The service decides eligibility; its reason travels to the caller
	// verbatim.
	if err := req.Service.CanSubscribe(ctx, req.UserID); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	cfg := s.billingCfg.Get()
	price := req.Service.SubscriptionPrice()
	now := s.clock.Now()
	today := clock.DateOf(now)

	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		UserID:             req.UserID,
		ServiceType:        req.Ref.Type,
		ServiceID:          req.Ref.ID,
		IsActive:           false,
		StartDate:          today,
		EndDate:            today.AddDate(0, req.Months, 0),
		NextInvoiceDate:    today.AddDate(0, cfg.RenewalPeriodMonths, 0),
		SubscriptionPlanID: req.PlanID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	invoice := invoicedomain.Invoice{
		ID:          s.genID.Generate(),
		Ulid:        ulid.Make().String(),
		UserID:      req.UserID,
		TotalAmount: price,
		Status:      invoicedomain.InvoiceStatusNew,
		DueDate:     today.AddDate(0, 0, cfg.InvoiceDueDays),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	item := invoicedomain.InvoiceItem{
		ID:             s.genID.Generate(),
		InvoiceID:      invoice.ID,
		ServiceType:    req.Ref.Type,
		ServiceID:      req.Ref.ID,
		Description:    req.Service.SubscriptionDescription(),
		Quantity:       1,
		Price:          price,
		SubscriptionID: &subscription.ID,
		CreatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		if err := s.invoiceRepo.InsertItem(ctx, tx, &item); err != nil {
			return err
		}
		return s.publishInvoiceCreated(ctx, tx, &invoice, &subscription)
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if s.metrics != nil {
		s.metrics.IncInvoiceCreated()
	}
	s.log.Info("subscription opened",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("service", req.Ref.String()),
		zap.String("invoice_ulid", invoice.Ulid),
		zap.Int64("amount", price),
	)

	return subscription, nil
}

// CreateInvoicesForTodayActiveSubscriptions dispatches one renewal unit per
// subscription due today, so a failing renewal never blocks its siblings.
func (s *Service) CreateInvoicesForTodayActiveSubscriptions(ctx context.Context, today time.Time) error {
	today = clock.DateOf(today)

	subscriptions, err := s.repo.ListDueForRenewal(ctx, s.db, today)
	if err != nil {
		return err
	}

	for _, sub := range subscriptions {
		subscriptionID := sub.ID
		task := tasks.Task{
			Name: fmt.Sprintf("subscription.renew/%s", subscriptionID),
			Run: func(taskCtx context.Context) error {
				return s.RenewSubscription(taskCtx, subscriptionID, today)
			},
		}
		if err := s.dispatcher.Dispatch(ctx, task); err != nil {
			s.log.Error("renewal dispatch failed",
				zap.String("subscription_id", subscriptionID.String()),
				zap.Error(err),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.IncTaskDispatched("renewal")
		}
	}

	return nil
}

// RenewSubscription bills one more period for an active subscription. The
// unit re-checks its own preconditions under lock, so at-least-once dispatch
// and overlapping sweeps stay safe.
func (s *Service) RenewSubscription(ctx context.Context, subscriptionID snowflake.ID, today time.Time) error {
	today = clock.DateOf(today)
	cfg := s.billingCfg.Get()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || !sub.IsActive {
			return nil
		}
		// Already advanced by an earlier delivery of this unit.
		if !clock.DateOf(sub.NextInvoiceDate).Equal(today) {
			return nil
		}
		// End-of-term takes precedence over renewal: a subscription whose
		// term closes today gets deactivated, not billed again.
		if !clock.DateOf(sub.EndDate).After(today) {
			return nil
		}

		svc, err := s.registry.Resolve(ctx, tx, catalogdomain.ServiceRef{Type: sub.ServiceType, ID: sub.ServiceID})
		if err != nil {
			return err
		}
		subscribable, ok := svc.(catalogdomain.Subscribable)
		if !ok {
			return catalogdomain.ErrNotSubscribable
		}

		price := subscribable.SubscriptionPrice()
		now := s.clock.Now()

		invoice := invoicedomain.Invoice{
			ID:          s.genID.Generate(),
			Ulid:        ulid.Make().String(),
			UserID:      sub.UserID,
			TotalAmount: price,
			Status:      invoicedomain.InvoiceStatusNew,
			DueDate:     today.AddDate(0, 0, cfg.InvoiceDueDays),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		item := invoicedomain.InvoiceItem{
			ID:             s.genID.Generate(),
			InvoiceID:      invoice.ID,
			ServiceType:    sub.ServiceType,
			ServiceID:      sub.ServiceID,
			Description:    subscribable.SubscriptionDescription(),
			Quantity:       1,
			Price:          price,
			SubscriptionID: &sub.ID,
			CreatedAt:      now,
		}

		if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		if err := s.invoiceRepo.InsertItem(ctx, tx, &item); err != nil {
			return err
		}

		next := today.AddDate(0, cfg.RenewalPeriodMonths, 0)
		if err := s.repo.AdvanceNextInvoiceDate(ctx, tx, sub.ID, next, now); err != nil {
			return err
		}

		if err := s.publishInvoiceCreated(ctx, tx, &invoice, sub); err != nil {
			return err
		}

		if s.metrics != nil {
			s.metrics.IncInvoiceCreated()
		}
		s.log.Info("renewal invoice created",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("invoice_ulid", invoice.Ulid),
			zap.Time("next_invoice_date", next),
		)
		return nil
	})
}

// FinishSubscriptionsEndingToday deactivates every active subscription whose
// term ends today in one statement, then emits one ended event per row.
// Deactivation happens first so a failing notification never leaves a
// subscription active past its term.
func (s *Service) FinishSubscriptionsEndingToday(ctx context.Context, today time.Time) error {
	today = clock.DateOf(today)
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ending, err := s.repo.ListEndingOn(ctx, tx, today, true)
		if err != nil {
			return err
		}
		if len(ending) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(ending))
		for _, sub := range ending {
			ids = append(ids, sub.ID)
		}

		affected, err := s.repo.DeactivateByIDs(ctx, tx, ids, now)
		if err != nil {
			return err
		}

		for _, sub := range ending {
			if err := s.publishSubscriptionEnded(ctx, tx, &sub, "end_of_term"); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.IncSubscriptionEnded()
			}
		}

		s.log.Info("subscriptions finished at end of term",
			zap.Int64("deactivated", affected),
			zap.Time("end_date", today),
		)
		return nil
	})
}

// CancelSubscriptionsWithOverdueInvoices walks NEW invoices due today in
// bounded chunks and dispatches one cancellation unit per invoice.
func (s *Service) CancelSubscriptionsWithOverdueInvoices(ctx context.Context, today time.Time) error {
	today = clock.DateOf(today)
	batchSize := s.billingCfg.Get().SweepBatchSize

	var afterID snowflake.ID
	for {
		invoices, err := s.invoiceRepo.ListDueOn(ctx, s.db, today, afterID, batchSize)
		if err != nil {
			return err
		}
		if len(invoices) == 0 {
			return nil
		}

		for _, inv := range invoices {
			invoiceID := inv.ID
			task := tasks.Task{
				Name: fmt.Sprintf("invoice.cancel_overdue/%s", invoiceID),
				Run: func(taskCtx context.Context) error {
					return s.CancelOverdueInvoice(taskCtx, invoiceID)
				},
			}
			if err := s.dispatcher.Dispatch(ctx, task); err != nil {
				s.log.Error("overdue cancellation dispatch failed",
					zap.String("invoice_id", invoiceID.String()),
					zap.Error(err),
				)
				continue
			}
			if s.metrics != nil {
				s.metrics.IncTaskDispatched("overdue_cancellation")
			}
		}

		afterID = invoices[len(invoices)-1].ID
		if len(invoices) < batchSize {
			return nil
		}
	}
}

// CancelOverdueInvoice is the failure-path mirror of settlement: the unpaid
// invoice regresses to CANCELLED and the subscription it funds loses its
// active flag.
func (s *Service) CancelOverdueInvoice(ctx context.Context, invoiceID snowflake.ID) error {
	now := s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindNewForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			// Settled or cancelled since the sweep selected it.
			return nil
		}

		items, err := s.invoiceRepo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}

		if _, err := s.invoiceRepo.TransitionStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusNew, invoicedomain.InvoiceStatusOverdue, now); err != nil {
			return err
		}
		if _, err := s.invoiceRepo.TransitionStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusOverdue, invoicedomain.InvoiceStatusCancelled, now); err != nil {
			return err
		}

		for _, item := range items {
			if item.SubscriptionID == nil {
				continue
			}
			sub, err := s.repo.FindByIDForUpdate(ctx, tx, *item.SubscriptionID)
			if err != nil {
				return err
			}
			if sub == nil {
				continue
			}
			if _, err := s.repo.DeactivateByIDs(ctx, tx, []snowflake.ID{sub.ID}, now); err != nil {
				return err
			}
			if err := s.publishSubscriptionEnded(ctx, tx, sub, "overdue_invoice"); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.IncSubscriptionEnded()
			}
		}

		if s.metrics != nil {
			s.metrics.IncInvoiceCancelled()
		}
		s.log.Info("overdue invoice cancelled",
			zap.String("invoice_ulid", invoice.Ulid),
			zap.String("invoice_id", invoice.ID.String()),
		)
		return nil
	})
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var afterID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		afterID = id
	}

	var userID *snowflake.ID
	if req.UserID != "" {
		id, err := snowflake.ParseString(req.UserID)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidUser
		}
		userID = &id
	}

	items, err := s.repo.List(ctx, s.db, userID, req.Active, afterID, pageSize+1)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item subscriptiondomain.Subscription) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	return subscriptiondomain.ListSubscriptionResponse{
		PageInfo:      *pageInfo,
		Subscriptions: items,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) publishInvoiceCreated(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, sub *subscriptiondomain.Subscription) error {
	return s.publisher.Publish(ctx, tx, eventdomain.Event{
		Type:      eventdomain.EventInvoiceCreated,
		DedupeKey: eventdomain.EventInvoiceCreated + ":" + invoice.Ulid,
		Payload: map[string]any{
			"invoice_id":      invoice.ID.String(),
			"invoice_ulid":    invoice.Ulid,
			"user_id":         invoice.UserID.String(),
			"subscription_id": sub.ID.String(),
			"total_amount":    invoice.TotalAmount,
			"due_date":        invoice.DueDate.Format("2006-01-02"),
		},
	})
}

func (s *Service) publishSubscriptionEnded(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, reason string) error {
	return s.publisher.Publish(ctx, tx, eventdomain.Event{
		Type:      eventdomain.EventSubscriptionEnded,
		DedupeKey: eventdomain.EventSubscriptionEnded + ":" + sub.ID.String() + ":" + reason,
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID.String(),
			"service_type":    sub.ServiceType,
			"service_id":      sub.ServiceID.String(),
			"reason":          reason,
		},
	})
}

// Package service implements the payment settlement engine: the exactly-once
// transaction that marks an invoice paid, activates the subscription it
// funds on first payment, and writes the receipt.
package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"

	eventdomain "github.com/netvora/billing/internal/billingevent/domain"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/internal/clock"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	obsmetrics "github.com/netvora/billing/internal/observability/metrics"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	InvoiceRepo      invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Publisher        eventdomain.Publisher
	Registry         catalogdomain.Registry
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	invoiceRepo      invoicedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	publisher        eventdomain.Publisher
	registry         catalogdomain.Registry
	metrics          *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("payment.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		invoiceRepo:      p.InvoiceRepo,
		subscriptionRepo: p.SubscriptionRepo,
		publisher:        p.Publisher,
		registry:         p.Registry,
		metrics:          p.Metrics,
	}
}

// HandleSuccessfulPayment settles one invoice. The row lock plus the
// status = NEW filter is the idempotency guard: a concurrent or replayed
// settlement observes zero matching rows and fails with
// ErrAlreadySettledOrNotFound, leaving exactly one receipt and one PAID
// transition behind. Any failure inside rolls back the whole transaction,
// leaving the invoice NEW and safe to retry.
func (s *Service) HandleSuccessfulPayment(ctx context.Context, invoiceID snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindNewForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrAlreadySettledOrNotFound
		}

		items, err := s.invoiceRepo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			// Upstream corruption; escalate, never auto-correct.
			s.log.Error("invoice has no items",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("invoice_ulid", invoice.Ulid),
			)
			return invoicedomain.ErrInvoiceWithoutItems
		}

		// Current model: one subscription-relevant item per invoice.
		first := items[0]
		if first.SubscriptionID != nil {
			if err := s.settleSubscriptionInvoice(ctx, tx, *first.SubscriptionID); err != nil {
				return err
			}
		}

		paid, err := s.invoiceRepo.TransitionStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusNew, invoicedomain.InvoiceStatusPaid, s.clock.Now())
		if err != nil {
			return err
		}
		if !paid {
			return invoicedomain.ErrAlreadySettledOrNotFound
		}

		if err := s.runInvoicePaidHooks(ctx, tx, invoice, items); err != nil {
			return err
		}

		receipt := invoicedomain.Receipt{
			ID:        s.genID.Generate(),
			Ulid:      ulid.Make().String(),
			InvoiceID: invoice.ID,
			UserID:    invoice.UserID,
			Amount:    invoice.TotalAmount,
			CreatedAt: s.clock.Now(),
		}
		return s.invoiceRepo.InsertReceipt(ctx, tx, &receipt)
	})

	if s.metrics != nil {
		switch {
		case err == nil:
			s.metrics.IncSettlement(obsmetrics.SettlementOutcomePaid)
		case errors.Is(err, invoicedomain.ErrAlreadySettledOrNotFound):
			s.metrics.IncSettlement(obsmetrics.SettlementOutcomeAlreadySettled)
		default:
			s.metrics.IncSettlement(obsmetrics.SettlementOutcomeError)
		}
	}
	return err
}

// settleSubscriptionInvoice activates the subscription when the invoice
// being settled is its first. "First" is the structural count of items ever
// billed against the subscription, not a stored flag, so subscriptions
// created out of band still activate correctly.
func (s *Service) settleSubscriptionInvoice(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) error {
	count, err := s.invoiceRepo.CountItemsBySubscription(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if count != 1 {
		// Renewal; activation happened on invoice #1.
		return nil
	}

	sub, err := s.subscriptionRepo.FindByIDForUpdate(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	if err := s.subscriptionRepo.Activate(ctx, tx, sub.ID, now); err != nil {
		return err
	}

	if err := s.publisher.Publish(ctx, tx, eventdomain.Event{
		Type:      eventdomain.EventSubscriptionActivated,
		DedupeKey: eventdomain.EventSubscriptionActivated + ":" + sub.ID.String(),
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID.String(),
			"service_type":    sub.ServiceType,
			"service_id":      sub.ServiceID.String(),
		},
	}); err != nil {
		return err
	}

	svc, err := s.registry.Resolve(ctx, tx, catalogdomain.ServiceRef{Type: sub.ServiceType, ID: sub.ServiceID})
	if err != nil {
		return err
	}
	subscribable, ok := svc.(catalogdomain.Subscribable)
	if !ok {
		return catalogdomain.ErrNotSubscribable
	}

	grant := catalogdomain.SubscriptionGrant{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Service:        catalogdomain.ServiceRef{Type: sub.ServiceType, ID: sub.ServiceID},
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
	}
	if err := subscribable.AfterSubscription(ctx, tx, grant); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncSubscriptionActivated()
	}
	s.log.Info("subscription activated on first paid invoice",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID.String()),
	)
	return nil
}

// runInvoicePaidHooks invokes the payment hook for every item whose service
// is Invoiceable; services without the capability are skipped.
func (s *Service) runInvoicePaidHooks(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, items []invoicedomain.InvoiceItem) error {
	paid := catalogdomain.PaidInvoice{
		InvoiceID:   invoice.ID,
		Ulid:        invoice.Ulid,
		UserID:      invoice.UserID,
		TotalAmount: invoice.TotalAmount,
	}

	for _, item := range items {
		svc, err := s.registry.Resolve(ctx, tx, catalogdomain.ServiceRef{Type: item.ServiceType, ID: item.ServiceID})
		if err != nil {
			return err
		}
		invoiceable, ok := svc.(catalogdomain.Invoiceable)
		if !ok {
			continue
		}

		err = invoiceable.AfterInvoicePayment(ctx, tx, paid, catalogdomain.PaidItem{
			ItemID:         item.ID,
			Service:        catalogdomain.ServiceRef{Type: item.ServiceType, ID: item.ServiceID},
			Description:    item.Description,
			Quantity:       item.Quantity,
			Price:          item.Price,
			SubscriptionID: item.SubscriptionID,
		})
		if err != nil {
			return err
		}
	}

	return s.publisher.Publish(ctx, tx, eventdomain.Event{
		Type:      eventdomain.EventInvoicePaid,
		DedupeKey: eventdomain.EventInvoicePaid + ":" + invoice.Ulid,
		Payload: map[string]any{
			"invoice_id":   invoice.ID.String(),
			"invoice_ulid": invoice.Ulid,
			"user_id":      invoice.UserID.String(),
			"total_amount": invoice.TotalAmount,
		},
	})
}

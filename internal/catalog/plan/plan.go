// Package plan ships the subscription-plan service type.
package plan

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceType is the tag stored in service_type columns for plan rows.
const ServiceType = "plan"

// SubscriptionPlan is a sellable plan row.
type SubscriptionPlan struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Name        string       `gorm:"type:text;not null"`
	Description string       `gorm:"type:text;not null"`
	Price       int64        `gorm:"not null"`
	IsActive    bool         `gorm:"not null;default:true"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionPlan) TableName() string { return "subscription_plans" }

// Store loads plans and binds them to the capability contract.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("catalog.plan")}
}

// Resolver returns the registry resolver for plan refs. The lookup runs on
// the handle the registry hands through, so in-transaction resolution reads
// on the caller's transaction.
func (s *Store) Resolver() catalogdomain.Resolver {
	return func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		if db == nil {
			db = s.db
		}
		plan, err := s.findByID(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			return nil, nil
		}
		return s.Bind(plan), nil
	}
}

func (s *Store) FindByID(ctx context.Context, id snowflake.ID) (*SubscriptionPlan, error) {
	return s.findByID(ctx, s.db, id)
}

func (s *Store) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, price, is_active, created_at, updated_at
		 FROM subscription_plans
		 WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

// Bind wraps a plan row with the store so the capability methods can query.
func (s *Store) Bind(plan *SubscriptionPlan) *Service {
	return &Service{store: s, plan: *plan}
}

// Service is one plan exposed through the capability contract. Plans are
// both Subscribable and Invoiceable.
type Service struct {
	store *Store
	plan  SubscriptionPlan
}

func (p *Service) Ref() catalogdomain.ServiceRef {
	return catalogdomain.ServiceRef{Type: ServiceType, ID: p.plan.ID}
}

func (p *Service) Plan() SubscriptionPlan { return p.plan }

func (p *Service) CanSubscribe(ctx context.Context, userID snowflake.ID) error {
	if !p.plan.IsActive {
		return catalogdomain.NotEligible("plan is no longer offered")
	}

	var count int64
	err := p.store.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM subscriptions
		 WHERE user_id = ? AND service_type = ? AND service_id = ? AND is_active = ?`,
		userID, ServiceType, p.plan.ID, true,
	).Scan(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return catalogdomain.NotEligible("user already has an active subscription to this plan")
	}
	return nil
}

func (p *Service) SubscriptionPrice() int64 { return p.plan.Price }

func (p *Service) SubscriptionDescription() string { return p.plan.Description }

func (p *Service) AfterSubscription(ctx context.Context, tx *gorm.DB, grant catalogdomain.SubscriptionGrant) error {
	// Plan access is granted by the active subscription row itself; nothing
	// to provision.
	p.store.log.Info("plan subscription activated",
		zap.String("plan_id", p.plan.ID.String()),
		zap.String("subscription_id", grant.SubscriptionID.String()),
		zap.String("user_id", grant.UserID.String()),
	)
	return nil
}

func (p *Service) AfterInvoicePayment(ctx context.Context, tx *gorm.DB, invoice catalogdomain.PaidInvoice, item catalogdomain.PaidItem) error {
	p.store.log.Info("plan invoice settled",
		zap.String("plan_id", p.plan.ID.String()),
		zap.String("invoice_ulid", invoice.Ulid),
		zap.Int64("amount", item.Price),
	)
	return nil
}

var (
	_ catalogdomain.Subscribable = (*Service)(nil)
	_ catalogdomain.Invoiceable  = (*Service)(nil)
)

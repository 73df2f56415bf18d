// Package network ships the leased IP subnet service type.
package network

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceType is the tag stored in service_type columns for subnet rows.
const ServiceType = "network"

// Subnet is a leasable IP subnet row.
type Subnet struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	Ulid         string        `gorm:"type:text;not null;uniqueIndex"`
	CIDR         string        `gorm:"column:cidr;type:text;not null"`
	MonthlyPrice int64         `gorm:"not null"`
	LeasedTo     *snowflake.ID `gorm:"index"`
	LeasedAt     *time.Time    `gorm:""`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subnet) TableName() string { return "networks" }

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("catalog.network")}
}

func (s *Store) Resolver() catalogdomain.Resolver {
	return func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		if db == nil {
			db = s.db
		}
		subnet, err := s.findByID(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if subnet == nil {
			return nil, nil
		}
		return s.Bind(subnet), nil
	}
}

func (s *Store) FindByID(ctx context.Context, id snowflake.ID) (*Subnet, error) {
	return s.findByID(ctx, s.db, id)
}

func (s *Store) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subnet, error) {
	var subnet Subnet
	err := db.WithContext(ctx).Raw(
		`SELECT id, ulid, cidr, monthly_price, leased_to, leased_at, created_at, updated_at
		 FROM networks
		 WHERE id = ?`,
		id,
	).Scan(&subnet).Error
	if err != nil {
		return nil, err
	}
	if subnet.ID == 0 {
		return nil, nil
	}
	return &subnet, nil
}

func (s *Store) FindByUlid(ctx context.Context, ulid string) (*Subnet, error) {
	var subnet Subnet
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, ulid, cidr, monthly_price, leased_to, leased_at, created_at, updated_at
		 FROM networks
		 WHERE ulid = ?`,
		ulid,
	).Scan(&subnet).Error
	if err != nil {
		return nil, err
	}
	if subnet.ID == 0 {
		return nil, nil
	}
	return &subnet, nil
}

func (s *Store) Bind(subnet *Subnet) *Service {
	return &Service{store: s, subnet: *subnet}
}

// Service is one subnet exposed through the capability contract. Subnets
// are Subscribable only; they carry no invoice-payment hook.
type Service struct {
	store  *Store
	subnet Subnet
}

func (n *Service) Ref() catalogdomain.ServiceRef {
	return catalogdomain.ServiceRef{Type: ServiceType, ID: n.subnet.ID}
}

func (n *Service) Subnet() Subnet { return n.subnet }

func (n *Service) CanSubscribe(ctx context.Context, userID snowflake.ID) error {
	if n.subnet.LeasedTo != nil {
		if *n.subnet.LeasedTo == userID {
			return catalogdomain.NotEligible("subnet is already leased to this user")
		}
		return catalogdomain.NotEligible("subnet is already leased")
	}

	// A pending (non-overdue) invoice for this subnet reserves it even
	// before first payment activates the lease.
	var count int64
	err := n.store.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM invoice_items ii
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE ii.service_type = ? AND ii.service_id = ? AND i.status = ?`,
		ServiceType, n.subnet.ID, "NEW",
	).Scan(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return catalogdomain.NotEligible("subnet has a pending subscription invoice")
	}
	return nil
}

func (n *Service) SubscriptionPrice() int64 { return n.subnet.MonthlyPrice }

func (n *Service) SubscriptionDescription() string {
	return "IP subnet lease " + n.subnet.CIDR
}

// AfterSubscription provisions the lease: the subnet is assigned to the
// subscriber once the first invoice is paid. The UPDATE runs on the
// settlement transaction so the lease never outlives a rolled-back payment.
func (n *Service) AfterSubscription(ctx context.Context, tx *gorm.DB, grant catalogdomain.SubscriptionGrant) error {
	now := time.Now().UTC()
	res := tx.WithContext(ctx).Exec(
		`UPDATE networks
		 SET leased_to = ?, leased_at = ?, updated_at = ?
		 WHERE id = ? AND leased_to IS NULL`,
		grant.UserID, now, now, n.subnet.ID,
	)
	if res.Error != nil {
		return res.Error
	}

	n.store.log.Info("subnet leased",
		zap.String("subnet", n.subnet.CIDR),
		zap.String("user_id", grant.UserID.String()),
		zap.Int64("rows", res.RowsAffected),
	)
	return nil
}

var _ catalogdomain.Subscribable = (*Service)(nil)

// Package seed bootstraps a demo catalog for local and self-hosted setups.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/netvora/billing/internal/catalog/network"
	"github.com/netvora/billing/internal/catalog/plan"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

var demoPlans = []plan.SubscriptionPlan{
	{Name: "Fiber 100", Description: "Fiber 100 Mbps", Price: 2999, IsActive: true},
	{Name: "Fiber 500", Description: "Fiber 500 Mbps", Price: 4999, IsActive: true},
	{Name: "Fiber 1000", Description: "Fiber 1 Gbps", Price: 7999, IsActive: true},
}

var demoSubnets = []network.Subnet{
	{CIDR: "203.0.113.0/29", MonthlyPrice: 9900},
	{CIDR: "203.0.113.8/29", MonthlyPrice: 9900},
	{CIDR: "198.51.100.0/28", MonthlyPrice: 14900},
}

// EnsureDemoCatalog inserts the demo plans and subnets when the catalog is
// empty. Existing rows are never touched, so reruns are safe.
func EnsureDemoCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePlans(ctx, tx, node); err != nil {
			return err
		}
		return ensureSubnets(ctx, tx, node)
	})
}

func ensurePlans(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&plan.SubscriptionPlan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, p := range demoPlans {
		p.ID = node.Generate()
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureSubnets(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&network.Subnet{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, sn := range demoSubnets {
		sn.ID = node.Generate()
		sn.Ulid = ulid.Make().String()
		sn.CreatedAt = now
		sn.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&sn).Error; err != nil {
			return err
		}
	}
	return nil
}

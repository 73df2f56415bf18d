// Package migration creates the core billing tables at startup so the
// service is usable out of the box for local and self-hosted environments.
package migration

import (
	eventdomain "github.com/netvora/billing/internal/billingevent/domain"
	"github.com/netvora/billing/internal/catalog/network"
	"github.com/netvora/billing/internal/catalog/plan"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&plan.SubscriptionPlan{},
		&network.Subnet{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.Receipt{},
		&eventdomain.BillingEvent{},
	)
}

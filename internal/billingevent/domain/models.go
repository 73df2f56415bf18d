// Package domain defines the billing event outbox. Notifications are
// fire-and-forget for the core: an event row committed with the triggering
// transaction is the contract, delivery to consumers happens elsewhere.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventInvoiceCreated        = "invoice.created"
	EventInvoicePaid           = "invoice.paid"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionEnded     = "subscription.ended"
)

// BillingEvent captures outbox events for billing workflows.
type BillingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventType   string            `gorm:"type:text;not null;index"`
	Payload     datatypes.JSONMap `gorm:"not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

type Event struct {
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Publisher appends an event row on the caller's transaction so the event
// commits or rolls back with the state change that produced it.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, event Event) error
}

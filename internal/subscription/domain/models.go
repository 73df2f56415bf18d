// Package domain contains the subscription persistence model and the
// lifecycle manager contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription is a recurring grant of access to a service, bounded by
// start/end dates. It is created inactive; only settlement of its first
// invoice turns is_active on, and the end-of-term or overdue sweeps turn it
// off. There is no resurrection: a renewal after deactivation is a new row.
type Subscription struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	UserID             snowflake.ID  `gorm:"not null;index"`
	ServiceType        string        `gorm:"type:text;not null;index:idx_subscriptions_service"`
	ServiceID          snowflake.ID  `gorm:"not null;index:idx_subscriptions_service"`
	IsActive           bool          `gorm:"not null;default:false;index"`
	StartDate          time.Time     `gorm:"not null"`
	EndDate            time.Time     `gorm:"not null;index"`
	NextInvoiceDate    time.Time     `gorm:"not null;index"`
	SubscriptionPlanID *snowflake.ID `gorm:"index"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

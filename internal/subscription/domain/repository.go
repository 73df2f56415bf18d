package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)

	// ListDueForRenewal returns active subscriptions with end_date >= today
	// and next_invoice_date = today.
	ListDueForRenewal(ctx context.Context, db *gorm.DB, today time.Time) ([]Subscription, error)

	// ListEndingOn returns active subscriptions whose end_date equals day,
	// locked for update when forUpdate is set.
	ListEndingOn(ctx context.Context, db *gorm.DB, day time.Time, forUpdate bool) ([]Subscription, error)

	// DeactivateByIDs clears is_active in one statement and returns the
	// affected row count.
	DeactivateByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error)

	// Activate sets is_active. The caller decides when activation is earned.
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	// AdvanceNextInvoiceDate moves next_invoice_date forward only; a value
	// at or before the stored one updates nothing.
	AdvanceNextInvoiceDate(ctx context.Context, db *gorm.DB, id snowflake.ID, next time.Time, now time.Time) error

	List(ctx context.Context, db *gorm.DB, userID *snowflake.ID, active *bool, afterID snowflake.ID, limit int) ([]Subscription, error)
}

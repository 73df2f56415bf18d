package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	InsertReceipt(ctx context.Context, db *gorm.DB, receipt *Receipt) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByUlid(ctx context.Context, db *gorm.DB, ulid string) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)

	// FindNewForUpdate loads the invoice under an exclusive row lock,
	// filtered to status NEW. Returns nil when no NEW row matches: unknown
	// id, already settled, or already cancelled.
	FindNewForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)

	// TransitionStatus moves the invoice from one status to another and
	// reports whether any row changed. The WHERE clause carries the source
	// status so a lost race updates zero rows instead of clobbering state.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to InvoiceStatus, now time.Time) (bool, error)

	CountItemsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error)

	// ListDueOn returns NEW invoices whose due_date equals day, paged by
	// primary key so large ledgers are swept in bounded chunks.
	ListDueOn(ctx context.Context, db *gorm.DB, day time.Time, afterID snowflake.ID, limit int) ([]Invoice, error)
}

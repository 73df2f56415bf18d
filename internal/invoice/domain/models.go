// Package domain contains persistence models for invoices, invoice items,
// and receipts.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus is the four-state invoice lifecycle. Valid transitions are
// NEW -> PAID, NEW -> OVERDUE, OVERDUE -> CANCELLED. PAID and CANCELLED are
// terminal.
type InvoiceStatus string

const (
	InvoiceStatusNew       InvoiceStatus = "NEW"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// ParseInvoiceStatus rejects unknown values. A status read from storage that
// does not parse indicates schema drift and must be treated as a hard error,
// never as a silent default.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case InvoiceStatusNew, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return InvoiceStatus(s), nil
	}
	return "", fmt.Errorf("invalid invoice status %q", s)
}

// CanTransitionTo reports whether the status graph permits moving to next.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	switch s {
	case InvoiceStatusNew:
		return next == InvoiceStatusPaid || next == InvoiceStatusOverdue
	case InvoiceStatusOverdue:
		return next == InvoiceStatusCancelled
	}
	return false
}

// Invoice is an append-only ledger row: transitioned, never deleted.
type Invoice struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	Ulid        string        `gorm:"type:text;not null;uniqueIndex"`
	UserID      snowflake.ID  `gorm:"not null;index"`
	TotalAmount int64         `gorm:"not null"`
	Status      InvoiceStatus `gorm:"type:text;not null;index"`
	DueDate     time.Time     `gorm:"not null;index"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Items []InvoiceItem `gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one priced line on an invoice. Owned exclusively by its
// invoice; SubscriptionID links back to the subscription the line funds.
type InvoiceItem struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	InvoiceID      snowflake.ID  `gorm:"not null;index"`
	ServiceType    string        `gorm:"type:text;not null"`
	ServiceID      snowflake.ID  `gorm:"not null;index"`
	Description    string        `gorm:"type:text;not null"`
	Quantity       int           `gorm:"not null"`
	Price          int64         `gorm:"not null"`
	SubscriptionID *snowflake.ID `gorm:"index"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// Receipt is the immutable proof of payment, created exactly once when an
// invoice transitions to PAID.
type Receipt struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Ulid      string       `gorm:"type:text;not null;uniqueIndex"`
	InvoiceID snowflake.ID `gorm:"not null;uniqueIndex"`
	UserID    snowflake.ID `gorm:"not null;index"`
	Amount    int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Receipt) TableName() string { return "receipts" }

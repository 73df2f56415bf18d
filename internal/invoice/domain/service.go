package domain

import (
	"context"
	"errors"
	"time"

	"github.com/netvora/billing/pkg/db/pagination"
)

type ListInvoiceRequest struct {
	Status      string
	UserID      string
	PageToken   string
	PageSize    int
	DueFrom     *time.Time
	DueTo       *time.Time
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	List(context.Context, ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByUlid(ctx context.Context, ulid string) (Invoice, error)
}

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidUser     = errors.New("invalid_user")

	// ErrAlreadySettledOrNotFound is the settlement idempotency guard: the
	// invoice id is unknown, or its NEW->PAID transition already happened.
	// Webhook callers treat both the same way.
	ErrAlreadySettledOrNotFound = errors.New("invoice_already_settled_or_not_found")

	// ErrInvoiceWithoutItems signals upstream data corruption: an invoice
	// produced by this core always carries at least one item.
	ErrInvoiceWithoutItems = errors.New("invoice_without_items")
)

// Package domain defines the capability contract every subscribable or
// invoiceable service type implements, and the registry that resolves the
// weak (type, id) references stored on billing rows back to live services.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ServiceRef is a weak polymorphic reference to a service that lives outside
// the billing core. It is a relation plus a lookup, never ownership.
type ServiceRef struct {
	Type string
	ID   snowflake.ID
}

func (r ServiceRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// SubscriptionGrant carries the subscription fields a service needs when it
// reacts to billing transitions. Defined here so service types never import
// the subscription package.
type SubscriptionGrant struct {
	SubscriptionID snowflake.ID
	UserID         snowflake.ID
	Service        ServiceRef
	StartDate      time.Time
	EndDate        time.Time
}

// PaidInvoice and PaidItem mirror the invoice rows handed to payment hooks.
type PaidInvoice struct {
	InvoiceID   snowflake.ID
	Ulid        string
	UserID      snowflake.ID
	TotalAmount int64
}

type PaidItem struct {
	ItemID         snowflake.ID
	Service        ServiceRef
	Description    string
	Quantity       int
	Price          int64
	SubscriptionID *snowflake.ID
}

// Subscribable is implemented by service types that can fund a subscription.
type Subscribable interface {
	// CanSubscribe returns nil when userID may open a subscription, or an
	// *EligibilityError carrying the declining reason.
	CanSubscribe(ctx context.Context, userID snowflake.ID) error
	SubscriptionPrice() int64
	SubscriptionDescription() string
	// AfterSubscription runs exactly once, when the subscription turns
	// active on its first paid invoice. Typical use is provisioning the
	// underlying resource. tx is the settlement transaction; any write the
	// hook makes must go through it so provisioning commits or rolls back
	// with the activation itself.
	AfterSubscription(ctx context.Context, tx *gorm.DB, grant SubscriptionGrant) error
}

// Invoiceable is implemented by service types that react to invoice payment.
// A service type may implement Subscribable, Invoiceable, both, or neither;
// callers check capabilities with type assertions at the call site. As with
// AfterSubscription, writes belong on tx.
type Invoiceable interface {
	AfterInvoicePayment(ctx context.Context, tx *gorm.DB, invoice PaidInvoice, item PaidItem) error
}

// Resolver loads one service instance of a single type by id. db is the
// handle the lookup runs on; callers resolving inside a transaction pass it
// so the read shares the transaction's connection.
type Resolver func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error)

// Registry resolves ServiceRefs through resolvers keyed by type tag.
type Registry interface {
	Register(serviceType string, resolve Resolver)
	Resolve(ctx context.Context, db *gorm.DB, ref ServiceRef) (any, error)
}

var (
	ErrUnknownServiceType = errors.New("unknown_service_type")
	ErrServiceNotFound    = errors.New("service_not_found")
	ErrNotSubscribable    = errors.New("service_not_subscribable")
)

// EligibilityError is returned by CanSubscribe when a service declines a
// subscription attempt. The reason is surfaced verbatim to the caller.
type EligibilityError struct {
	Reason string
}

func (e *EligibilityError) Error() string {
	return "not eligible: " + e.Reason
}

func NotEligible(reason string) error {
	return &EligibilityError{Reason: reason}
}

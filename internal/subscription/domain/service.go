package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/pkg/db/pagination"
)

type SubscribeRequest struct {
	UserID  snowflake.ID
	Service catalogdomain.Subscribable
	Ref     catalogdomain.ServiceRef
	Months  int
	// PlanID is set when the service is a subscription plan, mirroring the
	// typed column kept alongside the weak reference.
	PlanID *snowflake.ID
}

type ListSubscriptionRequest struct {
	UserID    string
	Active    *bool
	PageToken string
	PageSize  int
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

// Service is the subscription lifecycle manager: it opens subscriptions with
// their first invoice and runs the three daily sweeps. Sweeps take "today"
// as an explicit parameter so a run is deterministic regardless of when in
// the day it fires.
type Service interface {
	SubscribeToService(ctx context.Context, req SubscribeRequest) (Subscription, error)

	CreateInvoicesForTodayActiveSubscriptions(ctx context.Context, today time.Time) error
	FinishSubscriptionsEndingToday(ctx context.Context, today time.Time) error
	CancelSubscriptionsWithOverdueInvoices(ctx context.Context, today time.Time) error

	// RenewSubscription is the unit of work dispatched per subscription by
	// the renewal sweep.
	RenewSubscription(ctx context.Context, subscriptionID snowflake.ID, today time.Time) error
	// CancelOverdueInvoice is the unit of work dispatched per invoice by
	// the overdue sweep.
	CancelOverdueInvoice(ctx context.Context, invoiceID snowflake.ID) error

	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
}

var (
	ErrInvalidMonths        = errors.New("invalid_months")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidService       = errors.New("invalid_service")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)

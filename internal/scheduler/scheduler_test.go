package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/netvora/billing/internal/clock"
	"github.com/netvora/billing/internal/scheduler"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"go.uber.org/zap"
)

type sweepRecorder struct {
	calls []string
	days  []time.Time
}

func (r *sweepRecorder) SubscribeToService(context.Context, subscriptiondomain.SubscribeRequest) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}

func (r *sweepRecorder) CreateInvoicesForTodayActiveSubscriptions(ctx context.Context, today time.Time) error {
	r.calls = append(r.calls, "renewal")
	r.days = append(r.days, today)
	return nil
}

func (r *sweepRecorder) FinishSubscriptionsEndingToday(ctx context.Context, today time.Time) error {
	r.calls = append(r.calls, "finish")
	r.days = append(r.days, today)
	return nil
}

func (r *sweepRecorder) CancelSubscriptionsWithOverdueInvoices(ctx context.Context, today time.Time) error {
	r.calls = append(r.calls, "overdue")
	r.days = append(r.days, today)
	return nil
}

func (r *sweepRecorder) RenewSubscription(context.Context, snowflake.ID, time.Time) error {
	return nil
}

func (r *sweepRecorder) CancelOverdueInvoice(context.Context, snowflake.ID) error {
	return nil
}

func (r *sweepRecorder) List(context.Context, subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	return subscriptiondomain.ListSubscriptionResponse{}, nil
}

func (r *sweepRecorder) GetByID(context.Context, snowflake.ID) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}

func TestRunOnce_SweepOrderAndDate(t *testing.T) {
	recorder := &sweepRecorder{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC))

	sched, err := scheduler.New(scheduler.Params{
		Log:             zap.NewNop(),
		Clock:           clk,
		SubscriptionSvc: recorder,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	sched.RunOnce(context.Background())

	// End-of-term must run before renewal so a subscription whose term
	// closes today is deactivated instead of billed again.
	want := []string{"finish", "renewal", "overdue"}
	if len(recorder.calls) != len(want) {
		t.Fatalf("sweeps run = %v, want %v", recorder.calls, want)
	}
	for i, name := range want {
		if recorder.calls[i] != name {
			t.Errorf("sweep %d = %s, want %s", i, recorder.calls[i], name)
		}
	}

	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, day := range recorder.days {
		if !day.Equal(today) {
			t.Errorf("sweep %d ran with today = %v, want date-truncated %v", i, day, today)
		}
	}
}

func TestRunOnce_SameDateRegardlessOfTimeOfDay(t *testing.T) {
	recorder := &sweepRecorder{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC))

	sched, err := scheduler.New(scheduler.Params{
		Log:             zap.NewNop(),
		Clock:           clk,
		SubscriptionSvc: recorder,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	sched.RunOnce(context.Background())
	clk.Advance(23 * time.Hour)
	sched.RunOnce(context.Background())

	if len(recorder.days) != 6 {
		t.Fatalf("sweeps run = %d, want 6", len(recorder.days))
	}
	for i := 1; i < len(recorder.days); i++ {
		if !recorder.days[i].Equal(recorder.days[0]) {
			t.Errorf("sweep %d ran with %v, want the same calendar day as the first", i, recorder.days[i])
		}
	}
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := scheduler.New(scheduler.Params{Log: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error when clock and service are missing")
	}
}

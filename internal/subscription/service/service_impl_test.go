package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/netvora/billing/internal/billingevent/domain"
	eventpublisher "github.com/netvora/billing/internal/billingevent/publisher"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/internal/catalog/plan"
	"github.com/netvora/billing/internal/catalog/registry"
	"github.com/netvora/billing/internal/clock"
	"github.com/netvora/billing/internal/config"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	invoicerepo "github.com/netvora/billing/internal/invoice/repository"
	"github.com/netvora/billing/internal/migration"
	paymentservice "github.com/netvora/billing/internal/payment/service"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	subscriptionrepo "github.com/netvora/billing/internal/subscription/repository"
	subscriptionservice "github.com/netvora/billing/internal/subscription/service"
	"github.com/netvora/billing/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	// SQLite does not understand row locking clauses.
	rewrite := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", rewrite)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", rewrite)

	if err := migration.RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	plans   *plan.Store
	subRepo subscriptiondomain.Repository
	invRepo invoicedomain.Repository
	subSvc  subscriptiondomain.Service
	paySvc  *paymentservice.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	logger := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC))

	plans := plan.NewStore(db, logger)
	reg := registry.New()
	reg.Register(plan.ServiceType, plans.Resolver())

	publisher := eventpublisher.New(eventpublisher.Params{Log: logger, GenID: node})
	subRepo := subscriptionrepo.Provide()
	invRepo := invoicerepo.Provide()
	billingCfg := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:          db,
		Log:         logger,
		GenID:       node,
		Clock:       clk,
		Repo:        subRepo,
		InvoiceRepo: invRepo,
		Publisher:   publisher,
		Dispatcher:  tasks.Synchronous{},
		Registry:    reg,
		BillingCfg:  billingCfg,
	})
	paySvc := paymentservice.NewService(paymentservice.Params{
		DB:               db,
		Log:              logger,
		GenID:            node,
		Clock:            clk,
		InvoiceRepo:      invRepo,
		SubscriptionRepo: subRepo,
		Publisher:        publisher,
		Registry:         reg,
	})

	return &fixture{
		db:      db,
		node:    node,
		clk:     clk,
		plans:   plans,
		subRepo: subRepo,
		invRepo: invRepo,
		subSvc:  subSvc,
		paySvc:  paySvc,
	}
}

func (f *fixture) today() time.Time { return clock.DateOf(f.clk.Now()) }

func (f *fixture) createPlan(t *testing.T, price int64, active bool) *plan.SubscriptionPlan {
	t.Helper()
	p := &plan.SubscriptionPlan{
		ID:          f.node.Generate(),
		Name:        "Fiber 500",
		Description: "Fiber 500 Mbps",
		Price:       price,
		IsActive:    active,
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}
	if err := f.db.Create(p).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	// Create skips zero-value fields with a column default and back-fills
	// the struct, so a retired plan needs its flag forced and reloaded.
	if !active {
		if err := f.db.Exec(`UPDATE subscription_plans SET is_active = ? WHERE id = ?`, false, p.ID).Error; err != nil {
			t.Fatalf("deactivate plan: %v", err)
		}
		reloaded, err := f.plans.FindByID(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("reload plan: %v", err)
		}
		p = reloaded
	}
	return p
}

func (f *fixture) subscribe(t *testing.T, userID snowflake.ID, p *plan.SubscriptionPlan, months int) subscriptiondomain.Subscription {
	t.Helper()
	svc := f.plans.Bind(p)
	sub, err := f.subSvc.SubscribeToService(context.Background(), subscriptiondomain.SubscribeRequest{
		UserID:  userID,
		Service: svc,
		Ref:     svc.Ref(),
		Months:  months,
		PlanID:  &p.ID,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

func (f *fixture) settleFirstInvoice(t *testing.T, subscriptionID snowflake.ID) {
	t.Helper()
	invoices := f.invoicesFor(t, subscriptionID)
	if len(invoices) == 0 {
		t.Fatal("no invoice to settle")
	}
	if err := f.paySvc.HandleSuccessfulPayment(context.Background(), invoices[0].ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func (f *fixture) invoicesFor(t *testing.T, subscriptionID snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	var invoices []invoicedomain.Invoice
	err := f.db.Raw(
		`SELECT i.id, i.ulid, i.user_id, i.total_amount, i.status, i.due_date, i.created_at, i.updated_at
		 FROM invoices i
		 JOIN invoice_items ii ON ii.invoice_id = i.id
		 WHERE ii.subscription_id = ?
		 ORDER BY i.id`,
		subscriptionID,
	).Scan(&invoices).Error
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	return invoices
}

func (f *fixture) endedEvents(t *testing.T, reason string) int64 {
	t.Helper()
	var count int64
	err := f.db.Raw(
		`SELECT COUNT(*) FROM billing_events WHERE event_type = ? AND payload LIKE ?`,
		eventdomain.EventSubscriptionEnded, "%"+reason+"%",
	).Scan(&count).Error
	if err != nil {
		t.Fatalf("count ended events: %v", err)
	}
	return count
}

func TestSubscribeToService_OpensInactiveWithFirstInvoice(t *testing.T) {
	f := newFixture(t)

	p := f.createPlan(t, 4999, true)
	userID := f.node.Generate()
	sub := f.subscribe(t, userID, p, 12)

	if sub.IsActive {
		t.Error("subscription must start inactive")
	}
	if !clock.DateOf(sub.StartDate).Equal(f.today()) {
		t.Errorf("start_date = %v, want %v", sub.StartDate, f.today())
	}
	if want := f.today().AddDate(0, 12, 0); !clock.DateOf(sub.EndDate).Equal(want) {
		t.Errorf("end_date = %v, want %v", sub.EndDate, want)
	}
	if want := f.today().AddDate(0, 1, 0); !clock.DateOf(sub.NextInvoiceDate).Equal(want) {
		t.Errorf("next_invoice_date = %v, want %v", sub.NextInvoiceDate, want)
	}

	invoices := f.invoicesFor(t, sub.ID)
	if len(invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.Status != invoicedomain.InvoiceStatusNew {
		t.Errorf("invoice status = %s, want NEW", inv.Status)
	}
	if inv.TotalAmount != 4999 {
		t.Errorf("invoice total = %d, want 4999", inv.TotalAmount)
	}
	if want := f.today().AddDate(0, 0, 7); !clock.DateOf(inv.DueDate).Equal(want) {
		t.Errorf("due_date = %v, want %v", inv.DueDate, want)
	}

	items, err := f.invRepo.ListItems(context.Background(), f.db, inv.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].SubscriptionID == nil || *items[0].SubscriptionID != sub.ID {
		t.Error("item must link back to the subscription")
	}
	if items[0].Quantity != 1 || items[0].Price != 4999 {
		t.Errorf("item qty/price = %d/%d, want 1/4999", items[0].Quantity, items[0].Price)
	}

	var created int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM billing_events WHERE event_type = ?`, eventdomain.EventInvoiceCreated).Scan(&created).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if created != 1 {
		t.Errorf("invoice.created events = %d, want 1", created)
	}
}

func TestSubscribeToService_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.createPlan(t, 1000, true)
	svc := f.plans.Bind(p)

	_, err := f.subSvc.SubscribeToService(context.Background(), subscriptiondomain.SubscribeRequest{
		UserID:  f.node.Generate(),
		Service: svc,
		Ref:     svc.Ref(),
		Months:  0,
	})
	if !errors.Is(err, subscriptiondomain.ErrInvalidMonths) {
		t.Errorf("months=0 err = %v, want ErrInvalidMonths", err)
	}

	_, err = f.subSvc.SubscribeToService(context.Background(), subscriptiondomain.SubscribeRequest{
		UserID:  0,
		Service: svc,
		Ref:     svc.Ref(),
		Months:  12,
	})
	if !errors.Is(err, subscriptiondomain.ErrInvalidUser) {
		t.Errorf("user=0 err = %v, want ErrInvalidUser", err)
	}
}

func TestSubscribeToService_DeclinedByService(t *testing.T) {
	f := newFixture(t)

	p := f.createPlan(t, 1000, false)
	svc := f.plans.Bind(p)
	_, err := f.subSvc.SubscribeToService(context.Background(), subscriptiondomain.SubscribeRequest{
		UserID:  f.node.Generate(),
		Service: svc,
		Ref:     svc.Ref(),
		Months:  12,
	})

	var eligibility *catalogdomain.EligibilityError
	if !errors.As(err, &eligibility) {
		t.Fatalf("err = %v, want *EligibilityError", err)
	}
	if eligibility.Reason != "plan is no longer offered" {
		t.Errorf("reason = %q, want the service's verbatim reason", eligibility.Reason)
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&count).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if count != 0 {
		t.Errorf("subscriptions = %d, want 0 after declined attempt", count)
	}
}

func TestSubscribeToService_DuplicateActiveDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 1000, true)
	userID := f.node.Generate()
	sub := f.subscribe(t, userID, p, 12)
	f.settleFirstInvoice(t, sub.ID)

	reloaded, err := f.plans.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	svc := f.plans.Bind(reloaded)
	_, err = f.subSvc.SubscribeToService(ctx, subscriptiondomain.SubscribeRequest{
		UserID:  userID,
		Service: svc,
		Ref:     svc.Ref(),
		Months:  12,
	})

	var eligibility *catalogdomain.EligibilityError
	if !errors.As(err, &eligibility) {
		t.Fatalf("err = %v, want *EligibilityError for duplicate active subscription", err)
	}
}

func TestSubscribeToService_RollsBackWhenItemWriteFails(t *testing.T) {
	f := newFixture(t)

	p := f.createPlan(t, 1000, true)
	svc := f.plans.Bind(p)

	// Losing the invoice_items table makes the third write of the unit
	// fail; the subscription and invoice written before it must not
	// survive.
	if err := f.db.Exec(`DROP TABLE invoice_items`).Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := f.subSvc.SubscribeToService(context.Background(), subscriptiondomain.SubscribeRequest{
		UserID:  f.node.Generate(),
		Service: svc,
		Ref:     svc.Ref(),
		Months:  12,
	})
	if err == nil {
		t.Fatal("expected subscribe to fail")
	}

	var subs, invs int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&subs).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	if err := f.db.Raw(`SELECT COUNT(*) FROM invoices`).Scan(&invs).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if subs != 0 || invs != 0 {
		t.Errorf("subscriptions/invoices = %d/%d, want 0/0 after rollback", subs, invs)
	}
}

func TestRenewalSweep_CreatesInvoiceAndAdvancesDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 12)
	f.settleFirstInvoice(t, sub.ID)

	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	today := f.today()

	if err := f.subSvc.CreateInvoicesForTodayActiveSubscriptions(ctx, today); err != nil {
		t.Fatalf("renewal sweep: %v", err)
	}

	invoices := f.invoicesFor(t, sub.ID)
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices after renewal, got %d", len(invoices))
	}
	renewal := invoices[1]
	if renewal.Status != invoicedomain.InvoiceStatusNew {
		t.Errorf("renewal status = %s, want NEW", renewal.Status)
	}
	if want := today.AddDate(0, 0, 7); !clock.DateOf(renewal.DueDate).Equal(want) {
		t.Errorf("renewal due_date = %v, want %v", renewal.DueDate, want)
	}

	reloaded, err := f.subRepo.FindByID(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if want := today.AddDate(0, 1, 0); !clock.DateOf(reloaded.NextInvoiceDate).Equal(want) {
		t.Errorf("next_invoice_date = %v, want %v", reloaded.NextInvoiceDate, want)
	}

	// The sweep is date-idempotent: a second run the same day finds no
	// subscription still due and bills nothing.
	if err := f.subSvc.CreateInvoicesForTodayActiveSubscriptions(ctx, today); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(f.invoicesFor(t, sub.ID)); got != 2 {
		t.Errorf("invoices after repeated sweep = %d, want 2", got)
	}
}

func TestRenewalSweep_SkipsInactiveSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 12)
	// First invoice never paid: the subscription stays inactive.

	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	if err := f.subSvc.CreateInvoicesForTodayActiveSubscriptions(ctx, f.today()); err != nil {
		t.Fatalf("renewal sweep: %v", err)
	}

	if got := len(f.invoicesFor(t, sub.ID)); got != 1 {
		t.Errorf("invoices = %d, want 1 (inactive subscriptions are not billed)", got)
	}
}

func TestRenewal_EndOfTermTakesPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One-month term: end_date and next_invoice_date land on the same day.
	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 1)
	f.settleFirstInvoice(t, sub.ID)

	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	today := f.today()

	if err := f.subSvc.RenewSubscription(ctx, sub.ID, today); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if got := len(f.invoicesFor(t, sub.ID)); got != 1 {
		t.Errorf("invoices = %d, want 1 (term ends today, no renewal billed)", got)
	}

	if err := f.subSvc.FinishSubscriptionsEndingToday(ctx, today); err != nil {
		t.Fatalf("finish sweep: %v", err)
	}
	reloaded, err := f.subRepo.FindByID(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if reloaded.IsActive {
		t.Error("subscription must be deactivated at end of term")
	}
	if got := f.endedEvents(t, "end_of_term"); got != 1 {
		t.Errorf("end_of_term ended events = %d, want 1", got)
	}
}

func TestFinishSubscriptionsEndingToday_LeavesOthersAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	ending := f.subscribe(t, f.node.Generate(), p, 1)
	f.settleFirstInvoice(t, ending.ID)

	other := f.createPlan(t, 900, true)
	running := f.subscribe(t, f.node.Generate(), other, 12)
	f.settleFirstInvoice(t, running.ID)

	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	if err := f.subSvc.FinishSubscriptionsEndingToday(ctx, f.today()); err != nil {
		t.Fatalf("finish sweep: %v", err)
	}

	endedSub, err := f.subRepo.FindByID(ctx, f.db, ending.ID)
	if err != nil {
		t.Fatalf("reload ending: %v", err)
	}
	if endedSub.IsActive {
		t.Error("subscription ending today must be deactivated")
	}

	runningSub, err := f.subRepo.FindByID(ctx, f.db, running.ID)
	if err != nil {
		t.Fatalf("reload running: %v", err)
	}
	if !runningSub.IsActive {
		t.Error("subscription with a later end date must stay active")
	}
}

func TestCancelOverdueInvoice_CancelsAndDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 12)
	f.settleFirstInvoice(t, sub.ID)

	// Renewal invoice goes unpaid past its grace period.
	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	if err := f.subSvc.CreateInvoicesForTodayActiveSubscriptions(ctx, f.today()); err != nil {
		t.Fatalf("renewal sweep: %v", err)
	}

	f.clk.Set(f.clk.Now().AddDate(0, 0, 7))
	if err := f.subSvc.CancelSubscriptionsWithOverdueInvoices(ctx, f.today()); err != nil {
		t.Fatalf("overdue sweep: %v", err)
	}

	invoices := f.invoicesFor(t, sub.ID)
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
	if invoices[1].Status != invoicedomain.InvoiceStatusCancelled {
		t.Errorf("overdue invoice status = %s, want CANCELLED", invoices[1].Status)
	}
	if invoices[0].Status != invoicedomain.InvoiceStatusPaid {
		t.Errorf("paid invoice status = %s, must stay PAID", invoices[0].Status)
	}

	reloaded, err := f.subRepo.FindByID(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if reloaded.IsActive {
		t.Error("subscription with a cancelled invoice must be deactivated")
	}
	if got := f.endedEvents(t, "overdue_invoice"); got != 1 {
		t.Errorf("overdue_invoice ended events = %d, want 1", got)
	}
}

func TestCancelOverdueInvoice_SettledInvoiceUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 12)
	invoiceID := f.invoicesFor(t, sub.ID)[0].ID
	if err := f.paySvc.HandleSuccessfulPayment(ctx, invoiceID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// The cancellation unit re-checks under lock: a settled invoice is a
	// no-op even when the sweep selected it moments earlier.
	if err := f.subSvc.CancelOverdueInvoice(ctx, invoiceID); err != nil {
		t.Fatalf("cancel overdue: %v", err)
	}

	reloaded, err := f.invRepo.FindByID(ctx, f.db, invoiceID)
	if err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if reloaded.Status != invoicedomain.InvoiceStatusPaid {
		t.Errorf("invoice status = %s, must stay PAID", reloaded.Status)
	}

	sub2, err := f.subRepo.FindByID(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if !sub2.IsActive {
		t.Error("subscription must stay active")
	}
}

func TestNextInvoiceDateNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createPlan(t, 2500, true)
	sub := f.subscribe(t, f.node.Generate(), p, 12)
	f.settleFirstInvoice(t, sub.ID)

	f.clk.Set(f.clk.Now().AddDate(0, 1, 0))
	today := f.today()
	if err := f.subSvc.RenewSubscription(ctx, sub.ID, today); err != nil {
		t.Fatalf("renew: %v", err)
	}

	// A replayed unit carrying a stale "today" must not rewind the date
	// or bill again.
	if err := f.subSvc.RenewSubscription(ctx, sub.ID, today); err != nil {
		t.Fatalf("replayed renew: %v", err)
	}

	reloaded, err := f.subRepo.FindByID(ctx, f.db, sub.ID)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	if want := today.AddDate(0, 1, 0); !clock.DateOf(reloaded.NextInvoiceDate).Equal(want) {
		t.Errorf("next_invoice_date = %v, want %v", reloaded.NextInvoiceDate, want)
	}
	if got := len(f.invoicesFor(t, sub.ID)); got != 2 {
		t.Errorf("invoices = %d, want 2", got)
	}
}

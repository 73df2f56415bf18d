package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, service_type, service_id, is_active, start_date,
	end_date, next_invoice_date, subscription_plan_id, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, service_type, service_id, is_active, start_date,
			end_date, next_invoice_date, subscription_plan_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.ServiceType,
		subscription.ServiceID,
		subscription.IsActive,
		subscription.StartDate,
		subscription.EndDate,
		subscription.NextInvoiceDate,
		subscription.SubscriptionPlanID,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, db *gorm.DB, today time.Time) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE is_active = ? AND end_date >= ? AND next_invoice_date = ?
		 ORDER BY id`,
		true, today, today,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListEndingOn(ctx context.Context, db *gorm.DB, day time.Time, forUpdate bool) ([]subscriptiondomain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		 FROM subscriptions
		 WHERE is_active = ? AND end_date = ?
		 ORDER BY id`
	if forUpdate {
		query += `
		 FOR UPDATE`
	}

	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, true, day).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) DeactivateByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET is_active = ?, updated_at = ?
		 WHERE id IN ? AND is_active = ?`,
		false, now, ids, true,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET is_active = ?, updated_at = ?
		 WHERE id = ?`,
		true, now, id,
	).Error
}

func (r *repo) AdvanceNextInvoiceDate(ctx context.Context, db *gorm.DB, id snowflake.ID, next time.Time, now time.Time) error {
	// Guarded so the date only ever moves forward.
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET next_invoice_date = ?, updated_at = ?
		 WHERE id = ? AND next_invoice_date < ?`,
		next, now, id, next,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID *snowflake.ID, active *bool, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		 FROM subscriptions
		 WHERE id > ?`
	args := []any{afterID}

	if userID != nil {
		query += ` AND user_id = ?`
		args = append(args, *userID)
	}
	if active != nil {
		query += ` AND is_active = ?`
		args = append(args, *active)
	}
	query += `
		 ORDER BY id
		 LIMIT ?`
	args = append(args, limit)

	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, args...).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

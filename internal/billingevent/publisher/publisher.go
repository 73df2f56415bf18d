// Package publisher implements the outbox event publisher.
package publisher

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/netvora/billing/internal/billingevent/domain"
	pkgdb "github.com/netvora/billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
}

type Publisher struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) eventdomain.Publisher {
	return &Publisher{
		log:   p.Log.Named("billingevent"),
		genID: p.GenID,
	}
}

func (p *Publisher) Publish(ctx context.Context, tx *gorm.DB, event eventdomain.Event) error {
	row := eventdomain.BillingEvent{
		ID:        p.genID.Generate(),
		EventType: event.Type,
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if event.DedupeKey != "" {
		key := event.DedupeKey
		row.DedupeKey = &key
	}

	err := tx.WithContext(ctx).Exec(
		`INSERT INTO billing_events (id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.EventType,
		row.Payload,
		row.DedupeKey,
		false,
		row.CreatedAt,
	).Error
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// Replayed unit of work; the event already exists.
			p.log.Debug("billing event deduplicated",
				zap.String("event_type", event.Type),
				zap.String("dedupe_key", event.DedupeKey),
			)
			return nil
		}
		return err
	}

	p.log.Info("billing event recorded",
		zap.String("event_type", event.Type),
		zap.String("event_id", row.ID.String()),
	)
	return nil
}

package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// SubscriptionsProjector owns the subscriptions table (spec §3.4, §4.4:
// "upsert on (user_id, feed) replacing timestamps"). feed_title is never
// touched here: it belongs to the out-of-core RSS enrichment collaborator
// (spec §6.6).
type SubscriptionsProjector struct{}

func (SubscriptionsProjector) Name() string { return "subscriptions" }

func (p SubscriptionsProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.UserSubscribed:
		var payload events.SubscriptionPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (user_id, feed, rss_source_id, subscribed_at, unsubscribed_at)
			VALUES ($1, $2, $3, $4, NULL)
			ON CONFLICT (user_id, feed) DO UPDATE SET
				rss_source_id = EXCLUDED.rss_source_id,
				subscribed_at = EXCLUDED.subscribed_at,
				unsubscribed_at = NULL`,
			e.StreamID, payload.Feed, payload.RSSSourceID, payload.SubscribedAt,
		)
		return err

	case events.UserUnsubscribed:
		var payload events.UnsubscribePayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE subscriptions SET unsubscribed_at = $3
			WHERE user_id = $1 AND feed = $2`,
			e.StreamID, payload.Feed, payload.UnsubscribedAt,
		)
		return err
	}
	return nil
}

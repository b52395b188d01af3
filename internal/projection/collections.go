package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// CollectionsProjector owns collections and collection_subscriptions.
// FeedAddedToCollection/FeedRemovedFromCollection are append/remove-only;
// CollectionFeedReordered renumbers position for the whole membership set
// (spec §4.4: "reorder rewrites position for every row in the event").
type CollectionsProjector struct{}

func (CollectionsProjector) Name() string { return "collections" }

func (p CollectionsProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.CollectionCreated:
		var payload events.CollectionCreatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO collections (collection_id, user_id, title, description, color, is_default, is_public, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
			ON CONFLICT (collection_id) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				color = EXCLUDED.color,
				is_default = EXCLUDED.is_default,
				is_public = EXCLUDED.is_public,
				deleted_at = NULL`,
			payload.CollectionID, e.StreamID, payload.Title, payload.Description, payload.Color,
			payload.IsDefault, payload.IsPublic,
		)
		return err

	case events.CollectionUpdated:
		var payload events.CollectionUpdatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE collections SET
				title = COALESCE($3, title),
				description = COALESCE($4, description),
				color = COALESCE($5, color)
			WHERE collection_id = $1 AND user_id = $2`,
			payload.CollectionID, e.StreamID, payload.Title, payload.Description, payload.Color,
		)
		return err

	case events.CollectionDeleted:
		var payload events.CollectionDeletedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE collections SET deleted_at = now()
			WHERE collection_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
			payload.CollectionID, e.StreamID,
		)
		return err

	case events.CollectionVisibilityChanged:
		var payload events.CollectionVisibilityChangedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE collections SET is_public = $3
			WHERE collection_id = $1 AND user_id = $2`,
			payload.CollectionID, e.StreamID, payload.IsPublic,
		)
		return err

	case events.FeedAddedToCollection:
		var payload events.FeedAddedToCollectionPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO collection_subscriptions (collection_id, feed, position)
			VALUES ($1, $2, (
				SELECT COALESCE(MAX(position) + 1, 0) FROM collection_subscriptions WHERE collection_id = $1
			))
			ON CONFLICT (collection_id, feed) DO NOTHING`,
			payload.CollectionID, payload.Feed,
		)
		return err

	case events.FeedRemovedFromCollection:
		var payload events.FeedRemovedFromCollectionPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM collection_subscriptions WHERE collection_id = $1 AND feed = $2`,
			payload.CollectionID, payload.Feed,
		)
		return err

	case events.CollectionFeedReordered:
		var payload events.CollectionFeedReorderedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		for i, feed := range payload.FeedOrder {
			if _, err := tx.Exec(ctx, `
				UPDATE collection_subscriptions SET position = $3
				WHERE collection_id = $1 AND feed = $2`,
				payload.CollectionID, feed, i,
			); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// PlaylistsProjector owns playlists and playlist_items, soft-deleted via
// deleted_at (spec §3.4). EpisodeSaved/EpisodeUnsaved mutate
// playlist_items directly because a playlist can be implicitly created by
// the first save to it (aggregate.apply's EpisodeSaved case: "pl, ok :=
// s.Playlists[p.PlaylistID]; if !ok { pl = Playlist{Name: p.PlaylistID} }").
type PlaylistsProjector struct{}

func (PlaylistsProjector) Name() string { return "playlists" }

func (p PlaylistsProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.PlaylistCreated:
		var payload events.PlaylistCreatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO playlists (playlist_id, user_id, name, description, is_public, deleted_at)
			VALUES ($1, $2, $3, $4, $5, NULL)
			ON CONFLICT (playlist_id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				is_public = EXCLUDED.is_public,
				deleted_at = NULL`,
			payload.PlaylistID, e.StreamID, payload.Name, payload.Description, payload.IsPublic,
		)
		return err

	case events.PlaylistUpdated:
		var payload events.PlaylistUpdatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE playlists SET
				name = COALESCE($3, name),
				description = COALESCE($4, description)
			WHERE playlist_id = $1 AND user_id = $2`,
			payload.PlaylistID, e.StreamID, payload.Name, payload.Description,
		)
		return err

	case events.PlaylistDeleted:
		var payload events.PlaylistDeletedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE playlists SET deleted_at = now()
			WHERE playlist_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
			payload.PlaylistID, e.StreamID,
		)
		return err

	case events.PlaylistVisibilityChanged:
		var payload events.PlaylistVisibilityChangedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE playlists SET is_public = $3
			WHERE playlist_id = $1 AND user_id = $2`,
			payload.PlaylistID, e.StreamID, payload.IsPublic,
		)
		return err

	case events.PlaylistReordered:
		var payload events.PlaylistReorderedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		for _, item := range payload.Items {
			if _, err := tx.Exec(ctx, `
				UPDATE playlist_items SET position = $4
				WHERE playlist_id = $1 AND feed = $2 AND item = $3`,
				payload.PlaylistID, item.Feed, item.Item, item.Position,
			); err != nil {
				return err
			}
		}
		return nil

	case events.EpisodeSaved:
		var payload events.EpisodeSavedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO playlists (playlist_id, user_id, name, is_public)
			VALUES ($1, $2, $1, false)
			ON CONFLICT (playlist_id) DO NOTHING`,
			payload.PlaylistID, e.StreamID,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO playlist_items (playlist_id, feed, item, position)
			VALUES ($1, $2, $3, (
				SELECT COALESCE(MAX(position) + 1, 0) FROM playlist_items WHERE playlist_id = $1
			))
			ON CONFLICT (playlist_id, feed, item) DO NOTHING`,
			payload.PlaylistID, payload.Feed, payload.Item,
		)
		return err

	case events.EpisodeUnsaved:
		var payload events.EpisodeUnsavedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM playlist_items WHERE playlist_id = $1 AND feed = $2 AND item = $3`,
			payload.PlaylistID, payload.Feed, payload.Item,
		)
		return err
	}
	return nil
}

package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// PlayStatusesProjector owns the play_statuses table (spec §3.4, §4.4:
// "upsert on (user_id, item) replacing position/played/updated_at").
type PlayStatusesProjector struct{}

func (PlayStatusesProjector) Name() string { return "play_statuses" }

func (p PlayStatusesProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.PlayRecorded:
		var payload events.PlayRecordedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO play_statuses (user_id, item, feed, position, played, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, item) DO UPDATE SET
				feed = EXCLUDED.feed,
				position = EXCLUDED.position,
				played = EXCLUDED.played,
				updated_at = EXCLUDED.updated_at`,
			e.StreamID, payload.Item, payload.Feed, payload.Position, payload.Played, payload.Timestamp,
		)
		return err

	case events.PositionUpdated:
		var payload events.PositionUpdatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO play_statuses (user_id, item, feed, position, played, updated_at)
			VALUES ($1, $2, $3, $4, false, $5)
			ON CONFLICT (user_id, item) DO UPDATE SET
				feed = EXCLUDED.feed,
				position = EXCLUDED.position,
				updated_at = EXCLUDED.updated_at`,
			e.StreamID, payload.Item, payload.Feed, payload.Position, payload.Timestamp,
		)
		return err
	}
	return nil
}

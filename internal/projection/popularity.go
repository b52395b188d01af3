package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// PopularityProjector owns podcast_popularity and episode_popularity. The
// running score/plays/likes counters are incremented directly off the
// activity stream using the score constants in internal/events (spec §9);
// the _previous columns are only overwritten when SnapshotWorker emits
// PopularityRecalculated at the end of a cycle (spec §4.5), so trending
// deltas compare "since last cycle" rather than "since the last event".
type PopularityProjector struct{}

func (PopularityProjector) Name() string { return "popularity" }

func (p PopularityProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.UserSubscribed:
		var payload events.SubscriptionPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		return p.bumpPodcast(ctx, tx, payload.Feed, events.PopularityScoreSubscribe, 0, 0)

	case events.PlayRecorded:
		var payload events.PlayRecordedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if err := p.bumpPodcast(ctx, tx, payload.Feed, events.PopularityScorePlay, 1, 0); err != nil {
			return err
		}
		return p.bumpEpisode(ctx, tx, payload.Item, payload.Feed, events.PopularityScorePlay, 1, 0)

	case events.EpisodeSaved:
		var payload events.EpisodeSavedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if err := p.bumpPodcast(ctx, tx, payload.Feed, events.PopularityScoreSave, 0, 1); err != nil {
			return err
		}
		return p.bumpEpisode(ctx, tx, payload.Item, payload.Feed, events.PopularityScoreSave, 0, 1)

	case events.EpisodeShared:
		var payload events.EpisodeSharedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if err := p.bumpPodcast(ctx, tx, payload.Feed, events.PopularityScoreShare, 0, 1); err != nil {
			return err
		}
		return p.bumpEpisode(ctx, tx, payload.Item, payload.Feed, events.PopularityScoreShare, 0, 1)

	case events.PopularityRecalculated:
		var payload events.PopularityRecalculatedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE podcast_popularity SET score_previous = $2, plays_previous = $3
			WHERE feed = $1`,
			payload.Feed, payload.ScorePrevious, payload.PlaysPrevious,
		)
		return err
	}
	return nil
}

func (p PopularityProjector) bumpPodcast(ctx context.Context, tx pgx.Tx, feed string, score, plays, likes int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO podcast_popularity (feed, score, plays, likes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (feed) DO UPDATE SET
			score = podcast_popularity.score + EXCLUDED.score,
			plays = podcast_popularity.plays + EXCLUDED.plays,
			likes = podcast_popularity.likes + EXCLUDED.likes`,
		feed, score, plays, likes,
	)
	return err
}

func (p PopularityProjector) bumpEpisode(ctx context.Context, tx pgx.Tx, item, feed string, score, plays, likes int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO episode_popularity (item, feed, score, plays, likes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item) DO UPDATE SET
			score = episode_popularity.score + EXCLUDED.score,
			plays = episode_popularity.plays + EXCLUDED.plays,
			likes = episode_popularity.likes + EXCLUDED.likes`,
		item, feed, score, plays, likes,
	)
	return err
}

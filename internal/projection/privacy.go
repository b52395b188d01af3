package projection

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/podcloud/balados-sync/internal/events"
)

// publicEventTypes are the event types eligible to appear in public_events
// (spec §4.4.1: popularity-contributing activity only).
var publicEventTypes = []string{
	string(events.UserSubscribed),
	string(events.PlayRecorded),
	string(events.EpisodeSaved),
	string(events.EpisodeShared),
}

// PrivacyProjector owns user_privacy and public_events (spec §3.4, §4.4.1).
// It reacts to every public-event-eligible event type so newly-recorded
// activity is classified as it arrives, and to PrivacyChanged/EventsRemoved
// so a retroactive privacy change rewrites previously-classified rows.
type PrivacyProjector struct{}

func (PrivacyProjector) Name() string { return "privacy" }

func (p PrivacyProjector) Apply(ctx context.Context, tx pgx.Tx, e events.Event) error {
	switch e.Type {
	case events.UserSubscribed:
		var payload events.SubscriptionPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		return p.classify(ctx, tx, e, payload.Feed, "")

	case events.PlayRecorded:
		var payload events.PlayRecordedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		return p.classify(ctx, tx, e, payload.Feed, payload.Item)

	case events.EpisodeSaved:
		var payload events.EpisodeSavedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		return p.classify(ctx, tx, e, payload.Feed, payload.Item)

	case events.EpisodeShared:
		var payload events.EpisodeSharedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		return p.classify(ctx, tx, e, payload.Feed, payload.Item)

	case events.PrivacyChanged:
		var payload events.PrivacyChangedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_privacy (user_id, feed, item, privacy)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, feed, item) DO UPDATE SET privacy = EXCLUDED.privacy`,
			e.StreamID, payload.Feed, payload.Item, payload.Privacy,
		); err != nil {
			return err
		}
		return p.rewriteScope(ctx, tx, e.StreamID, payload.Feed, payload.Item)

	case events.EventsRemoved:
		var payload events.EventsRemovedPayload
		if err := e.Decode(&payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			DELETE FROM public_events
			WHERE user_id = $1
				AND ($2 = '' OR feed = $2)
				AND ($3 = '' OR item = $3)`,
			e.StreamID, payload.Feed, payload.Item,
		)
		return err
	}
	return nil
}

// classify inserts e into public_events if its (feed, item) pair's
// effective privacy is public or anonymous (spec §4.4.1: "emit... iff
// effective privacy in {public, anonymous}").
func (p PrivacyProjector) classify(ctx context.Context, tx pgx.Tx, e events.Event, feed, item string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO public_events (user_id, feed, item, type, privacy, occurred_at, global_position)
		SELECT $1, $2, $3, $4, eff.privacy, $5, $6
		FROM (SELECT (`+effectivePrivacyExpr("$2", "$3")+`) AS privacy) eff
		WHERE eff.privacy IN ('public', 'anonymous')
		ON CONFLICT (user_id, feed, item, type, global_position) DO UPDATE SET privacy = EXCLUDED.privacy`,
		e.StreamID, feed, item, string(e.Type), e.RecordedAt, e.GlobalPosition,
	)
	return err
}

// effectivePrivacyExpr builds the §4.4.1 priority-rule expression against
// the given feed/item column references, correlated to $1 as user_id. Used
// to re-derive effective privacy per-row when a single PrivacyChanged event
// can affect many previously-classified rows at once.
func effectivePrivacyExpr(feedCol, itemCol string) string {
	return `COALESCE(
		(SELECT privacy FROM user_privacy WHERE user_id = $1 AND feed = ` + feedCol + ` AND item = ` + itemCol + `),
		(SELECT privacy FROM user_privacy WHERE user_id = $1 AND feed = ` + feedCol + ` AND item = ''),
		(SELECT privacy FROM user_privacy WHERE user_id = $1 AND feed = '' AND item = ''),
		'public'
	)`
}

// rewriteScope re-evaluates every public-event-eligible event this user has
// recorded within the (feed, item) scope just changed by PrivacyChanged: it
// removes rows that are now private and (re)inserts rows that are now
// public or anonymous, matching the in-memory EffectivePrivacy priority
// rule (aggregate/state.go) exactly.
func (p PrivacyProjector) rewriteScope(ctx context.Context, tx pgx.Tx, userID, feed, item string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM public_events pe
		WHERE pe.user_id = $1
			AND ($2 = '' OR pe.feed = $2)
			AND ($3 = '' OR pe.item = $3)
			AND (`+effectivePrivacyExpr("pe.feed", "pe.item")+`) = 'private'`,
		userID, feed, item,
	); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO public_events (user_id, feed, item, type, privacy, occurred_at, global_position)
		SELECT e.stream_id, e.payload->>'feed', COALESCE(e.payload->>'item', ''), e.type,
			(`+effectivePrivacyExpr("e.payload->>'feed'", "COALESCE(e.payload->>'item', '')")+`) AS effective,
			e.recorded_at, e.global_position
		FROM events e
		WHERE e.stream_id = $1
			AND e.type = ANY($4)
			AND ($2 = '' OR e.payload->>'feed' = $2)
			AND ($3 = '' OR COALESCE(e.payload->>'item', '') = $3)
			AND (`+effectivePrivacyExpr("e.payload->>'feed'", "COALESCE(e.payload->>'item', '')")+`) IN ('public', 'anonymous')
		ON CONFLICT (user_id, feed, item, type, global_position) DO UPDATE SET privacy = EXCLUDED.privacy`,
		userID, feed, item, publicEventTypes,
	)
	return err
}

package aggregate

import "github.com/podcloud/balados-sync/internal/events"

// Apply is total and side-effect-free in the sense spec §4.2 requires:
// given any state and any event, it returns the next state without ever
// failing on a structurally valid payload, even when the event references
// an entity missing from state (e.g. CollectionVisibilityChanged for an
// unknown collection silently no-ops). It mutates s in place and returns
// it, since s is privately owned by the caller holding the stream's lock;
// "side-effect-free" here means no I/O, not copy-on-write.
//
// The only error Apply can return is a payload decode failure, which the
// runtime treats as the §7 "Fatal: corrupted event payload" case and uses
// to quarantine the stream.
func Apply(s *State, e events.Event) (*State, error) {
	switch e.Type {
	case events.UserSubscribed:
		var p events.SubscriptionPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		s.Subscriptions[p.Feed] = Subscription{RSSSourceID: p.RSSSourceID, SubscribedAt: p.SubscribedAt}

	case events.UserUnsubscribed:
		var p events.UnsubscribePayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if sub, ok := s.Subscriptions[p.Feed]; ok {
			t := p.UnsubscribedAt
			sub.UnsubscribedAt = &t
			s.Subscriptions[p.Feed] = sub
		}

	case events.PlayRecorded:
		var p events.PlayRecordedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		s.PlayStatuses[p.Item] = PlayStatus{Feed: p.Feed, Position: p.Position, Played: p.Played, UpdatedAt: p.Timestamp}

	case events.PositionUpdated:
		var p events.PositionUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		ps := s.PlayStatuses[p.Item]
		ps.Feed = p.Feed
		ps.Position = p.Position
		ps.UpdatedAt = p.Timestamp
		s.PlayStatuses[p.Item] = ps

	case events.EpisodeSaved:
		var p events.EpisodeSavedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		pl, ok := s.Playlists[p.PlaylistID]
		if !ok {
			pl = Playlist{Name: p.PlaylistID}
		}
		pl.Items = append(pl.Items, PlaylistItem{Feed: p.Feed, Item: p.Item, Position: len(pl.Items)})
		s.Playlists[p.PlaylistID] = pl

	case events.EpisodeUnsaved:
		var p events.EpisodeUnsavedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if pl, ok := s.Playlists[p.PlaylistID]; ok {
			items := pl.Items[:0]
			for _, it := range pl.Items {
				if it.Feed == p.Feed && it.Item == p.Item {
					continue
				}
				items = append(items, it)
			}
			pl.Items = items
			s.Playlists[p.PlaylistID] = pl
		}

	case events.EpisodeShared:
		// No state to update; sharing is an observable fact recorded
		// only in the log and read models.

	case events.PrivacyChanged:
		var p events.PrivacyChangedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		s.Privacy[PrivacyKey{Feed: p.Feed, Item: p.Item}] = p.Privacy

	case events.EventsRemoved:
		// Aggregate state holds no per-event history to remove; this
		// event only drives the public_events read-model projector.

	case events.PlaylistCreated:
		var p events.PlaylistCreatedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		s.Playlists[p.PlaylistID] = Playlist{Name: p.Name, Description: p.Description, IsPublic: p.IsPublic}

	case events.PlaylistUpdated:
		var p events.PlaylistUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if pl, ok := s.Playlists[p.PlaylistID]; ok {
			if p.Name != nil {
				pl.Name = *p.Name
			}
			if p.Description != nil {
				pl.Description = *p.Description
			}
			s.Playlists[p.PlaylistID] = pl
		}

	case events.PlaylistDeleted:
		var p events.PlaylistDeletedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		delete(s.Playlists, p.PlaylistID)

	case events.PlaylistReordered:
		var p events.PlaylistReorderedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if pl, ok := s.Playlists[p.PlaylistID]; ok {
			items := make([]PlaylistItem, len(p.Items))
			for i, it := range p.Items {
				items[i] = PlaylistItem{Feed: it.Feed, Item: it.Item, Position: it.Position}
			}
			pl.Items = items
			s.Playlists[p.PlaylistID] = pl
		}

	case events.PlaylistVisibilityChanged:
		var p events.PlaylistVisibilityChangedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if pl, ok := s.Playlists[p.PlaylistID]; ok {
			pl.IsPublic = p.IsPublic
			s.Playlists[p.PlaylistID] = pl
		}

	case events.CollectionCreated:
		var p events.CollectionCreatedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		s.Collections[p.CollectionID] = Collection{
			Title: p.Title, Description: p.Description, Color: p.Color,
			IsDefault: p.IsDefault, IsPublic: p.IsPublic,
		}

	case events.CollectionUpdated:
		var p events.CollectionUpdatedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if col, ok := s.Collections[p.CollectionID]; ok {
			if p.Title != nil {
				col.Title = *p.Title
			}
			if p.Description != nil {
				col.Description = *p.Description
			}
			if p.Color != nil {
				col.Color = *p.Color
			}
			s.Collections[p.CollectionID] = col
		}

	case events.CollectionDeleted:
		var p events.CollectionDeletedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		delete(s.Collections, p.CollectionID)

	case events.CollectionVisibilityChanged:
		var p events.CollectionVisibilityChangedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if col, ok := s.Collections[p.CollectionID]; ok {
			col.IsPublic = p.IsPublic
			s.Collections[p.CollectionID] = col
		}

	case events.FeedAddedToCollection:
		var p events.FeedAddedToCollectionPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if col, ok := s.Collections[p.CollectionID]; ok {
			for _, f := range col.FeedIDs {
				if f == p.Feed {
					s.Collections[p.CollectionID] = col
					return s, nil
				}
			}
			col.FeedIDs = append(col.FeedIDs, p.Feed)
			s.Collections[p.CollectionID] = col
		}

	case events.FeedRemovedFromCollection:
		var p events.FeedRemovedFromCollectionPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if col, ok := s.Collections[p.CollectionID]; ok {
			feeds := col.FeedIDs[:0]
			for _, f := range col.FeedIDs {
				if f == p.Feed {
					continue
				}
				feeds = append(feeds, f)
			}
			col.FeedIDs = feeds
			s.Collections[p.CollectionID] = col
		}

	case events.CollectionFeedReordered:
		var p events.CollectionFeedReorderedPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		if col, ok := s.Collections[p.CollectionID]; ok {
			col.FeedIDs = append([]string(nil), p.FeedOrder...)
			s.Collections[p.CollectionID] = col
		}

	case events.UserCheckpoint:
		var p events.UserCheckpointPayload
		if err := e.Decode(&p); err != nil {
			return s, err
		}
		applyCheckpoint(s, p)

	case events.PopularityRecalculated:
		// Consumed only by the popularity projector; no aggregate state.

	default:
		// Unknown event type: leave state unchanged rather than fail, per
		// the "apply must never fail during replay" design note.
	}

	s.StreamVersion = e.StreamVersion
	return s, nil
}

// applyCheckpoint REPLACES state wholesale from the snapshot, per the
// pinned Open Question answer in spec §9.
func applyCheckpoint(s *State, p events.UserCheckpointPayload) {
	s.Subscriptions = make(map[string]Subscription, len(p.Subscriptions))
	for feed, sub := range p.Subscriptions {
		s.Subscriptions[feed] = Subscription{
			RSSSourceID: sub.RSSSourceID, SubscribedAt: sub.SubscribedAt, UnsubscribedAt: sub.UnsubscribedAt,
		}
	}

	s.PlayStatuses = make(map[string]PlayStatus, len(p.PlayStatuses))
	for item, ps := range p.PlayStatuses {
		s.PlayStatuses[item] = PlayStatus{Feed: ps.Feed, Position: ps.Position, Played: ps.Played, UpdatedAt: ps.UpdatedAt}
	}

	s.Playlists = make(map[string]Playlist, len(p.Playlists))
	for id, pl := range p.Playlists {
		items := make([]PlaylistItem, len(pl.Items))
		for i, it := range pl.Items {
			items[i] = PlaylistItem{Feed: it.Feed, Item: it.Item, Position: it.Position}
		}
		s.Playlists[id] = Playlist{Name: pl.Name, Description: pl.Description, IsPublic: pl.IsPublic, Items: items}
	}

	s.Collections = make(map[string]Collection, len(p.Collections))
	for id, col := range p.Collections {
		s.Collections[id] = Collection{
			Title: col.Title, Description: col.Description, Color: col.Color,
			IsDefault: col.IsDefault, IsPublic: col.IsPublic, FeedIDs: append([]string(nil), col.FeedIDs...),
		}
	}

	s.Privacy = make(map[PrivacyKey]string, len(p.Privacy))
	for key, level := range p.Privacy {
		s.Privacy[parsePrivacyKeyString(key)] = level
	}
}

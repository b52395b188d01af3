package aggregate

import (
	"time"

	"github.com/google/uuid"

	"github.com/podcloud/balados-sync/internal/events"
)

// handlerFunc is a pure function: given the current state, a command, and
// the event metadata to stamp onto every produced event, it returns the
// events to append or a validation error. It must not mutate state; Apply
// is the only thing allowed to mutate state.
type handlerFunc func(s *State, cmd Command, meta events.Metadata) ([]events.Event, error)

var handlerTable = map[Kind]handlerFunc{
	KindSubscribe:                  handleSubscribe,
	KindUnsubscribe:                handleUnsubscribe,
	KindRecordPlay:                 handleRecordPlay,
	KindUpdatePosition:             handleUpdatePosition,
	KindSaveEpisode:                handleSaveEpisode,
	KindUnsaveEpisode:              handleUnsaveEpisode,
	KindShareEpisode:               handleShareEpisode,
	KindChangePrivacy:              handleChangePrivacy,
	KindRemoveEvents:               handleRemoveEvents,
	KindCreatePlaylist:             handleCreatePlaylist,
	KindDeletePlaylist:             handleDeletePlaylist,
	KindUpdatePlaylist:             handleUpdatePlaylist,
	KindReorderPlaylist:            handleReorderPlaylist,
	KindChangePlaylistVisibility:   handleChangePlaylistVisibility,
	KindCreateCollection:           handleCreateCollection,
	KindUpdateCollection:           handleUpdateCollection,
	KindDeleteCollection:           handleDeleteCollection,
	KindChangeCollectionVisibility: handleChangeCollectionVisibility,
	KindAddFeedToCollection:        handleAddFeedToCollection,
	KindRemoveFeedFromCollection:   handleRemoveFeedFromCollection,
	KindReorderCollectionFeed:      handleReorderCollectionFeed,
	KindSnapshot:                   handleSnapshot,
	KindSyncUserData:               handleSyncUserData,
}

// Handle looks up cmd.Kind() in the per-type handler table and invokes it.
// This is the explicit, reflection-free dispatch called for by spec §9.
func Handle(s *State, cmd Command, meta events.Metadata) ([]events.Event, error) {
	h, ok := handlerTable[cmd.Kind()]
	if !ok {
		return nil, validationErr(ReasonUnknownCommand)
	}
	return h(s, cmd, meta)
}

func newEvent(userID string, typ events.Type, payload any, meta events.Metadata) (events.Event, error) {
	return events.NewEvent(userID, typ, payload, meta)
}

func handleSubscribe(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(Subscribe)
	now := time.Now().UTC()
	var out []events.Event

	e, err := newEvent(cmd.UserIDValue, events.UserSubscribed, events.SubscriptionPayload{
		Feed:         cmd.Feed,
		RSSSourceID:  cmd.RSSSourceID,
		SubscribedAt: now,
	}, meta)
	if err != nil {
		return nil, err
	}
	out = append(out, e)

	if len(s.Collections) == 0 {
		defaultID := uuid.NewString()
		ce, err := newEvent(cmd.UserIDValue, events.CollectionCreated, events.CollectionCreatedPayload{
			CollectionID: defaultID,
			Title:        "All Subscriptions",
			IsDefault:    true,
		}, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, ce)

		fe, err := newEvent(cmd.UserIDValue, events.FeedAddedToCollection, events.FeedAddedToCollectionPayload{
			CollectionID: defaultID,
			Feed:         cmd.Feed,
		}, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, fe)
	}

	return out, nil
}

func handleUnsubscribe(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(Unsubscribe)
	if !s.IsSubscribed(cmd.Feed) {
		return nil, validationErr(ReasonNotSubscribed)
	}
	e, err := newEvent(cmd.UserIDValue, events.UserUnsubscribed, events.UnsubscribePayload{
		Feed:           cmd.Feed,
		UnsubscribedAt: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleRecordPlay(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(RecordPlay)
	if cmd.Position < 0 {
		return nil, validationErr(ReasonInvalidPosition)
	}
	e, err := newEvent(cmd.UserIDValue, events.PlayRecorded, events.PlayRecordedPayload{
		Feed: cmd.Feed, Item: cmd.Item, Position: cmd.Position, Played: cmd.Played,
		Timestamp: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleUpdatePosition(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(UpdatePosition)
	if cmd.Position < 0 {
		return nil, validationErr(ReasonInvalidPosition)
	}
	e, err := newEvent(cmd.UserIDValue, events.PositionUpdated, events.PositionUpdatedPayload{
		Feed: cmd.Feed, Item: cmd.Item, Position: cmd.Position, Timestamp: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleSaveEpisode(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(SaveEpisode)
	if !s.IsSubscribed(cmd.Feed) {
		return nil, validationErr(ReasonFeedNotSubscribed)
	}
	e, err := newEvent(cmd.UserIDValue, events.EpisodeSaved, events.EpisodeSavedPayload{
		PlaylistID: cmd.PlaylistID, Feed: cmd.Feed, Item: cmd.Item,
		ItemTitle: cmd.ItemTitle, FeedTitle: cmd.FeedTitle,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleUnsaveEpisode(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(UnsaveEpisode)
	saved := false
	if pl, ok := s.Playlists[cmd.PlaylistID]; ok {
		for _, it := range pl.Items {
			if it.Feed == cmd.Feed && it.Item == cmd.Item {
				saved = true
				break
			}
		}
	}
	if !saved {
		return nil, validationErr(ReasonEpisodeNotSaved)
	}
	e, err := newEvent(cmd.UserIDValue, events.EpisodeUnsaved, events.EpisodeUnsavedPayload{
		PlaylistID: cmd.PlaylistID, Feed: cmd.Feed, Item: cmd.Item,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleShareEpisode(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ShareEpisode)
	e, err := newEvent(cmd.UserIDValue, events.EpisodeShared, events.EpisodeSharedPayload{
		Feed: cmd.Feed, Item: cmd.Item,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleChangePrivacy(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ChangePrivacy)
	e, err := newEvent(cmd.UserIDValue, events.PrivacyChanged, events.PrivacyChangedPayload{
		Privacy: cmd.Privacy, Feed: cmd.Feed, Item: cmd.Item,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleRemoveEvents(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(RemoveEvents)
	e, err := newEvent(cmd.UserIDValue, events.EventsRemoved, events.EventsRemovedPayload{
		Feed: cmd.Feed, Item: cmd.Item,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleCreatePlaylist(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(CreatePlaylist)
	if cmd.Name == "" {
		return nil, validationErr(ReasonNameRequired)
	}
	id := cmd.PlaylistID
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := s.Playlists[id]; exists {
		return nil, validationErr(ReasonPlaylistAlreadyExists)
	}
	e, err := newEvent(cmd.UserIDValue, events.PlaylistCreated, events.PlaylistCreatedPayload{
		PlaylistID: id, Name: cmd.Name, Description: cmd.Description, IsPublic: cmd.IsPublic,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleDeletePlaylist(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(DeletePlaylist)
	if _, ok := s.Playlists[cmd.PlaylistID]; !ok {
		return nil, validationErr(ReasonPlaylistNotFound)
	}
	e, err := newEvent(cmd.UserIDValue, events.PlaylistDeleted, events.PlaylistDeletedPayload{
		PlaylistID: cmd.PlaylistID,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleUpdatePlaylist(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(UpdatePlaylist)
	if _, ok := s.Playlists[cmd.PlaylistID]; !ok {
		return nil, validationErr(ReasonPlaylistNotFound)
	}
	if cmd.Name != nil && *cmd.Name == "" {
		return nil, validationErr(ReasonNameRequired)
	}
	e, err := newEvent(cmd.UserIDValue, events.PlaylistUpdated, events.PlaylistUpdatedPayload{
		PlaylistID: cmd.PlaylistID, Name: cmd.Name, Description: cmd.Description,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleReorderPlaylist(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ReorderPlaylist)
	pl, ok := s.Playlists[cmd.PlaylistID]
	if !ok {
		return nil, validationErr(ReasonPlaylistNotFound)
	}
	if cmd.NewPosition < 0 || cmd.NewPosition >= len(pl.Items) {
		return nil, validationErr(ReasonInvalidPosition)
	}
	reordered := reorderItems(pl.Items, cmd.Feed, cmd.Item, cmd.NewPosition)
	items := make([]events.PlaylistItem, len(reordered))
	for i, it := range reordered {
		items[i] = events.PlaylistItem{Feed: it.Feed, Item: it.Item, Position: i}
	}
	e, err := newEvent(cmd.UserIDValue, events.PlaylistReordered, events.PlaylistReorderedPayload{
		PlaylistID: cmd.PlaylistID, Items: items,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

// reorderItems removes the (feed,item) entry and re-inserts it at
// newPosition. Position fields are left as they were; the caller
// renumbers them.
func reorderItems(items []PlaylistItem, feed, item string, newPosition int) []PlaylistItem {
	ordered := make([]PlaylistItem, len(items))
	copy(ordered, items)
	idx := -1
	for i, it := range ordered {
		if it.Feed == feed && it.Item == item {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ordered
	}
	moved := ordered[idx]
	ordered = append(ordered[:idx], ordered[idx+1:]...)
	if newPosition > len(ordered) {
		newPosition = len(ordered)
	}
	ordered = append(ordered[:newPosition], append([]PlaylistItem{moved}, ordered[newPosition:]...)...)
	return ordered
}

func handleChangePlaylistVisibility(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ChangePlaylistVisibility)
	if _, ok := s.Playlists[cmd.PlaylistID]; !ok {
		return nil, validationErr(ReasonPlaylistNotFound)
	}
	e, err := newEvent(cmd.UserIDValue, events.PlaylistVisibilityChanged, events.PlaylistVisibilityChangedPayload{
		PlaylistID: cmd.PlaylistID, IsPublic: cmd.IsPublic,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleCreateCollection(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(CreateCollection)
	if cmd.Title == "" {
		return nil, validationErr(ReasonNameRequired)
	}
	if cmd.IsDefault {
		if _, exists := s.DefaultCollectionID(); exists {
			return nil, validationErr(ReasonDefaultCollectionAlreadyExists)
		}
	}
	id := cmd.CollectionID
	if id == "" {
		id = uuid.NewString()
	}
	e, err := newEvent(cmd.UserIDValue, events.CollectionCreated, events.CollectionCreatedPayload{
		CollectionID: id, Title: cmd.Title, Description: cmd.Description, Color: cmd.Color,
		IsDefault: cmd.IsDefault, IsPublic: cmd.IsPublic,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleUpdateCollection(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(UpdateCollection)
	if _, ok := s.Collections[cmd.CollectionID]; !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	if cmd.Title != nil && *cmd.Title == "" {
		return nil, validationErr(ReasonNameRequired)
	}
	e, err := newEvent(cmd.UserIDValue, events.CollectionUpdated, events.CollectionUpdatedPayload{
		CollectionID: cmd.CollectionID, Title: cmd.Title, Description: cmd.Description, Color: cmd.Color,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleDeleteCollection(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(DeleteCollection)
	col, ok := s.Collections[cmd.CollectionID]
	if !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	if col.IsDefault {
		return nil, validationErr(ReasonCannotDeleteDefaultCollection)
	}
	e, err := newEvent(cmd.UserIDValue, events.CollectionDeleted, events.CollectionDeletedPayload{
		CollectionID: cmd.CollectionID,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleChangeCollectionVisibility(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ChangeCollectionVisibility)
	if _, ok := s.Collections[cmd.CollectionID]; !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	e, err := newEvent(cmd.UserIDValue, events.CollectionVisibilityChanged, events.CollectionVisibilityChangedPayload{
		CollectionID: cmd.CollectionID, IsPublic: cmd.IsPublic,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleAddFeedToCollection(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(AddFeedToCollection)
	if _, ok := s.Collections[cmd.CollectionID]; !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	if !s.IsSubscribed(cmd.Feed) {
		return nil, validationErr(ReasonFeedNotSubscribed)
	}
	e, err := newEvent(cmd.UserIDValue, events.FeedAddedToCollection, events.FeedAddedToCollectionPayload{
		CollectionID: cmd.CollectionID, Feed: cmd.Feed,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleRemoveFeedFromCollection(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(RemoveFeedFromCollection)
	if _, ok := s.Collections[cmd.CollectionID]; !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	e, err := newEvent(cmd.UserIDValue, events.FeedRemovedFromCollection, events.FeedRemovedFromCollectionPayload{
		CollectionID: cmd.CollectionID, Feed: cmd.Feed,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func handleReorderCollectionFeed(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(ReorderCollectionFeed)
	col, ok := s.Collections[cmd.CollectionID]
	if !ok {
		return nil, validationErr(ReasonCollectionNotFound)
	}
	found := false
	for _, f := range col.FeedIDs {
		if f == cmd.Feed {
			found = true
			break
		}
	}
	if !found {
		return nil, validationErr(ReasonFeedNotInCollection)
	}
	if cmd.NewPosition < 0 || cmd.NewPosition >= len(col.FeedIDs) {
		return nil, validationErr(ReasonInvalidPosition)
	}
	reordered := reorderFeeds(col.FeedIDs, cmd.Feed, cmd.NewPosition)
	e, err := newEvent(cmd.UserIDValue, events.CollectionFeedReordered, events.CollectionFeedReorderedPayload{
		CollectionID: cmd.CollectionID, FeedOrder: reordered,
	}, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

func reorderFeeds(feeds []string, feed string, newPosition int) []string {
	ordered := make([]string, len(feeds))
	copy(ordered, feeds)
	idx := -1
	for i, f := range ordered {
		if f == feed {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ordered
	}
	ordered = append(ordered[:idx], ordered[idx+1:]...)
	if newPosition > len(ordered) {
		newPosition = len(ordered)
	}
	tail := append([]string{feed}, ordered[newPosition:]...)
	return append(ordered[:newPosition], tail...)
}

func handleSnapshot(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(Snapshot)
	payload := events.UserCheckpointPayload{
		Subscriptions: make(map[string]events.CheckpointSubscription, len(s.Subscriptions)),
		PlayStatuses:  make(map[string]events.CheckpointPlayStatus, len(s.PlayStatuses)),
		Playlists:     make(map[string]events.CheckpointPlaylist, len(s.Playlists)),
		Collections:   make(map[string]events.CheckpointCollection, len(s.Collections)),
		Privacy:       make(map[string]string, len(s.Privacy)),
	}
	for feed, sub := range s.Subscriptions {
		payload.Subscriptions[feed] = events.CheckpointSubscription{
			RSSSourceID: sub.RSSSourceID, SubscribedAt: sub.SubscribedAt, UnsubscribedAt: sub.UnsubscribedAt,
		}
	}
	for item, ps := range s.PlayStatuses {
		payload.PlayStatuses[item] = events.CheckpointPlayStatus{
			Feed: ps.Feed, Position: ps.Position, Played: ps.Played, UpdatedAt: ps.UpdatedAt,
		}
	}
	for id, pl := range s.Playlists {
		items := make([]events.PlaylistItem, len(pl.Items))
		for i, it := range pl.Items {
			items[i] = events.PlaylistItem{Feed: it.Feed, Item: it.Item, Position: it.Position}
		}
		payload.Playlists[id] = events.CheckpointPlaylist{
			Name: pl.Name, Description: pl.Description, IsPublic: pl.IsPublic, Items: items,
		}
	}
	for id, col := range s.Collections {
		payload.Collections[id] = events.CheckpointCollection{
			Title: col.Title, Description: col.Description, Color: col.Color,
			IsDefault: col.IsDefault, IsPublic: col.IsPublic, FeedIDs: col.FeedIDs,
		}
	}
	for key, level := range s.Privacy {
		payload.Privacy[privacyKeyString(key)] = level
	}
	e, err := newEvent(cmd.UserIDValue, events.UserCheckpoint, payload, meta)
	if err != nil {
		return nil, err
	}
	return []events.Event{e}, nil
}

// privacyKeyString encodes a PrivacyKey for the checkpoint payload's flat
// map, which JSON cannot key by struct.
func privacyKeyString(k PrivacyKey) string {
	return k.Feed + "\x00" + k.Item
}

func parsePrivacyKeyString(s string) PrivacyKey {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return PrivacyKey{Feed: s[:i], Item: s[i+1:]}
		}
	}
	return PrivacyKey{Feed: s}
}

// handleSyncUserData diffs Desired against the current state and emits the
// minimal set of commands' worth of events needed to reconcile (spec
// §4.2). Subscriptions and play positions are the two fields a client can
// assert; everything else is derived server-side only.
func handleSyncUserData(s *State, c Command, meta events.Metadata) ([]events.Event, error) {
	cmd := c.(SyncUserData)
	var out []events.Event

	// Evaluate sub-commands against a scratch clone, applying each
	// produced event immediately so later sub-commands in this same
	// batch see an up-to-date picture (e.g. the second Subscribe in a
	// multi-feed sync must not re-create the default collection the
	// first one already created). The real aggregate is only mutated
	// later by the runtime, once the whole batch is durably appended.
	scratch := s.Clone()

	applyAndCollect := func(evs []events.Event, err error) error {
		if err != nil {
			return err
		}
		for _, e := range evs {
			if _, err := Apply(scratch, e); err != nil {
				return err
			}
		}
		out = append(out, evs...)
		return nil
	}

	for feed, desired := range cmd.Desired.Subscriptions {
		current, exists := scratch.Subscriptions[feed]
		if !exists || !current.Subscribed() {
			if err := applyAndCollect(handleSubscribe(scratch, Subscribe{UserIDValue: cmd.UserIDValue, Feed: feed, RSSSourceID: desired.RSSSourceID}, meta)); err != nil {
				return nil, err
			}
		}
	}

	for item, desired := range cmd.Desired.PlayStatuses {
		current, exists := scratch.PlayStatuses[item]
		if exists && current.Position == desired.Position && current.Played == desired.Played {
			continue
		}
		if err := applyAndCollect(handleRecordPlay(scratch, RecordPlay{
			UserIDValue: cmd.UserIDValue, Feed: desired.Feed, Item: item,
			Position: desired.Position, Played: desired.Played,
		}, meta)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

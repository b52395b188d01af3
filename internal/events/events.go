// Package events defines the immutable event catalog for the podcast sync
// aggregate: the wire-neutral envelope, the full list of event types, and
// their payload shapes. Every event recorded by the event store is one of
// the types defined here.
package events

import (
	"time"

	json "github.com/goccy/go-json"
)

// Type identifies an event's shape. It is the `type` column of the events
// table and the discriminant used for explicit (non-reflective) dispatch
// in the aggregate's apply table.
type Type string

const (
	UserSubscribed   Type = "UserSubscribed"
	UserUnsubscribed Type = "UserUnsubscribed"

	PlayRecorded    Type = "PlayRecorded"
	PositionUpdated Type = "PositionUpdated"

	EpisodeSaved   Type = "EpisodeSaved"
	EpisodeUnsaved Type = "EpisodeUnsaved"
	EpisodeShared  Type = "EpisodeShared"

	PrivacyChanged Type = "PrivacyChanged"
	EventsRemoved  Type = "EventsRemoved"

	PlaylistCreated           Type = "PlaylistCreated"
	PlaylistUpdated           Type = "PlaylistUpdated"
	PlaylistDeleted           Type = "PlaylistDeleted"
	PlaylistReordered         Type = "PlaylistReordered"
	PlaylistVisibilityChanged Type = "PlaylistVisibilityChanged"

	CollectionCreated           Type = "CollectionCreated"
	CollectionUpdated           Type = "CollectionUpdated"
	CollectionDeleted           Type = "CollectionDeleted"
	CollectionVisibilityChanged Type = "CollectionVisibilityChanged"

	FeedAddedToCollection   Type = "FeedAddedToCollection"
	FeedRemovedFromCollection Type = "FeedRemovedFromCollection"
	CollectionFeedReordered  Type = "CollectionFeedReordered"

	UserCheckpoint        Type = "UserCheckpoint"
	PopularityRecalculated Type = "PopularityRecalculated"
)

// Metadata is copied verbatim from the command envelope into every event
// produced by handling that command (spec §6.5). Recognized keys are
// device_id, device_name, and privacy; unrecognized keys are preserved but
// ignored by the core.
type Metadata map[string]string

// Event is an immutable, already-persisted record: a (stream_id,
// stream_version) pair, its global_position, its typed payload, and the
// metadata carried from the originating command.
type Event struct {
	StreamID       string
	StreamVersion  int64
	GlobalPosition int64
	Type           Type
	Payload        json.RawMessage
	Metadata       Metadata
	RecordedAt     time.Time
}

// NewEvent builds an unpersisted event, payload already encoded, for
// handing to EventStore.Append. StreamVersion and GlobalPosition are
// assigned by the store and are zero here.
func NewEvent(streamID string, typ Type, payload any, meta Metadata) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		StreamID: streamID,
		Type:     typ,
		Payload:  raw,
		Metadata: meta,
	}, nil
}

// Decode unmarshals the event's payload into dst, a pointer to one of the
// Payload types below.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// --- Payload shapes (spec §3.2) ---

type SubscriptionPayload struct {
	Feed          string    `json:"feed"`
	RSSSourceID   string    `json:"rss_source_id,omitempty"`
	SubscribedAt  time.Time `json:"subscribed_at,omitempty"`
}

type UnsubscribePayload struct {
	Feed           string    `json:"feed"`
	UnsubscribedAt time.Time `json:"unsubscribed_at"`
}

type PlayRecordedPayload struct {
	Feed      string    `json:"feed"`
	Item      string    `json:"item"`
	Position  float64   `json:"position"`
	Played    bool      `json:"played"`
	Timestamp time.Time `json:"timestamp"`
}

type PositionUpdatedPayload struct {
	Feed      string    `json:"feed"`
	Item      string    `json:"item"`
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type EpisodeSavedPayload struct {
	PlaylistID string `json:"playlist_id"`
	Feed       string `json:"feed"`
	Item       string `json:"item"`
	ItemTitle  string `json:"item_title,omitempty"`
	FeedTitle  string `json:"feed_title,omitempty"`
}

type EpisodeUnsavedPayload struct {
	PlaylistID string `json:"playlist_id"`
	Feed       string `json:"feed"`
	Item       string `json:"item"`
}

type EpisodeSharedPayload struct {
	Feed string `json:"feed"`
	Item string `json:"item"`
}

type PrivacyChangedPayload struct {
	Privacy string `json:"privacy"`
	Feed    string `json:"feed,omitempty"`
	Item    string `json:"item,omitempty"`
}

type EventsRemovedPayload struct {
	Feed string `json:"feed,omitempty"`
	Item string `json:"item,omitempty"`
}

type PlaylistItem struct {
	Feed     string `json:"feed"`
	Item     string `json:"item"`
	Position int    `json:"position"`
}

type PlaylistCreatedPayload struct {
	PlaylistID  string `json:"playlist_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public"`
}

type PlaylistUpdatedPayload struct {
	PlaylistID  string  `json:"playlist_id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type PlaylistDeletedPayload struct {
	PlaylistID string `json:"playlist_id"`
}

type PlaylistReorderedPayload struct {
	PlaylistID string         `json:"playlist_id"`
	Items      []PlaylistItem `json:"items"`
}

type PlaylistVisibilityChangedPayload struct {
	PlaylistID string `json:"playlist_id"`
	IsPublic   bool   `json:"is_public"`
}

type CollectionCreatedPayload struct {
	CollectionID string `json:"collection_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	IsDefault    bool   `json:"is_default"`
	IsPublic     bool   `json:"is_public"`
}

type CollectionUpdatedPayload struct {
	CollectionID string  `json:"collection_id"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Color        *string `json:"color,omitempty"`
}

type CollectionDeletedPayload struct {
	CollectionID string `json:"collection_id"`
}

type CollectionVisibilityChangedPayload struct {
	CollectionID string `json:"collection_id"`
	IsPublic     bool   `json:"is_public"`
}

type FeedAddedToCollectionPayload struct {
	CollectionID string `json:"collection_id"`
	Feed         string `json:"feed"`
}

type FeedRemovedFromCollectionPayload struct {
	CollectionID string `json:"collection_id"`
	Feed         string `json:"feed"`
}

type CollectionFeedReorderedPayload struct {
	CollectionID string   `json:"collection_id"`
	FeedOrder    []string `json:"feed_order"`
}

// UserCheckpointPayload is a full snapshot of aggregate state. It REPLACES
// state on apply (spec §9 Open Question, pinned to replacement).
type UserCheckpointPayload struct {
	Subscriptions map[string]CheckpointSubscription `json:"subscriptions"`
	PlayStatuses  map[string]CheckpointPlayStatus    `json:"play_statuses"`
	Playlists     map[string]CheckpointPlaylist      `json:"playlists"`
	Collections   map[string]CheckpointCollection    `json:"collections"`
	Privacy       map[string]string                  `json:"privacy"`
}

type CheckpointSubscription struct {
	RSSSourceID    string     `json:"rss_source_id"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

type CheckpointPlayStatus struct {
	Feed      string    `json:"feed"`
	Position  float64   `json:"position"`
	Played    bool      `json:"played"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CheckpointPlaylist struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IsPublic    bool           `json:"is_public"`
	Items       []PlaylistItem `json:"items"`
}

type CheckpointCollection struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	IsDefault   bool     `json:"is_default"`
	IsPublic    bool     `json:"is_public"`
	FeedIDs     []string `json:"feed_ids"`
}

// PopularityRecalculatedPayload is emitted only by SnapshotWorker and
// consumed only by the popularity projector (spec §3.2, §4.5).
type PopularityRecalculatedPayload struct {
	Feed             string `json:"feed"`
	Score            int    `json:"score"`
	Plays            int    `json:"plays"`
	Likes            int    `json:"likes"`
	ScorePrevious    int    `json:"score_previous"`
	PlaysPrevious    int    `json:"plays_previous"`
}

// Popularity score deltas, carried forward verbatim per spec §9.
const (
	PopularityScoreSubscribe = 10
	PopularityScorePlay      = 5
	PopularityScoreSave      = 3
	PopularityScoreShare     = 2
)

package aggregate

import "time"

// Subscription is one entry of State.Subscriptions (spec §3.3).
type Subscription struct {
	RSSSourceID    string
	SubscribedAt   time.Time
	UnsubscribedAt *time.Time
}

// Subscribed reports whether the subscription is currently active: no
// unsubscribe recorded, or a later re-subscribe superseded it (spec §3.3
// invariant 2).
func (s Subscription) Subscribed() bool {
	return s.UnsubscribedAt == nil || s.SubscribedAt.After(*s.UnsubscribedAt)
}

// PlayStatus is one entry of State.PlayStatuses (spec §3.3).
type PlayStatus struct {
	Feed      string
	Position  float64
	Played    bool
	UpdatedAt time.Time
}

// PlaylistItem is one ordered entry of a Playlist (spec §3.3).
type PlaylistItem struct {
	Feed     string
	Item     string
	Position int
}

// Playlist is one entry of State.Playlists (spec §3.3).
type Playlist struct {
	Name        string
	Description string
	IsPublic    bool
	Items       []PlaylistItem
}

// Collection is one entry of State.Collections (spec §3.3).
type Collection struct {
	Title       string
	Description string
	Color       string
	IsDefault   bool
	IsPublic    bool
	FeedIDs     []string
}

// PrivacyKey is the three-specificity-level key of State.Privacy (spec
// §3.3): (feed, item) is the most specific, (feed, "") next, ("", "") the
// user-wide default.
type PrivacyKey struct {
	Feed string
	Item string
}

// State is the full in-memory aggregate for one user_id (spec §3.3). It
// is owned exclusively by whatever goroutine currently holds the
// per-stream lock in Runtime; everyone else only ever sees it by asking
// Runtime to Execute a command against it.
type State struct {
	UserID        string
	Subscriptions map[string]Subscription   // feed -> subscription
	PlayStatuses  map[string]PlayStatus     // item -> status
	Playlists     map[string]Playlist       // playlist_id -> playlist
	Collections   map[string]Collection     // collection_id -> collection
	Privacy       map[PrivacyKey]string     // key -> privacy level
	StreamVersion int64
}

// NewState returns an empty aggregate ready to receive its first event.
func NewState(userID string) *State {
	return &State{
		UserID:        userID,
		Subscriptions: make(map[string]Subscription),
		PlayStatuses:  make(map[string]PlayStatus),
		Playlists:     make(map[string]Playlist),
		Collections:   make(map[string]Collection),
		Privacy:       make(map[PrivacyKey]string),
	}
}

// DefaultCollectionID returns the id of the collection with IsDefault set,
// if one exists (spec §3.3 invariant 1: at most/exactly one once any
// subscription exists).
func (s *State) DefaultCollectionID() (string, bool) {
	for id, c := range s.Collections {
		if c.IsDefault {
			return id, true
		}
	}
	return "", false
}

// IsSubscribed reports whether feed is currently subscribed in this state
// (spec §3.3 invariant 2).
func (s *State) IsSubscribed(feed string) bool {
	sub, ok := s.Subscriptions[feed]
	return ok && sub.Subscribed()
}

// Clone returns a shallow-independent copy: map mutations on the clone
// never affect s. Used by handlers (SyncUserData) that need to evaluate a
// sequence of derived sub-commands against intermediate state without
// mutating the real aggregate before the runtime commits the batch.
func (s *State) Clone() *State {
	clone := NewState(s.UserID)
	clone.StreamVersion = s.StreamVersion
	for k, v := range s.Subscriptions {
		clone.Subscriptions[k] = v
	}
	for k, v := range s.PlayStatuses {
		clone.PlayStatuses[k] = v
	}
	for k, v := range s.Playlists {
		items := make([]PlaylistItem, len(v.Items))
		copy(items, v.Items)
		v.Items = items
		clone.Playlists[k] = v
	}
	for k, v := range s.Collections {
		feeds := make([]string, len(v.FeedIDs))
		copy(feeds, v.FeedIDs)
		v.FeedIDs = feeds
		clone.Collections[k] = v
	}
	for k, v := range s.Privacy {
		clone.Privacy[k] = v
	}
	return clone
}

// EffectivePrivacy resolves the most specific privacy match for
// (feed, item) per the priority order in spec §4.4.1: (feed,item) >
// (feed,"") > ("","") > default "public".
func (s *State) EffectivePrivacy(feed, item string) string {
	if item != "" {
		if p, ok := s.Privacy[PrivacyKey{Feed: feed, Item: item}]; ok {
			return p
		}
	}
	if feed != "" {
		if p, ok := s.Privacy[PrivacyKey{Feed: feed}]; ok {
			return p
		}
	}
	if p, ok := s.Privacy[PrivacyKey{}]; ok {
		return p
	}
	return "public"
}

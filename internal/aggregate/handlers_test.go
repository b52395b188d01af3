package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podcloud/balados-sync/internal/events"
)

// applyAll applies evts to s in order and fails the test on any apply error.
func applyAll(t *testing.T, s *State, evts []events.Event) {
	t.Helper()
	for i := range evts {
		evts[i].StreamVersion = s.StreamVersion + int64(i) + 1
		_, err := Apply(s, evts[i])
		require.NoError(t, err)
	}
}

// TestSubscribe_FirstSubscribeCreatesDefaultCollection is spec §8 S1.
func TestSubscribe_FirstSubscribeCreatesDefaultCollection(t *testing.T) {
	s := NewState("u1")

	evts, err := Handle(s, Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.UserSubscribed, evts[0].Type)
	assert.Equal(t, events.CollectionCreated, evts[1].Type)
	assert.Equal(t, events.FeedAddedToCollection, evts[2].Type)

	applyAll(t, s, evts)

	assert.True(t, s.IsSubscribed("F1"))
	defaultID, ok := s.DefaultCollectionID()
	require.True(t, ok)
	assert.True(t, s.Collections[defaultID].IsDefault)
	assert.Contains(t, s.Collections[defaultID].FeedIDs, "F1")
	assert.EqualValues(t, 3, s.StreamVersion)
}

// TestSubscribe_SecondSubscribeDoesNotRecreateDefaultCollection verifies
// invariant 1 (spec §3.3): at most one default collection ever exists.
func TestSubscribe_SecondSubscribeDoesNotRecreateDefaultCollection(t *testing.T) {
	s := NewState("u1")
	evts, err := Handle(s, Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	applyAll(t, s, evts)

	evts, err = Handle(s, Subscribe{UserIDValue: "u1", Feed: "F2"}, nil)
	require.NoError(t, err)
	require.Len(t, evts, 1, "a default collection already exists, so only UserSubscribed is emitted")
	assert.Equal(t, events.UserSubscribed, evts[0].Type)
}

// TestReorderCollectionFeed is spec §8 S2.
func TestReorderCollectionFeed(t *testing.T) {
	s := NewState("u1")
	s.Collections["c"] = Collection{Title: "c", FeedIDs: []string{"A", "B", "C"}}
	s.Subscriptions["A"] = Subscription{}
	s.Subscriptions["B"] = Subscription{}
	s.Subscriptions["C"] = Subscription{}

	evts, err := Handle(s, ReorderCollectionFeed{UserIDValue: "u1", CollectionID: "c", Feed: "C", NewPosition: 0}, nil)
	require.NoError(t, err)
	require.Len(t, evts, 1)

	var payload events.CollectionFeedReorderedPayload
	require.NoError(t, evts[0].Decode(&payload))
	assert.Equal(t, []string{"C", "A", "B"}, payload.FeedOrder)
}

// TestReorderCollectionFeed_BoundaryPositions covers spec §8's boundary
// behavior: new_position = len-1 succeeds, new_position = len fails.
func TestReorderCollectionFeed_BoundaryPositions(t *testing.T) {
	s := NewState("u1")
	s.Collections["c"] = Collection{Title: "c", FeedIDs: []string{"A", "B", "C"}}

	_, err := Handle(s, ReorderCollectionFeed{UserIDValue: "u1", CollectionID: "c", Feed: "A", NewPosition: 2}, nil)
	assert.NoError(t, err)

	_, err = Handle(s, ReorderCollectionFeed{UserIDValue: "u1", CollectionID: "c", Feed: "A", NewPosition: 3}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonInvalidPosition, verr.Reason)
}

// TestUnsubscribeThenResubscribe is spec §8 S3.
func TestUnsubscribeThenResubscribe(t *testing.T) {
	s := NewState("u1")
	evts, err := Handle(s, Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	applyAll(t, s, evts)

	evts, err = Handle(s, Unsubscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	applyAll(t, s, evts)
	assert.False(t, s.IsSubscribed("F1"))

	defaultID, _ := s.DefaultCollectionID()
	_, err = Handle(s, AddFeedToCollection{UserIDValue: "u1", CollectionID: defaultID, Feed: "F1"}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonFeedNotSubscribed, verr.Reason)

	evts, err = Handle(s, Subscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	require.NoError(t, err)
	applyAll(t, s, evts)
	assert.True(t, s.IsSubscribed("F1"))

	_, err = Handle(s, AddFeedToCollection{UserIDValue: "u1", CollectionID: defaultID, Feed: "F1"}, nil)
	assert.NoError(t, err)
}

// TestUnsubscribe_NotSubscribed covers the error condition for Unsubscribe.
func TestUnsubscribe_NotSubscribed(t *testing.T) {
	s := NewState("u1")
	_, err := Handle(s, Unsubscribe{UserIDValue: "u1", Feed: "F1"}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonNotSubscribed, verr.Reason)
}

// TestRecordPlay_InvalidPosition covers the error condition for RecordPlay.
func TestRecordPlay_InvalidPosition(t *testing.T) {
	s := NewState("u1")
	_, err := Handle(s, RecordPlay{UserIDValue: "u1", Feed: "F1", Item: "I1", Position: -1}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonInvalidPosition, verr.Reason)
}

// TestDeleteCollection_Default covers the boundary behavior: deleting the
// default collection always fails and never appends an event.
func TestDeleteCollection_Default(t *testing.T) {
	s := NewState("u1")
	s.Collections["c_default"] = Collection{Title: "All Subscriptions", IsDefault: true}

	evts, err := Handle(s, DeleteCollection{UserIDValue: "u1", CollectionID: "c_default"}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonCannotDeleteDefaultCollection, verr.Reason)
	assert.Nil(t, evts)
}

// TestCreateCollection_DefaultAlreadyExists.
func TestCreateCollection_DefaultAlreadyExists(t *testing.T) {
	s := NewState("u1")
	s.Collections["c1"] = Collection{Title: "existing", IsDefault: true}

	_, err := Handle(s, CreateCollection{UserIDValue: "u1", Title: "another", IsDefault: true}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonDefaultCollectionAlreadyExists, verr.Reason)
}

// TestCreateCollection_EmptyTitle.
func TestCreateCollection_EmptyTitle(t *testing.T) {
	s := NewState("u1")
	_, err := Handle(s, CreateCollection{UserIDValue: "u1", Title: ""}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonNameRequired, verr.Reason)
}

// TestCreatePlaylist_NameRequired.
func TestCreatePlaylist_NameRequired(t *testing.T) {
	s := NewState("u1")
	_, err := Handle(s, CreatePlaylist{UserIDValue: "u1", Name: ""}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonNameRequired, verr.Reason)
}

// TestApply_UnknownEntity_ReturnsStateUnchanged covers spec §9's "apply
// functions must be total" design note: applying an event that references
// a missing entity must never fail, and must leave state unchanged.
func TestApply_UnknownEntity_ReturnsStateUnchanged(t *testing.T) {
	s := NewState("u1")
	before := s.Clone()

	e, err := events.NewEvent("u1", events.CollectionVisibilityChanged, events.CollectionVisibilityChangedPayload{
		CollectionID: "does-not-exist", IsPublic: true,
	}, nil)
	require.NoError(t, err)
	e.StreamVersion = 1

	after, err := Apply(s, e)
	require.NoError(t, err)
	assert.Equal(t, before.Collections, after.Collections)
	assert.EqualValues(t, 1, after.StreamVersion)
}

// TestPrivacyChanged_EffectivePrivacyPriority checks EffectivePrivacy's
// lookup order: a feed+item level wins over a feed level, which wins over
// the user-wide level; with no level set at all the result is "public".
func TestPrivacyChanged_EffectivePrivacyPriority(t *testing.T) {
	s := NewState("u1")
	s.Privacy[PrivacyKey{Feed: "F1", Item: "I1"}] = "public"
	s.Privacy[PrivacyKey{Feed: "F1"}] = "anonymous"
	s.Privacy[PrivacyKey{}] = "private"

	assert.Equal(t, "public", s.EffectivePrivacy("F1", "I1"), "feed+item is most specific")
	assert.Equal(t, "anonymous", s.EffectivePrivacy("F1", "I2"), "feed-only is next")
	assert.Equal(t, "private", s.EffectivePrivacy("F2", "I9"), "falls back to the user-wide default")
	assert.Equal(t, "public", NewState("u2").EffectivePrivacy("F3", ""), "no privacy set at all defaults to public")
}

// TestSnapshot_RoundTrip is the snapshot fidelity law from spec §8:
// applying UserCheckpoint(S) to an empty aggregate yields S.
func TestSnapshot_RoundTrip(t *testing.T) {
	s := NewState("u1")
	for _, cmd := range []Command{
		Subscribe{UserIDValue: "u1", Feed: "F1"},
		RecordPlay{UserIDValue: "u1", Feed: "F1", Item: "I1", Position: 42},
		CreatePlaylist{UserIDValue: "u1", PlaylistID: "p1", Name: "Favorites"},
		SaveEpisode{UserIDValue: "u1", PlaylistID: "p1", Feed: "F1", Item: "I1"},
	} {
		evts, err := Handle(s, cmd, nil)
		require.NoError(t, err)
		applyAll(t, s, evts)
	}

	snapEvts, err := Handle(s, Snapshot{UserIDValue: "u1"}, nil)
	require.NoError(t, err)
	require.Len(t, snapEvts, 1)
	assert.Equal(t, events.UserCheckpoint, snapEvts[0].Type)

	fresh := NewState("u1")
	snapEvts[0].StreamVersion = 1
	restored, err := Apply(fresh, snapEvts[0])
	require.NoError(t, err)

	assert.Equal(t, s.Subscriptions, restored.Subscriptions)
	assert.Equal(t, s.PlayStatuses, restored.PlayStatuses)
	assert.Equal(t, s.Playlists, restored.Playlists)
	assert.Equal(t, s.Privacy, restored.Privacy)
}

// TestStreamVersion_EqualsEventCount is universal invariant 2 (spec §8).
func TestStreamVersion_EqualsEventCount(t *testing.T) {
	s := NewState("u1")
	total := int64(0)
	for _, cmd := range []Command{
		Subscribe{UserIDValue: "u1", Feed: "F1"},
		Subscribe{UserIDValue: "u1", Feed: "F2"},
		RecordPlay{UserIDValue: "u1", Feed: "F1", Item: "I1", Position: 1},
	} {
		evts, err := Handle(s, cmd, nil)
		require.NoError(t, err)
		applyAll(t, s, evts)
		total += int64(len(evts))
	}
	assert.Equal(t, total, s.StreamVersion)
}

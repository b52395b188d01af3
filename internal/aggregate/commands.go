package aggregate

// Kind discriminates a Command by its wire/type tag. Pattern-matching on
// Go struct type alone would need reflection; Kind plus the handler table
// in handlers.go gives explicit, reflection-free dispatch (spec §9 design
// note on dynamic dispatch).
type Kind string

const (
	KindSubscribe                 Kind = "Subscribe"
	KindUnsubscribe                Kind = "Unsubscribe"
	KindRecordPlay                 Kind = "RecordPlay"
	KindUpdatePosition              Kind = "UpdatePosition"
	KindSaveEpisode                 Kind = "SaveEpisode"
	KindUnsaveEpisode               Kind = "UnsaveEpisode"
	KindShareEpisode                Kind = "ShareEpisode"
	KindChangePrivacy               Kind = "ChangePrivacy"
	KindRemoveEvents                Kind = "RemoveEvents"
	KindCreatePlaylist              Kind = "CreatePlaylist"
	KindDeletePlaylist              Kind = "DeletePlaylist"
	KindUpdatePlaylist              Kind = "UpdatePlaylist"
	KindReorderPlaylist             Kind = "ReorderPlaylist"
	KindChangePlaylistVisibility    Kind = "ChangePlaylistVisibility"
	KindCreateCollection            Kind = "CreateCollection"
	KindUpdateCollection            Kind = "UpdateCollection"
	KindDeleteCollection            Kind = "DeleteCollection"
	KindChangeCollectionVisibility  Kind = "ChangeCollectionVisibility"
	KindAddFeedToCollection         Kind = "AddFeedToCollection"
	KindRemoveFeedFromCollection    Kind = "RemoveFeedFromCollection"
	KindReorderCollectionFeed       Kind = "ReorderCollectionFeed"
	KindSnapshot                    Kind = "Snapshot"
	KindSyncUserData                Kind = "SyncUserData"
)

// Command is implemented by every command struct below. UserID determines
// the target stream (spec §4.3: "Determines the stream id from the
// command's user_id").
type Command interface {
	Kind() Kind
	UserID() string
}

type Subscribe struct {
	UserIDValue string `validate:"required"`
	Feed        string
	RSSSourceID string
}

func (c Subscribe) Kind() Kind      { return KindSubscribe }
func (c Subscribe) UserID() string  { return c.UserIDValue }

type Unsubscribe struct {
	UserIDValue string `validate:"required"`
	Feed        string
}

func (c Unsubscribe) Kind() Kind     { return KindUnsubscribe }
func (c Unsubscribe) UserID() string { return c.UserIDValue }

type RecordPlay struct {
	UserIDValue string `validate:"required"`
	Feed        string
	Item        string
	Position    float64
	Played      bool
}

func (c RecordPlay) Kind() Kind     { return KindRecordPlay }
func (c RecordPlay) UserID() string { return c.UserIDValue }

type UpdatePosition struct {
	UserIDValue string `validate:"required"`
	Feed        string
	Item        string
	Position    float64
}

func (c UpdatePosition) Kind() Kind     { return KindUpdatePosition }
func (c UpdatePosition) UserID() string { return c.UserIDValue }

type SaveEpisode struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
	Feed        string
	Item        string
	ItemTitle   string
	FeedTitle   string
}

func (c SaveEpisode) Kind() Kind     { return KindSaveEpisode }
func (c SaveEpisode) UserID() string { return c.UserIDValue }

type UnsaveEpisode struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
	Feed        string
	Item        string
}

func (c UnsaveEpisode) Kind() Kind     { return KindUnsaveEpisode }
func (c UnsaveEpisode) UserID() string { return c.UserIDValue }

type ShareEpisode struct {
	UserIDValue string `validate:"required"`
	Feed        string
	Item        string
}

func (c ShareEpisode) Kind() Kind     { return KindShareEpisode }
func (c ShareEpisode) UserID() string { return c.UserIDValue }

type ChangePrivacy struct {
	UserIDValue string `validate:"required"`
	Privacy     string
	Feed        string
	Item        string
}

func (c ChangePrivacy) Kind() Kind     { return KindChangePrivacy }
func (c ChangePrivacy) UserID() string { return c.UserIDValue }

type RemoveEvents struct {
	UserIDValue string `validate:"required"`
	Feed        string
	Item        string
}

func (c RemoveEvents) Kind() Kind     { return KindRemoveEvents }
func (c RemoveEvents) UserID() string { return c.UserIDValue }

type CreatePlaylist struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string // optional; generated if empty
	Name        string
	Description string
	IsPublic    bool
}

func (c CreatePlaylist) Kind() Kind     { return KindCreatePlaylist }
func (c CreatePlaylist) UserID() string { return c.UserIDValue }

type DeletePlaylist struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
}

func (c DeletePlaylist) Kind() Kind     { return KindDeletePlaylist }
func (c DeletePlaylist) UserID() string { return c.UserIDValue }

type UpdatePlaylist struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
	Name        *string
	Description *string
}

func (c UpdatePlaylist) Kind() Kind     { return KindUpdatePlaylist }
func (c UpdatePlaylist) UserID() string { return c.UserIDValue }

type ReorderPlaylist struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
	Feed        string
	Item        string
	NewPosition int
}

func (c ReorderPlaylist) Kind() Kind     { return KindReorderPlaylist }
func (c ReorderPlaylist) UserID() string { return c.UserIDValue }

type ChangePlaylistVisibility struct {
	UserIDValue string `validate:"required"`
	PlaylistID  string
	IsPublic    bool
}

func (c ChangePlaylistVisibility) Kind() Kind     { return KindChangePlaylistVisibility }
func (c ChangePlaylistVisibility) UserID() string { return c.UserIDValue }

type CreateCollection struct {
	UserIDValue  string `validate:"required"`
	CollectionID string // optional; generated if empty
	Title        string
	Description  string
	Color        string
	IsDefault    bool
	IsPublic     bool
}

func (c CreateCollection) Kind() Kind     { return KindCreateCollection }
func (c CreateCollection) UserID() string { return c.UserIDValue }

type UpdateCollection struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
	Title        *string
	Description  *string
	Color        *string
}

func (c UpdateCollection) Kind() Kind     { return KindUpdateCollection }
func (c UpdateCollection) UserID() string { return c.UserIDValue }

type DeleteCollection struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
}

func (c DeleteCollection) Kind() Kind     { return KindDeleteCollection }
func (c DeleteCollection) UserID() string { return c.UserIDValue }

type ChangeCollectionVisibility struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
	IsPublic     bool
}

func (c ChangeCollectionVisibility) Kind() Kind     { return KindChangeCollectionVisibility }
func (c ChangeCollectionVisibility) UserID() string { return c.UserIDValue }

type AddFeedToCollection struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
	Feed         string
}

func (c AddFeedToCollection) Kind() Kind     { return KindAddFeedToCollection }
func (c AddFeedToCollection) UserID() string { return c.UserIDValue }

type RemoveFeedFromCollection struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
	Feed         string
}

func (c RemoveFeedFromCollection) Kind() Kind     { return KindRemoveFeedFromCollection }
func (c RemoveFeedFromCollection) UserID() string { return c.UserIDValue }

type ReorderCollectionFeed struct {
	UserIDValue  string `validate:"required"`
	CollectionID string
	Feed         string
	NewPosition  int
}

func (c ReorderCollectionFeed) Kind() Kind     { return KindReorderCollectionFeed }
func (c ReorderCollectionFeed) UserID() string { return c.UserIDValue }

// Snapshot is dispatched internally by the SnapshotWorker (spec §4.5).
type Snapshot struct {
	UserIDValue string `validate:"required"`
}

func (c Snapshot) Kind() Kind     { return KindSnapshot }
func (c Snapshot) UserID() string { return c.UserIDValue }

// SyncUserData reconciles a client-supplied full state against the
// current aggregate, emitting zero or more of the commands above derived
// by diff (spec §4.2). Desired is the client's view of its own state.
type SyncUserData struct {
	UserIDValue string `validate:"required"`
	Desired     DesiredState
}

func (c SyncUserData) Kind() Kind     { return KindSyncUserData }
func (c SyncUserData) UserID() string { return c.UserIDValue }

// DesiredState is the subset of State a client can assert via
// SyncUserData; unknown/extra server-only bookkeeping fields are absent.
type DesiredState struct {
	Subscriptions map[string]Subscription
	PlayStatuses  map[string]PlayStatus
}

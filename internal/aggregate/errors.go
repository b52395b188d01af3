package aggregate

// Reason is a stable, lower_snake validation-failure identifier (spec
// §4.2/§7). It is returned from command handlers and re-exported by the
// dispatcher as part of its own public error type so HTTP/WS collaborators
// never need to import this package just to switch on a reason.
type Reason string

const (
	ReasonNotSubscribed                 Reason = "not_subscribed"
	ReasonInvalidPosition                Reason = "invalid_position"
	ReasonFeedNotSubscribed              Reason = "feed_not_subscribed"
	ReasonEpisodeNotSaved                Reason = "episode_not_saved"
	ReasonNameRequired                   Reason = "name_required"
	ReasonPlaylistAlreadyExists          Reason = "playlist_already_exists"
	ReasonPlaylistNotFound               Reason = "playlist_not_found"
	ReasonCollectionNotFound             Reason = "collection_not_found"
	ReasonDefaultCollectionAlreadyExists Reason = "default_collection_already_exists"
	ReasonCannotDeleteDefaultCollection  Reason = "cannot_delete_default_collection"
	ReasonFeedNotInCollection            Reason = "feed_not_in_collection"
	ReasonUnknownCommand                 Reason = "unknown_command"
)

// ValidationError is the caller's-fault error kind in spec §7: returned
// from Dispatch, never retried.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string { return string(e.Reason) }

func validationErr(r Reason) error { return &ValidationError{Reason: r} }

package httpapi

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/podcloud/balados-sync/internal/aggregate"
)

// envelope is the wire-neutral command envelope of spec.md §6.5: a type
// tag, its payload, and the recognized event_info metadata keys. user_id
// is deliberately absent here — it comes from internal/authctx, never
// from the request body.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	EventInfo struct {
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
		Privacy    string `json:"privacy"`
	} `json:"event_info"`
}

// DecodeCommand maps a raw (type, payload) pair onto the aggregate.Command
// it names, stamping userID from the authenticated caller. Exported so
// internal/wsapi can share this mapping instead of duplicating it.
func DecodeCommand(userID, commandType string, payload json.RawMessage) (aggregate.Command, error) {
	return decodeCommand(userID, envelope{Type: commandType, Payload: payload})
}

// decodeCommand maps an envelope onto the aggregate.Command named by
// env.Type, stamping userID from the authenticated caller.
func decodeCommand(userID string, env envelope) (aggregate.Command, error) {
	switch env.Type {
	case "Subscribe":
		var p struct {
			Feed        string `json:"feed"`
			RSSSourceID string `json:"rss_source_id"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.Subscribe{UserIDValue: userID, Feed: p.Feed, RSSSourceID: p.RSSSourceID}, nil

	case "Unsubscribe":
		var p struct {
			Feed string `json:"feed"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.Unsubscribe{UserIDValue: userID, Feed: p.Feed}, nil

	case "RecordPlay":
		var p struct {
			Feed     string  `json:"feed"`
			Item     string  `json:"item"`
			Position float64 `json:"position"`
			Played   bool    `json:"played"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.RecordPlay{UserIDValue: userID, Feed: p.Feed, Item: p.Item, Position: p.Position, Played: p.Played}, nil

	case "UpdatePosition":
		var p struct {
			Feed     string  `json:"feed"`
			Item     string  `json:"item"`
			Position float64 `json:"position"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.UpdatePosition{UserIDValue: userID, Feed: p.Feed, Item: p.Item, Position: p.Position}, nil

	case "SaveEpisode":
		var p struct {
			PlaylistID string `json:"playlist_id"`
			Feed       string `json:"feed"`
			Item       string `json:"item"`
			ItemTitle  string `json:"item_title"`
			FeedTitle  string `json:"feed_title"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.SaveEpisode{
			UserIDValue: userID, PlaylistID: p.PlaylistID, Feed: p.Feed, Item: p.Item,
			ItemTitle: p.ItemTitle, FeedTitle: p.FeedTitle,
		}, nil

	case "UnsaveEpisode":
		var p struct {
			PlaylistID string `json:"playlist_id"`
			Feed       string `json:"feed"`
			Item       string `json:"item"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.UnsaveEpisode{UserIDValue: userID, PlaylistID: p.PlaylistID, Feed: p.Feed, Item: p.Item}, nil

	case "ShareEpisode":
		var p struct {
			Feed string `json:"feed"`
			Item string `json:"item"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ShareEpisode{UserIDValue: userID, Feed: p.Feed, Item: p.Item}, nil

	case "ChangePrivacy":
		var p struct {
			Privacy string `json:"privacy"`
			Feed    string `json:"feed"`
			Item    string `json:"item"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ChangePrivacy{UserIDValue: userID, Privacy: p.Privacy, Feed: p.Feed, Item: p.Item}, nil

	case "RemoveEvents":
		var p struct {
			Feed string `json:"feed"`
			Item string `json:"item"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.RemoveEvents{UserIDValue: userID, Feed: p.Feed, Item: p.Item}, nil

	case "CreatePlaylist":
		var p struct {
			PlaylistID  string `json:"playlist_id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			IsPublic    bool   `json:"is_public"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.CreatePlaylist{
			UserIDValue: userID, PlaylistID: p.PlaylistID, Name: p.Name,
			Description: p.Description, IsPublic: p.IsPublic,
		}, nil

	case "DeletePlaylist":
		var p struct {
			PlaylistID string `json:"playlist_id"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.DeletePlaylist{UserIDValue: userID, PlaylistID: p.PlaylistID}, nil

	case "UpdatePlaylist":
		var p struct {
			PlaylistID  string  `json:"playlist_id"`
			Name        *string `json:"name"`
			Description *string `json:"description"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.UpdatePlaylist{UserIDValue: userID, PlaylistID: p.PlaylistID, Name: p.Name, Description: p.Description}, nil

	case "ReorderPlaylist":
		var p struct {
			PlaylistID  string `json:"playlist_id"`
			Feed        string `json:"feed"`
			Item        string `json:"item"`
			NewPosition int    `json:"new_position"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ReorderPlaylist{
			UserIDValue: userID, PlaylistID: p.PlaylistID, Feed: p.Feed, Item: p.Item, NewPosition: p.NewPosition,
		}, nil

	case "ChangePlaylistVisibility":
		var p struct {
			PlaylistID string `json:"playlist_id"`
			IsPublic   bool   `json:"is_public"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ChangePlaylistVisibility{UserIDValue: userID, PlaylistID: p.PlaylistID, IsPublic: p.IsPublic}, nil

	case "CreateCollection":
		var p struct {
			CollectionID string `json:"collection_id"`
			Title        string `json:"title"`
			Description  string `json:"description"`
			Color        string `json:"color"`
			IsDefault    bool   `json:"is_default"`
			IsPublic     bool   `json:"is_public"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.CreateCollection{
			UserIDValue: userID, CollectionID: p.CollectionID, Title: p.Title, Description: p.Description,
			Color: p.Color, IsDefault: p.IsDefault, IsPublic: p.IsPublic,
		}, nil

	case "UpdateCollection":
		var p struct {
			CollectionID string  `json:"collection_id"`
			Title        *string `json:"title"`
			Description  *string `json:"description"`
			Color        *string `json:"color"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.UpdateCollection{
			UserIDValue: userID, CollectionID: p.CollectionID, Title: p.Title, Description: p.Description, Color: p.Color,
		}, nil

	case "DeleteCollection":
		var p struct {
			CollectionID string `json:"collection_id"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.DeleteCollection{UserIDValue: userID, CollectionID: p.CollectionID}, nil

	case "ChangeCollectionVisibility":
		var p struct {
			CollectionID string `json:"collection_id"`
			IsPublic     bool   `json:"is_public"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ChangeCollectionVisibility{UserIDValue: userID, CollectionID: p.CollectionID, IsPublic: p.IsPublic}, nil

	case "AddFeedToCollection":
		var p struct {
			CollectionID string `json:"collection_id"`
			Feed         string `json:"feed"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.AddFeedToCollection{UserIDValue: userID, CollectionID: p.CollectionID, Feed: p.Feed}, nil

	case "RemoveFeedFromCollection":
		var p struct {
			CollectionID string `json:"collection_id"`
			Feed         string `json:"feed"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.RemoveFeedFromCollection{UserIDValue: userID, CollectionID: p.CollectionID, Feed: p.Feed}, nil

	case "ReorderCollectionFeed":
		var p struct {
			CollectionID string `json:"collection_id"`
			Feed         string `json:"feed"`
			NewPosition  int    `json:"new_position"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.ReorderCollectionFeed{
			UserIDValue: userID, CollectionID: p.CollectionID, Feed: p.Feed, NewPosition: p.NewPosition,
		}, nil

	case "SyncUserData":
		var p struct {
			Desired aggregate.DesiredState `json:"desired"`
		}
		if err := unmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		return aggregate.SyncUserData{UserIDValue: userID, Desired: p.Desired}, nil

	default:
		return nil, fmt.Errorf("httpapi: unknown command type %q", env.Type)
	}
}

func unmarshal(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

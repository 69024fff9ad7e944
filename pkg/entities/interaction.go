package entities

// InteractionState holds the current user's relationship to a single
// post or avatar. It is the only entity written locally before remote
// confirmation.
type InteractionState struct {
	EntityId   string `json:"entity_id" msgpack:"entity_id" validate:"required"`
	Liked      bool   `json:"liked" msgpack:"liked"`
	Bookmarked bool   `json:"bookmarked" msgpack:"bookmarked"`
	Following  bool   `json:"following" msgpack:"following"`
	Version    int64  `json:"version" msgpack:"version" validate:"gte=0"`
}

type ToggleKind string

const (
	ToggleLike     ToggleKind = "like"
	ToggleBookmark ToggleKind = "bookmark"
	ToggleFollow   ToggleKind = "follow"
)

// Field returns the flag the toggle kind controls.
func (s InteractionState) Field(kind ToggleKind) bool {
	switch kind {
	case ToggleLike:
		return s.Liked
	case ToggleBookmark:
		return s.Bookmarked
	case ToggleFollow:
		return s.Following
	}
	return false
}

// WithField returns a copy with the toggle kind's flag set to v.
func (s InteractionState) WithField(kind ToggleKind, v bool) InteractionState {
	switch kind {
	case ToggleLike:
		s.Liked = v
	case ToggleBookmark:
		s.Bookmarked = v
	case ToggleFollow:
		s.Following = v
	}
	return s
}

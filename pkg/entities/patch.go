package entities

// PostPatch carries the fields a remote update may change on a post.
// Nil fields are left untouched.
type PostPatch struct {
	Caption  *string     `json:"caption" msgpack:"caption"`
	Status   *PostStatus `json:"status" msgpack:"status"`
	Counters *Counters   `json:"counters" msgpack:"counters"`
}

type AvatarPatch struct {
	DisplayName *string `json:"display_name" msgpack:"display_name"`
	Bio         *string `json:"bio" msgpack:"bio"`
	ImageUrl    *string `json:"image_url" msgpack:"image_url"`
	Followers   *int64  `json:"followers" msgpack:"followers"`
	Likes       *int64  `json:"likes" msgpack:"likes"`
	Posts       *int64  `json:"posts" msgpack:"posts"`
	IsActive    *bool   `json:"is_active" msgpack:"is_active"`
}

type InteractionPatch struct {
	Liked      *bool `json:"liked" msgpack:"liked"`
	Bookmarked *bool `json:"bookmarked" msgpack:"bookmarked"`
	Following  *bool `json:"following" msgpack:"following"`
}

// RemotePatch is a version-stamped partial update for a single entity,
// delivered over the realtime channel or the version-diff resync
// endpoint.
type RemotePatch struct {
	Kind    Kind   `json:"kind" msgpack:"kind"`
	Id      string `json:"id" msgpack:"id"`
	Version int64  `json:"version" msgpack:"version"`

	Post        *PostPatch        `json:"post,omitempty" msgpack:"post,omitempty"`
	Avatar      *AvatarPatch      `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
	Interaction *InteractionPatch `json:"interaction,omitempty" msgpack:"interaction,omitempty"`
}

// Apply merges the patch into a copy of cur and returns it. cur must be
// the entity type matching p.Kind; a mismatch returns cur unchanged.
func (p RemotePatch) Apply(cur interface{}) interface{} {
	switch p.Kind {
	case KindPost:
		post, ok := cur.(Post)
		if !ok || p.Post == nil {
			return cur
		}
		if p.Post.Caption != nil {
			post.Caption = *p.Post.Caption
		}
		if p.Post.Status != nil {
			post.Status = *p.Post.Status
		}
		if p.Post.Counters != nil {
			post.Counters = *p.Post.Counters
		}
		post.Version = p.Version
		return post

	case KindAvatar:
		avatar, ok := cur.(Avatar)
		if !ok || p.Avatar == nil {
			return cur
		}
		if p.Avatar.DisplayName != nil {
			avatar.DisplayName = *p.Avatar.DisplayName
		}
		if p.Avatar.Bio != nil {
			avatar.Bio = *p.Avatar.Bio
		}
		if p.Avatar.ImageUrl != nil {
			avatar.ImageUrl = *p.Avatar.ImageUrl
		}
		if p.Avatar.Followers != nil {
			avatar.Followers = *p.Avatar.Followers
		}
		if p.Avatar.Likes != nil {
			avatar.Likes = *p.Avatar.Likes
		}
		if p.Avatar.Posts != nil {
			avatar.Posts = *p.Avatar.Posts
		}
		if p.Avatar.IsActive != nil {
			avatar.IsActive = *p.Avatar.IsActive
		}
		avatar.Version = p.Version
		return avatar

	case KindInteraction:
		state, ok := cur.(InteractionState)
		if !ok || p.Interaction == nil {
			return cur
		}
		if p.Interaction.Liked != nil {
			state.Liked = *p.Interaction.Liked
		}
		if p.Interaction.Bookmarked != nil {
			state.Bookmarked = *p.Interaction.Bookmarked
		}
		if p.Interaction.Following != nil {
			state.Following = *p.Interaction.Following
		}
		state.Version = p.Version
		return state
	}

	return cur
}

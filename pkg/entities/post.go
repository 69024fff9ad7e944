package entities

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
	PostStatusArchived  PostStatus = "archived"
	PostStatusFlagged   PostStatus = "flagged"
)

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

type Counters struct {
	Views    int64 `json:"views" msgpack:"views"`
	Likes    int64 `json:"likes" msgpack:"likes"`
	Comments int64 `json:"comments" msgpack:"comments"`
	Shares   int64 `json:"shares" msgpack:"shares"`
}

type Post struct {
	Id         string     `json:"id" msgpack:"id" validate:"required"`
	AuthorId   string     `json:"author_id" msgpack:"author_id" validate:"required"`
	MediaUrl   string     `json:"media_url" msgpack:"media_url" validate:"required,url"`
	MediaType  MediaType  `json:"media_type" msgpack:"media_type" validate:"required,oneof=image video"`
	DurationMs int64      `json:"duration_ms" msgpack:"duration_ms" validate:"gte=0"`
	Caption    string     `json:"caption" msgpack:"caption" validate:"max=2200"`
	Hashtags   []string   `json:"hashtags" msgpack:"hashtags" validate:"max=30,dive,max=100"`
	Counters   Counters   `json:"counters" msgpack:"counters"`
	Status     PostStatus `json:"status" msgpack:"status" validate:"required,oneof=draft published archived flagged"`
	CreatedAt  int64      `json:"created_at" msgpack:"created_at"`
	UpdatedAt  int64      `json:"updated_at" msgpack:"updated_at"`
	Version    int64      `json:"version" msgpack:"version" validate:"gte=0"`
}

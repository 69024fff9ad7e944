package entities

type Comment struct {
	Id        string `json:"id" msgpack:"id" validate:"required"`
	PostId    string `json:"post_id" msgpack:"post_id" validate:"required"`
	AuthorId  string `json:"author_id" msgpack:"author_id"`
	Text      string `json:"text" msgpack:"text" validate:"required,max=2200"`
	CreatedAt int64  `json:"created_at" msgpack:"created_at"`
	Version   int64  `json:"version" msgpack:"version" validate:"gte=0"`

	// Pending is set while the comment only exists locally under a
	// client-generated ID.
	Pending bool `json:"pending" msgpack:"pending"`
}

package entities

type Avatar struct {
	Id          string `json:"id" msgpack:"id" validate:"required"`
	OwnerId     string `json:"owner_id" msgpack:"owner_id" validate:"required"`
	DisplayName string `json:"display_name" msgpack:"display_name" validate:"required,max=50"`
	Bio         string `json:"bio" msgpack:"bio" validate:"max=500"`
	ImageUrl    string `json:"image_url" msgpack:"image_url" validate:"omitempty,url"`
	Followers   int64  `json:"followers" msgpack:"followers" validate:"gte=0"`
	Likes       int64  `json:"likes" msgpack:"likes" validate:"gte=0"`
	Posts       int64  `json:"posts" msgpack:"posts" validate:"gte=0"`
	IsActive    bool   `json:"is_active" msgpack:"is_active"`
	Version     int64  `json:"version" msgpack:"version" validate:"gte=0"`
}

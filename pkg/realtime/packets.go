package realtime

import (
	"fmt"

	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/vmihailenco/msgpack/v5"
)

// Wire format: one op-code byte followed by a msgpack payload.
const (
	OpUpdatePost        uint8 = 0
	OpUpdateAvatar      uint8 = 1
	OpUpdateInteraction uint8 = 2
	OpCreateComment     uint8 = 3
)

type UpdatePost struct {
	Id      string             `msgpack:"id"`
	Version int64              `msgpack:"version"`
	Patch   entities.PostPatch `msgpack:"patch"`
}

type UpdateAvatar struct {
	Id      string               `msgpack:"id"`
	Version int64                `msgpack:"version"`
	Patch   entities.AvatarPatch `msgpack:"patch"`
}

type UpdateInteraction struct {
	Id      string                    `msgpack:"id"`
	Version int64                     `msgpack:"version"`
	Patch   entities.InteractionPatch `msgpack:"patch"`
}

type CreateComment struct {
	Comment entities.Comment `msgpack:"comment"`
}

// decodeEvent turns a raw push message into either a RemotePatch or a
// full comment entity.
func decodeEvent(data []byte) (*entities.RemotePatch, *entities.Comment, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("event too short: %d bytes", len(data))
	}
	op := data[0]
	payload := data[1:]

	switch op {
	case OpUpdatePost:
		var ev UpdatePost
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return nil, nil, err
		}
		patch := ev.Patch
		return &entities.RemotePatch{Kind: entities.KindPost, Id: ev.Id, Version: ev.Version, Post: &patch}, nil, nil

	case OpUpdateAvatar:
		var ev UpdateAvatar
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return nil, nil, err
		}
		patch := ev.Patch
		return &entities.RemotePatch{Kind: entities.KindAvatar, Id: ev.Id, Version: ev.Version, Avatar: &patch}, nil, nil

	case OpUpdateInteraction:
		var ev UpdateInteraction
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return nil, nil, err
		}
		patch := ev.Patch
		return &entities.RemotePatch{Kind: entities.KindInteraction, Id: ev.Id, Version: ev.Version, Interaction: &patch}, nil, nil

	case OpCreateComment:
		var ev CreateComment
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			return nil, nil, err
		}
		return nil, &ev.Comment, nil
	}

	return nil, nil, fmt.Errorf("unknown event op %d", op)
}

// EncodeEvent builds a wire message; the backend stub and tests use it.
func EncodeEvent(op uint8, payload interface{}) ([]byte, error) {
	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return append([]byte{op}, encoded...), nil
}

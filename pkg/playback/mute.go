package playback

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const muteKey = "playback:muted"

// RedisMuteStore keeps the global mute flag in Redis so it survives
// engine restarts.
type RedisMuteStore struct {
	Client *redis.Client
}

func (s *RedisMuteStore) Load(ctx context.Context) (bool, error) {
	val, err := s.Client.Get(ctx, muteKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (s *RedisMuteStore) Save(ctx context.Context, muted bool) error {
	val := "0"
	if muted {
		val = "1"
	}
	return s.Client.Set(ctx, muteKey, val, 0).Err()
}

package playback

import (
	"context"
	"time"
)

type State uint8

const (
	StateIdle      State = 0
	StateBuffering State = 1
	StatePlaying   State = 2
	StatePaused    State = 3
	StateError     State = 4
	StateReleased  State = 5
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

// handle is the pool-owned player resource for one post. All fields are
// guarded by the manager's lock; exactly one live handle exists per
// post.
type handle struct {
	postId   string
	mediaUrl string

	state        State
	muted        bool
	active       bool
	lastProgress time.Duration

	// watched accumulates wall-clock playing time; paused time does
	// not count toward the view threshold.
	watched      time.Duration
	accrualStart time.Time

	lastUsed    time.Time
	pendingPlay bool
	cancel      context.CancelFunc
}

// HandleInfo is the caller-visible snapshot of a pool handle.
type HandleInfo struct {
	PostId       string        `json:"post_id"`
	State        State         `json:"state"`
	Muted        bool          `json:"muted"`
	LastProgress time.Duration `json:"last_progress"`
	Watched      time.Duration `json:"watched"`
}

func (h *handle) info() HandleInfo {
	return HandleInfo{
		PostId:       h.postId,
		State:        h.state,
		Muted:        h.muted,
		LastProgress: h.lastProgress,
		Watched:      h.watched,
	}
}

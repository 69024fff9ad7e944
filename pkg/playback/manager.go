// Package playback owns the bounded pool of streaming media players:
// preloading for posts adjacent to the visible item, the process-wide
// persisted mute flag, and watched-duration view analytics.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quanta-social/feedengine/pkg/entities"
)

// Loader buffers media for a handle. The codec itself is opaque; the
// loader only warms it up and reports success or failure.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// MuteStore persists the global mute flag across sessions.
type MuteStore interface {
	Load(ctx context.Context) (bool, error)
	Save(ctx context.Context, muted bool) error
}

// ViewEvent fires once per post per viewing session, after watched
// duration crosses the configured threshold.
type ViewEvent struct {
	PostId  string
	Watched time.Duration
}

// Item identifies a feed post and its media for the preload window.
type Item struct {
	PostId   string
	MediaUrl string
}

type Manager struct {
	loader        Loader
	muteStore     MuteStore
	poolSize      int
	viewThreshold time.Duration
	retryWait     time.Duration

	mu      sync.Mutex
	handles map[string]*handle
	muted   bool
	viewed  map[string]bool
	closed  bool

	views chan ViewEvent
	now   func() time.Time
}

func NewManager(ctx context.Context, loader Loader, store MuteStore, poolSize int, viewThreshold, retryWait time.Duration) (*Manager, error) {
	muted, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mute state: %w", err)
	}
	return &Manager{
		loader:        loader,
		muteStore:     store,
		poolSize:      poolSize,
		viewThreshold: viewThreshold,
		retryWait:     retryWait,
		handles:       make(map[string]*handle),
		muted:         muted,
		viewed:        make(map[string]bool),
		views:         make(chan ViewEvent, 16),
		now:           time.Now,
	}, nil
}

// Views streams significant-view events.
func (m *Manager) Views() <-chan ViewEvent {
	return m.views
}

// Acquire returns the live handle for a post, allocating one from the
// pool if needed. At capacity the least recently used inactive handle
// is force-released; if every handle is active the pool is exhausted.
func (m *Manager) Acquire(item Item) (HandleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return HandleInfo{}, errors.New("playback manager closed")
	}
	if h, ok := m.handles[item.PostId]; ok {
		h.lastUsed = m.now()
		return h.info(), nil
	}

	if len(m.handles) >= m.poolSize {
		if !m.evictLRULocked() {
			return HandleInfo{}, fmt.Errorf("%w: player pool at capacity", entities.ErrResourceExhausted)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		postId:   item.PostId,
		mediaUrl: item.MediaUrl,
		state:    StateBuffering,
		muted:    m.muted,
		lastUsed: m.now(),
		cancel:   cancel,
	}
	m.handles[item.PostId] = h

	go m.buffer(ctx, h)
	return h.info(), nil
}

// SetVisible moves the preload window. Handles are acquired for the
// visible item and its direct neighbors; handles outside that window
// go back to the pool, cancelling any buffering still in flight.
func (m *Manager) SetVisible(items []Item, current int) error {
	if current < 0 || current >= len(items) {
		return errors.New("visible index out of range")
	}

	window := make(map[string]bool, 3)
	for i := current - 1; i <= current+1; i++ {
		if i < 0 || i >= len(items) {
			continue
		}
		window[items[i].PostId] = true
	}

	m.mu.Lock()
	var release []string
	for postId, h := range m.handles {
		if !window[postId] {
			release = append(release, postId)
		}
		h.active = postId == items[current].PostId
	}
	m.mu.Unlock()

	for _, postId := range release {
		m.Release(postId)
	}

	// The visible item is acquired and marked active before any
	// neighbor preloads, so a small pool can never evict it to make
	// room for its own neighbors.
	if _, err := m.Acquire(items[current]); err != nil {
		return err
	}
	m.mu.Lock()
	if h, ok := m.handles[items[current].PostId]; ok {
		h.active = true
	}
	m.mu.Unlock()

	for i := current - 1; i <= current+1; i++ {
		if i < 0 || i >= len(items) || i == current {
			continue
		}
		if _, err := m.Acquire(items[i]); err != nil {
			if errors.Is(err, entities.ErrResourceExhausted) {
				// Preloading neighbors is best effort.
				continue
			}
			return err
		}
	}
	return nil
}

// Play starts or resumes playback. A handle that is still buffering
// starts playing as soon as buffering completes.
func (m *Manager) Play(postId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[postId]
	if !ok {
		return fmt.Errorf("%w: no handle for post %s", entities.ErrNotFound, postId)
	}
	switch h.state {
	case StateBuffering:
		h.pendingPlay = true
	case StateIdle, StatePaused:
		h.state = StatePlaying
		h.accrualStart = m.now()
	case StateError:
		return fmt.Errorf("%w: post %s", entities.ErrMediaDecode, postId)
	}
	h.lastUsed = m.now()
	return nil
}

func (m *Manager) Pause(postId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[postId]
	if !ok {
		return fmt.Errorf("%w: no handle for post %s", entities.ErrNotFound, postId)
	}
	h.pendingPlay = false
	if h.state == StatePlaying {
		m.accrueLocked(h)
		h.state = StatePaused
	}
	return nil
}

// Progress records the playhead position and accrues watched time for
// playing handles, firing the significant-view event when the
// threshold is crossed for the first time this session.
func (m *Manager) Progress(postId string, position time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[postId]
	if !ok {
		return fmt.Errorf("%w: no handle for post %s", entities.ErrNotFound, postId)
	}
	h.lastProgress = position
	if h.state == StatePlaying {
		m.accrueLocked(h)
	}
	return nil
}

// Release returns a handle to the pool, cancelling in-flight buffering.
func (m *Manager) Release(postId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(postId)
}

// SetMuted flips the process-wide mute flag, persists it, and applies
// it to every live handle so new and active players agree.
func (m *Manager) SetMuted(ctx context.Context, muted bool) error {
	m.mu.Lock()
	m.muted = muted
	for _, h := range m.handles {
		h.muted = muted
	}
	m.mu.Unlock()

	if err := m.muteStore.Save(ctx, muted); err != nil {
		return fmt.Errorf("save mute state: %w", err)
	}
	return nil
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Handle snapshots a live handle.
func (m *Manager) Handle(postId string) (HandleInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[postId]; ok {
		return h.info(), true
	}
	return HandleInfo{}, false
}

// Live reports the number of allocated handles.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// ResetSession starts a new viewing session: every post may fire one
// significant view again.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewed = make(map[string]bool)
}

// Close releases every handle and stops the view stream.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for postId := range m.handles {
		m.releaseLocked(postId)
	}
	close(m.views)
}

func (m *Manager) releaseLocked(postId string) {
	h, ok := m.handles[postId]
	if !ok {
		return
	}
	if h.state == StatePlaying {
		m.accrueLocked(h)
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.state = StateReleased
	delete(m.handles, postId)
}

// evictLRULocked drops the least recently used handle that is neither
// active nor playing. Returns false when nothing is evictable.
func (m *Manager) evictLRULocked() bool {
	var victim *handle
	for _, h := range m.handles {
		if h.active || h.state == StatePlaying {
			continue
		}
		if victim == nil || h.lastUsed.Before(victim.lastUsed) {
			victim = h
		}
	}
	if victim == nil {
		return false
	}
	m.releaseLocked(victim.postId)
	return true
}

func (m *Manager) accrueLocked(h *handle) {
	now := m.now()
	if !h.accrualStart.IsZero() {
		h.watched += now.Sub(h.accrualStart)
	}
	h.accrualStart = now

	if h.watched >= m.viewThreshold && !m.viewed[h.postId] {
		m.viewed[h.postId] = true
		select {
		case m.views <- ViewEvent{PostId: h.postId, Watched: h.watched}:
		default:
			log.Println("playback: dropping view event for", h.postId)
		}
	}
}

// buffer warms the handle's media. A first failure is retried once
// after a backoff; a second failure parks the handle in the error state
// so broken media does not retry forever.
func (m *Manager) buffer(ctx context.Context, h *handle) {
	err := m.loader.Load(ctx, h.mediaUrl)
	if err != nil && ctx.Err() == nil {
		select {
		case <-time.After(m.retryWait):
		case <-ctx.Done():
			return
		}
		err = m.loader.Load(ctx, h.mediaUrl)
	}
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h.state != StateBuffering {
		return
	}
	if err != nil {
		log.Printf("playback: buffering %s failed: %v", h.postId, err)
		h.state = StateError
		return
	}
	if h.pendingPlay {
		h.pendingPlay = false
		h.state = StatePlaying
		h.accrualStart = m.now()
		return
	}
	h.state = StateIdle
}

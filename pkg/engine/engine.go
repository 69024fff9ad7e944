// Package engine assembles the feed interaction and media playback
// components into one process-scoped unit with explicit construction
// and teardown. The UI layer receives an *Engine; nothing here is
// reachable through globals.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/config"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/feed"
	"github.com/quanta-social/feedengine/pkg/interactions"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
	"github.com/quanta-social/feedengine/pkg/playback"
	"github.com/quanta-social/feedengine/pkg/realtime"
)

type Engine struct {
	cfg config.Config

	queue        *mutqueue.Queue
	cache        *cache.Cache
	client       *backend.Client
	feed         *feed.Engine
	interactions *interactions.Coordinator
	playback     *playback.Manager
	realtime     *realtime.Adapter

	cancel context.CancelFunc
}

// realtimeBackend narrows the backend client to what the adapter needs.
type realtimeBackend struct {
	client *backend.Client
}

func (b realtimeBackend) DialEvents(ctx context.Context) (realtime.Conn, error) {
	return b.client.DialEvents(ctx)
}

func (b realtimeBackend) FetchVersionDiff(ctx context.Context, since []backend.VersionRef) ([]entities.RemotePatch, error) {
	return b.client.FetchVersionDiff(ctx, since)
}

func New(ctx context.Context, cfg config.Config, rdb *redis.Client) (*Engine, error) {
	queue := mutqueue.New(256)

	entityCache := cache.New(map[entities.Kind]int{
		entities.KindPost:        cfg.Cache.PostCapacity,
		entities.KindAvatar:      cfg.Cache.AvatarCapacity,
		entities.KindInteraction: cfg.Cache.InteractionCapacity,
		entities.KindComment:     cfg.Cache.CommentCapacity,
	}, cfg.Cache.TTL())

	client := backend.NewClient(backend.Options{
		BaseUrl:         cfg.Backend.BaseUrl,
		EventsUrl:       cfg.Backend.EventsUrl,
		FetchTimeout:    cfg.Backend.FetchTimeout(),
		MutationTimeout: cfg.Backend.MutationTimeout(),
	})

	feedEngine := feed.NewEngine(client, entityCache, queue, cfg.Feed.PageSize, cfg.Feed.PrefetchThreshold)
	coordinator := interactions.NewCoordinator(entityCache, queue, client, cfg.Interactions.Debounce())

	player, err := playback.NewManager(
		ctx,
		playback.NewHTTPLoader(cfg.Backend.FetchTimeout()),
		&playback.RedisMuteStore{Client: rdb},
		cfg.Playback.PoolSize,
		cfg.Playback.ViewThreshold(),
		cfg.Playback.BufferRetryWait(),
	)
	if err != nil {
		queue.Close()
		return nil, err
	}

	adapter := realtime.NewAdapter(realtimeBackend{client}, entityCache, queue)
	coordinator.SetResolveHook(adapter.Resolve)

	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:          cfg,
		queue:        queue,
		cache:        entityCache,
		client:       client,
		feed:         feedEngine,
		interactions: coordinator,
		playback:     player,
		realtime:     adapter,
		cancel:       cancel,
	}

	go adapter.Run(runCtx)
	go e.sweep(runCtx)

	return e, nil
}

// sweep runs the cache TTL eviction on the mutation queue at the
// configured interval.
func (e *Engine) sweep(ctx context.Context) {
	interval := e.cfg.Cache.SweepInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.queue.Enqueue(func() { e.cache.EvictIfStale() })
		case <-ctx.Done():
			return
		}
	}
}

// ObserveFeed streams every page the pagination engine produces.
func (e *Engine) ObserveFeed(ctx context.Context) <-chan feed.Page {
	return e.feed.Observe(ctx)
}

func (e *Engine) NextPage(ctx context.Context, cursor *feed.Cursor) (*feed.Page, error) {
	return e.feed.NextPage(ctx, cursor)
}

func (e *Engine) NotifyPosition(position int) {
	e.feed.NotifyPosition(position)
}

// RefreshFeed restarts the feed (pull-to-refresh), cancelling in-flight
// page fetches.
func (e *Engine) RefreshFeed() {
	e.feed.Reset()
}

func (e *Engine) ToggleLike(postId string) <-chan interactions.Result {
	return e.interactions.ToggleLike(postId)
}

func (e *Engine) ToggleBookmark(postId string) <-chan interactions.Result {
	return e.interactions.ToggleBookmark(postId)
}

func (e *Engine) ToggleFollow(avatarId string) <-chan interactions.Result {
	return e.interactions.ToggleFollow(avatarId)
}

func (e *Engine) SubmitComment(postId, text string) <-chan interactions.Result {
	return e.interactions.SubmitComment(postId, text)
}

// GetPlayerHandle acquires a pool handle for a cached post's media.
func (e *Engine) GetPlayerHandle(postId string) (playback.HandleInfo, error) {
	entry, ok := e.cache.Get(entities.KindPost, postId)
	if !ok {
		return playback.HandleInfo{}, fmt.Errorf("%w: post %s not cached", entities.ErrNotFound, postId)
	}
	post, ok := entry.Value.(entities.Post)
	if !ok {
		return playback.HandleInfo{}, fmt.Errorf("%w: post %s not cached", entities.ErrNotFound, postId)
	}
	return e.playback.Acquire(playback.Item{PostId: post.Id, MediaUrl: post.MediaUrl})
}

func (e *Engine) ReleasePlayerHandle(postId string) {
	e.playback.Release(postId)
}

// SetVisibleItem moves the playback preload window to the feed item at
// index current.
func (e *Engine) SetVisibleItem(items []playback.Item, current int) error {
	return e.playback.SetVisible(items, current)
}

func (e *Engine) Player() *playback.Manager {
	return e.playback
}

func (e *Engine) SetMuted(ctx context.Context, muted bool) error {
	return e.playback.SetMuted(ctx, muted)
}

func (e *Engine) Muted() bool {
	return e.playback.Muted()
}

// Views streams significant-view events for analytics collaborators.
func (e *Engine) Views() <-chan playback.ViewEvent {
	return e.playback.Views()
}

// Close tears the engine down: realtime and sweep loops stop, the
// player pool releases, and the mutation queue drains.
func (e *Engine) Close() {
	e.cancel()
	e.playback.Close()
	e.queue.Close()
}

// Package feed produces the lazily paginated feed: a restartable
// sequence of pages fetched from the backend and merged into the entity
// cache through the mutation queue.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
)

// ErrRestarted reports that the feed was reset while a page fetch for
// the previous window was in flight; the caller's cursor belongs to the
// discarded window.
var ErrRestarted = errors.New("feed restarted during fetch")

const DirectionForward = "forward"

// Cursor is the opaque pagination token issued by the backend,
// immutable once issued.
type Cursor struct {
	Token     string `json:"token"`
	Direction string `json:"direction"`
}

type Page struct {
	Items      []entities.Post `json:"items"`
	NextCursor *Cursor         `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
}

type Fetcher interface {
	FetchFeedPage(ctx context.Context, cursor string, limit int) (*backend.FeedPageResp, error)
}

type Engine struct {
	fetcher    Fetcher
	cache      *cache.Cache
	queue      *mutqueue.Queue
	pageSize   int
	prefetchAt float64

	mu          sync.Mutex
	buffered    []string
	bufferedSet map[string]bool
	next        *Cursor
	hasMore     bool
	fetching    bool
	prefetched  map[string]*Page
	cancelFetch context.CancelFunc

	// gen is bumped by Reset; a fetch started under an older generation
	// must not touch the window when it lands.
	gen int

	subMu sync.Mutex
	subs  []chan Page
}

func NewEngine(fetcher Fetcher, c *cache.Cache, q *mutqueue.Queue, pageSize int, prefetchAt float64) *Engine {
	return &Engine{
		fetcher:     fetcher,
		cache:       c,
		queue:       q,
		pageSize:    pageSize,
		prefetchAt:  prefetchAt,
		bufferedSet: make(map[string]bool),
		hasMore:     true,
		prefetched:  make(map[string]*Page),
	}
}

// NextPage fetches the page at cursor. A nil cursor restarts the feed
// from the beginning. Retrying with the same cursor after a failure is
// safe: no partial state is kept from the failed attempt and the
// version-gated cache merge makes re-application idempotent.
func (e *Engine) NextPage(ctx context.Context, cursor *Cursor) (*Page, error) {
	if cursor == nil {
		e.Reset()
		cursor = &Cursor{Direction: DirectionForward}
	}

	e.mu.Lock()
	if page, ok := e.prefetched[cursor.Token]; ok {
		delete(e.prefetched, cursor.Token)
		e.mu.Unlock()
		return page, nil
	}
	gen := e.gen
	e.mu.Unlock()

	resp, err := e.fetcher.FetchFeedPage(ctx, cursor.Token, e.pageSize)
	if err != nil {
		// Cursor and buffered pages stay untouched so the caller can
		// retry with the same cursor.
		return nil, fmt.Errorf("fetch feed page: %w", err)
	}

	page, ok := e.merge(resp, gen)
	if !ok {
		return nil, fmt.Errorf("fetch feed page: %w", ErrRestarted)
	}
	e.publish(*page)
	return page, nil
}

// NotifyPosition reports the UI's consumption position within the
// buffered window. Crossing the prefetch watermark starts a background
// fetch of the next page without blocking already-buffered items.
func (e *Engine) NotifyPosition(position int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasMore || e.fetching || e.next == nil || len(e.buffered) == 0 {
		return
	}
	if float64(position+1) < e.prefetchAt*float64(len(e.buffered)) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.fetching = true
	e.cancelFetch = cancel
	cursor := *e.next
	gen := e.gen

	go func() {
		defer cancel()
		resp, err := e.fetcher.FetchFeedPage(ctx, cursor.Token, e.pageSize)

		e.mu.Lock()
		e.fetching = false
		e.cancelFetch = nil
		e.mu.Unlock()

		if err != nil {
			if ctx.Err() == nil {
				log.Println("feed prefetch:", err)
			}
			return
		}

		page, ok := e.merge(resp, gen)
		if !ok {
			return
		}
		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		e.prefetched[cursor.Token] = page
		e.mu.Unlock()
		e.publish(*page)
	}()
}

// Reset restarts the feed, cancelling any in-flight prefetch. Cached
// entities are untouched; only the page window is dropped.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.gen++
	e.fetching = false
	e.buffered = nil
	e.bufferedSet = make(map[string]bool)
	e.prefetched = make(map[string]*Page)
	e.next = nil
	e.hasMore = true
}

// Observe streams every page the engine produces until ctx is done.
func (e *Engine) Observe(ctx context.Context) <-chan Page {
	ch := make(chan Page, 4)

	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subMu.Lock()
		for i, sub := range e.subs {
			if sub == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				break
			}
		}
		e.subMu.Unlock()
		close(ch)
	}()

	return ch
}

// merge applies fetched entities to the cache under the mutation queue
// and assembles the page from post-merge cache state, so an item the
// cache already holds at a newer version keeps that newer value while
// its ordering in the page list still updates. Returns false without
// touching the window when the feed was reset after the fetch started;
// the cache puts stand either way, they are version-gated.
func (e *Engine) merge(resp *backend.FeedPageResp, gen int) (*Page, bool) {
	items := make([]entities.Post, 0, len(resp.Items))

	e.queue.Do(func() {
		for _, avatar := range resp.Avatars {
			if err := entities.Validate(avatar); err != nil {
				log.Println("feed: dropping malformed avatar:", err)
				continue
			}
			e.cache.Put(entities.KindAvatar, avatar.Id, avatar, avatar.Version)
			if avatar.IsActive {
				e.cache.EnforceActiveAvatar(avatar.OwnerId, avatar.Id)
			}
		}
		for _, post := range resp.Items {
			if err := entities.Validate(post); err != nil {
				log.Println("feed: dropping malformed post:", err)
				continue
			}
			e.cache.Put(entities.KindPost, post.Id, post, post.Version)
			if post.Status != entities.PostStatusPublished {
				continue
			}
			item := post
			if entry, ok := e.cache.Get(entities.KindPost, post.Id); ok {
				if cached, ok := entry.Value.(entities.Post); ok {
					item = cached
				}
			}
			items = append(items, item)
		}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return nil, false
	}

	for _, post := range items {
		if !e.bufferedSet[post.Id] {
			e.bufferedSet[post.Id] = true
			e.buffered = append(e.buffered, post.Id)
		}
	}

	var next *Cursor
	if resp.NextCursor != "" {
		next = &Cursor{Token: resp.NextCursor, Direction: DirectionForward}
	}
	e.next = next
	e.hasMore = resp.HasMore

	return &Page{Items: items, NextCursor: next, HasMore: resp.HasMore}, true
}

func (e *Engine) publish(page Page) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, sub := range e.subs {
		select {
		case sub <- page:
		default: // slow subscriber, drop rather than block the engine
		}
	}
}

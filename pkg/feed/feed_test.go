package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	pages    map[string]*backend.FeedPageResp
	failNext map[string]error
	block    chan struct{} // when set, responses wait for it
}

func (f *fakeFetcher) FetchFeedPage(ctx context.Context, cursor string, limit int) (*backend.FeedPageResp, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	block := f.block
	err, failed := f.failNext[cursor]
	if failed {
		delete(f.failNext, cursor)
	}
	page, ok := f.pages[cursor]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if failed {
		return nil, err
	}
	if !ok {
		return &backend.FeedPageResp{}, nil
	}
	return page, nil
}

func (f *fakeFetcher) setBlock(ch chan struct{}) {
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount(cursor string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cursor {
			n++
		}
	}
	return n
}

func mkPost(id string, version int64) entities.Post {
	return entities.Post{
		Id:        id,
		AuthorId:  "av-" + id,
		MediaUrl:  "https://cdn.example.com/" + id + ".mp4",
		MediaType: entities.MediaTypeVideo,
		Caption:   "caption " + id,
		Status:    entities.PostStatusPublished,
		Version:   version,
	}
}

func newTestEngine(f Fetcher) (*Engine, *cache.Cache, *mutqueue.Queue) {
	c := cache.New(map[entities.Kind]int{
		entities.KindPost:   64,
		entities.KindAvatar: 64,
	}, time.Hour)
	q := mutqueue.New(64)
	return NewEngine(f, c, q, 4, 0.7), c, q
}

func TestNextPageRestartAndAdvance(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {
			Items:      []entities.Post{mkPost("a", 1), mkPost("b", 1)},
			NextCursor: "c1",
			HasMore:    true,
		},
		"c1": {
			Items:   []entities.Post{mkPost("c", 1)},
			HasMore: false,
		},
	}}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	page, err := e.NextPage(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}
	if page.NextCursor == nil || page.NextCursor.Token != "c1" {
		t.Fatalf("next cursor = %+v", page.NextCursor)
	}
	if _, ok := c.Get(entities.KindPost, "a"); !ok {
		t.Error("fetched post not cached")
	}

	page2, err := e.NextPage(context.Background(), page.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Items) != 1 || page2.HasMore || page2.NextCursor != nil {
		t.Fatalf("page2 = %+v", page2)
	}
}

func TestFailedFetchIsRetryableWithSameCursor(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]*backend.FeedPageResp{
			"c1": {Items: []entities.Post{mkPost("a", 1)}},
		},
		failNext: map[string]error{"c1": fmt.Errorf("%w: boom", entities.ErrNetwork)},
	}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	cursor := &Cursor{Token: "c1", Direction: DirectionForward}
	if _, err := e.NextPage(context.Background(), cursor); !errors.Is(err, entities.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	if _, ok := c.Get(entities.KindPost, "a"); ok {
		t.Error("failed fetch left partial state in cache")
	}

	page, err := e.NextPage(context.Background(), cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Id != "a" {
		t.Fatalf("retry page = %+v", page)
	}
}

func TestDedupKeepsNewerCachedVersion(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {Items: []entities.Post{mkPost("a", 1)}},
	}}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	newer := mkPost("a", 9)
	newer.Caption = "newer caption"
	c.Put(entities.KindPost, "a", newer, 9)

	page, err := e.NextPage(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.Items[0].Caption != "newer caption" || page.Items[0].Version != 9 {
		t.Errorf("stale fetch overrode newer cached version: %+v", page.Items[0])
	}
}

func TestMalformedItemsDropped(t *testing.T) {
	bad := mkPost("bad", 1)
	bad.MediaUrl = "not a url"
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {Items: []entities.Post{bad, mkPost("ok", 1)}},
	}}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	page, err := e.NextPage(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Id != "ok" {
		t.Fatalf("page = %+v", page.Items)
	}
	if _, ok := c.Get(entities.KindPost, "bad"); ok {
		t.Error("malformed post entered the cache")
	}
}

func TestPrefetchAtWatermark(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {
			Items:      []entities.Post{mkPost("a", 1), mkPost("b", 1), mkPost("c", 1), mkPost("d", 1)},
			NextCursor: "c1",
			HasMore:    true,
		},
		"c1": {Items: []entities.Post{mkPost("e", 1)}},
	}}
	e, _, q := newTestEngine(fetcher)
	defer q.Close()

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	// Below the watermark: no prefetch.
	e.NotifyPosition(0)
	time.Sleep(20 * time.Millisecond)
	if n := fetcher.callCount("c1"); n != 0 {
		t.Fatalf("prefetch fired below watermark (%d calls)", n)
	}

	// 70% through 4 buffered items.
	e.NotifyPosition(3)
	deadline := time.Now().Add(time.Second)
	for fetcher.callCount("c1") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := fetcher.callCount("c1"); n != 1 {
		t.Fatalf("prefetch calls = %d, want 1", n)
	}

	// Wait for the prefetched page to land, then consume it without a
	// second network call.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		ready := len(e.prefetched) > 0
		e.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}
	page, err := e.NextPage(context.Background(), &Cursor{Token: "c1", Direction: DirectionForward})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].Id != "e" {
		t.Fatalf("prefetched page = %+v", page.Items)
	}
	if n := fetcher.callCount("c1"); n != 1 {
		t.Errorf("consuming prefetched page refetched (%d calls)", n)
	}
}

func TestFeedPageCachesAuthors(t *testing.T) {
	author := entities.Avatar{Id: "av-a", OwnerId: "u1", DisplayName: "A", IsActive: true, Version: 1}
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {
			Items:   []entities.Post{mkPost("a", 1)},
			Avatars: []entities.Avatar{author},
		},
	}}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	// An older avatar of the same owner is still marked active.
	stale := entities.Avatar{Id: "av-old", OwnerId: "u1", DisplayName: "Old", IsActive: true, Version: 1}
	c.Put(entities.KindAvatar, "av-old", stale, 1)

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	entry, ok := c.Get(entities.KindAvatar, "av-a")
	if !ok {
		t.Fatal("page author not cached")
	}
	if !entry.Value.(entities.Avatar).IsActive {
		t.Error("cached author lost active flag")
	}
	old, _ := c.Get(entities.KindAvatar, "av-old")
	if old.Value.(entities.Avatar).IsActive {
		t.Error("previous active avatar of the same owner not deactivated")
	}
}

func TestMalformedAuthorDropped(t *testing.T) {
	bad := entities.Avatar{Id: "av-bad", DisplayName: "no owner", Version: 1}
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {Items: []entities.Post{mkPost("a", 1)}, Avatars: []entities.Avatar{bad}},
	}}
	e, c, q := newTestEngine(fetcher)
	defer q.Close()

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(entities.KindAvatar, "av-bad"); ok {
		t.Error("malformed avatar entered the cache")
	}
}

func TestResetDropsInFlightPrefetch(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {
			Items:      []entities.Post{mkPost("a", 1), mkPost("b", 1), mkPost("c", 1), mkPost("d", 1)},
			NextCursor: "c1",
			HasMore:    true,
		},
		"c1": {Items: []entities.Post{mkPost("stale", 1)}, NextCursor: "c2", HasMore: true},
	}}
	e, _, q := newTestEngine(fetcher)
	defer q.Close()

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	// Hold the prefetch response while the user pulls to refresh.
	release := make(chan struct{})
	fetcher.setBlock(release)
	e.NotifyPosition(3)
	deadline := time.Now().Add(time.Second)
	for fetcher.callCount("c1") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	e.Reset()
	close(release)

	// The stale response must never rewind the window it arrived after.
	deadline = time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		next, buffered, prefetched := e.next, len(e.buffered), len(e.prefetched)
		e.mu.Unlock()
		if next != nil || buffered != 0 || prefetched != 0 {
			t.Fatalf("stale prefetch landed after reset: next=%+v buffered=%d prefetched=%d", next, buffered, prefetched)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNextPageAfterConcurrentResetReportsRestart(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"c1": {Items: []entities.Post{mkPost("stale", 1)}, NextCursor: "c2", HasMore: true},
	}}
	e, _, q := newTestEngine(fetcher)
	defer q.Close()

	release := make(chan struct{})
	fetcher.setBlock(release)

	result := make(chan error, 1)
	go func() {
		_, err := e.NextPage(context.Background(), &Cursor{Token: "c1", Direction: DirectionForward})
		result <- err
	}()

	deadline := time.Now().Add(time.Second)
	for fetcher.callCount("c1") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.Reset()
	close(release)

	if err := <-result; !errors.Is(err, ErrRestarted) {
		t.Fatalf("err = %v, want restart error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next != nil || len(e.buffered) != 0 {
		t.Errorf("stale page updated the window: next=%+v buffered=%d", e.next, len(e.buffered))
	}
}

func TestResetClearsWindow(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {Items: []entities.Post{mkPost("a", 1)}, NextCursor: "c1", HasMore: true},
	}}
	e, _, q := newTestEngine(fetcher)
	defer q.Close()

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	e.Reset()

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buffered) != 0 || e.next != nil || !e.hasMore {
		t.Errorf("reset left state behind: buffered=%d next=%v", len(e.buffered), e.next)
	}
}

func TestObservePublishesPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]*backend.FeedPageResp{
		"": {Items: []entities.Post{mkPost("a", 1)}},
	}}
	e, _, q := newTestEngine(fetcher)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := e.Observe(ctx)

	if _, err := e.NextPage(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	select {
	case page := <-stream:
		if len(page.Items) != 1 || page.Items[0].Id != "a" {
			t.Errorf("observed page = %+v", page.Items)
		}
	case <-time.After(time.Second):
		t.Fatal("no page observed")
	}
}

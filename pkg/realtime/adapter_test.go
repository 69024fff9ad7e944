package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
)

// scriptConn feeds a fixed sequence of messages, then fails the read.
type scriptConn struct {
	mu         sync.Mutex
	messages   [][]byte
	closed     bool
	closeCalls int
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.messages) == 0 {
		return 0, nil, io.EOF
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return 2, msg, nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCalls++
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	conns    []*scriptConn
	dials    int
	diffs    [][]backend.VersionRef
	diffResp []entities.RemotePatch
	diffErr  error
}

func (b *fakeBackend) DialEvents(ctx context.Context) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if len(b.conns) == 0 {
		return nil, entities.ErrNetwork
	}
	conn := b.conns[0]
	b.conns = b.conns[1:]
	return conn, nil
}

func (b *fakeBackend) FetchVersionDiff(ctx context.Context, since []backend.VersionRef) ([]entities.RemotePatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.diffs = append(b.diffs, since)
	return b.diffResp, b.diffErr
}

func newTestAdapter(b Backend) (*Adapter, *cache.Cache, *mutqueue.Queue) {
	c := cache.New(map[entities.Kind]int{
		entities.KindPost:        16,
		entities.KindAvatar:      16,
		entities.KindInteraction: 16,
		entities.KindComment:     16,
	}, time.Hour)
	q := mutqueue.New(64)
	return NewAdapter(b, c, q), c, q
}

func cachedLikes(t *testing.T, c *cache.Cache, id string) (int64, int64, bool) {
	t.Helper()
	entry, ok := c.Get(entities.KindPost, id)
	if !ok {
		t.Fatalf("post %s not cached", id)
	}
	return entry.Value.(entities.Post).Counters.Likes, entry.Version, entry.Dirty
}

func post(id string, likes, version int64) entities.Post {
	return entities.Post{
		Id:        id,
		AuthorId:  "av-" + id,
		MediaUrl:  "https://cdn.example.com/" + id + ".mp4",
		MediaType: entities.MediaTypeVideo,
		Counters:  entities.Counters{Likes: likes},
		Status:    entities.PostStatusPublished,
		Version:   version,
	}
}

func likesPatch(id string, likes, version int64) entities.RemotePatch {
	return entities.RemotePatch{
		Kind:    entities.KindPost,
		Id:      id,
		Version: version,
		Post:    &entities.PostPatch{Counters: &entities.Counters{Likes: likes}},
	}
}

func TestApplyIsVersionGated(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	c.Put(entities.KindPost, "a", post("a", 10, 2), 2)

	q.Do(func() {
		a.apply(likesPatch("a", 99, 2)) // not newer, dropped
		a.apply(likesPatch("a", 98, 1)) // older, dropped
	})
	likes, version, _ := cachedLikes(t, c, "a")
	if likes != 10 || version != 2 {
		t.Errorf("post = %d likes v%d, want untouched 10 v2", likes, version)
	}

	q.Do(func() { a.apply(likesPatch("a", 12, 3)) })
	likes, version, _ = cachedLikes(t, c, "a")
	if likes != 12 || version != 3 {
		t.Errorf("post = %d likes v%d, want 12 v3", likes, version)
	}
}

func TestApplySkipsUncachedEntities(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	q.Do(func() { a.apply(likesPatch("ghost", 5, 1)) })
	if _, ok := c.Get(entities.KindPost, "ghost"); ok {
		t.Error("patch conjured an entity that was never fetched")
	}
	if len(a.buffered) != 0 {
		t.Error("patch for uncached entity was buffered")
	}
}

func TestDirtyPushesBufferAndReplayInVersionOrder(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	// A pending local mutation holds the post dirty at likes=11.
	c.Put(entities.KindPost, "a", post("a", 10, 1), 1)
	c.PutDirty(entities.KindPost, "a", post("a", 11, 1))

	// Pushes arrive out of order while the mutation is in flight.
	q.Do(func() {
		a.apply(likesPatch("a", 15, 4))
		a.apply(likesPatch("a", 13, 3))
	})
	likes, _, dirty := cachedLikes(t, c, "a")
	if likes != 11 || !dirty {
		t.Fatalf("post = %d likes dirty:%v, want optimistic 11 dirty", likes, dirty)
	}

	// The mutation resolves with server-confirmed counters, then the
	// buffered pushes replay oldest first.
	q.Do(func() {
		c.ClearDirty(entities.KindPost, "a", post("a", 12, 2), 2)
		a.Resolve(entities.KindPost, "a")
	})

	likes, version, dirty := cachedLikes(t, c, "a")
	if likes != 15 || version != 4 || dirty {
		t.Errorf("post = %d likes v%d dirty:%v, want 15 v4 clean", likes, version, dirty)
	}
	if len(a.buffered) != 0 {
		t.Error("buffer not drained after replay")
	}
}

func TestReplayDiscardsPushesOlderThanConfirmation(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	c.Put(entities.KindPost, "a", post("a", 10, 1), 1)
	c.PutDirty(entities.KindPost, "a", post("a", 11, 1))

	q.Do(func() { a.apply(likesPatch("a", 12, 2)) })

	// The confirmation already carries a version past the buffered push.
	q.Do(func() {
		c.ClearDirty(entities.KindPost, "a", post("a", 12, 3), 3)
		a.Resolve(entities.KindPost, "a")
	})

	likes, version, _ := cachedLikes(t, c, "a")
	if likes != 12 || version != 3 {
		t.Errorf("post = %d likes v%d, want confirmed 12 v3", likes, version)
	}
}

func TestPatchPreservesUntouchedFields(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	p := post("a", 10, 1)
	p.Caption = "sunset"
	p.Hashtags = []string{"sky"}
	c.Put(entities.KindPost, "a", p, 1)

	q.Do(func() { a.apply(likesPatch("a", 11, 2)) })

	entry, _ := c.Get(entities.KindPost, "a")
	got := entry.Value.(entities.Post)
	if got.Caption != "sunset" || len(got.Hashtags) != 1 {
		t.Errorf("patch clobbered unrelated fields: %+v", got)
	}
	if got.Counters.Likes != 11 {
		t.Errorf("likes = %d, want 11", got.Counters.Likes)
	}
}

func TestActiveAvatarPushDeactivatesSiblings(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	c.Put(entities.KindAvatar, "av1", entities.Avatar{Id: "av1", OwnerId: "u1", DisplayName: "One", IsActive: true, Version: 1}, 1)
	c.Put(entities.KindAvatar, "av2", entities.Avatar{Id: "av2", OwnerId: "u1", DisplayName: "Two", Version: 1}, 1)

	active := true
	q.Do(func() {
		a.apply(entities.RemotePatch{
			Kind:    entities.KindAvatar,
			Id:      "av2",
			Version: 2,
			Avatar:  &entities.AvatarPatch{IsActive: &active},
		})
	})

	first, _ := c.Get(entities.KindAvatar, "av1")
	second, _ := c.Get(entities.KindAvatar, "av2")
	if first.Value.(entities.Avatar).IsActive {
		t.Error("previous active avatar not deactivated")
	}
	if !second.Value.(entities.Avatar).IsActive {
		t.Error("pushed avatar not active")
	}
}

func TestConsumeAppliesStreamedEvents(t *testing.T) {
	a, c, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	c.Put(entities.KindPost, "a", post("a", 10, 1), 1)

	counters := entities.Counters{Likes: 11}
	updateMsg, err := EncodeEvent(OpUpdatePost, UpdatePost{
		Id:      "a",
		Version: 2,
		Patch:   entities.PostPatch{Counters: &counters},
	})
	if err != nil {
		t.Fatal(err)
	}
	commentMsg, err := EncodeEvent(OpCreateComment, CreateComment{
		Comment: entities.Comment{Id: "c1", PostId: "a", AuthorId: "av-x", Text: "hi", Version: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	conn := &scriptConn{messages: [][]byte{updateMsg, {9, 9}, commentMsg}}
	a.consume(context.Background(), conn)

	likes, version, _ := cachedLikes(t, c, "a")
	if likes != 11 || version != 2 {
		t.Errorf("post = %d likes v%d, want 11 v2", likes, version)
	}
	if _, ok := c.Get(entities.KindComment, "c1"); !ok {
		t.Error("pushed comment not cached")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("connection not closed after read failure")
	}
}

func TestConsumeWatcherExitsWithConnection(t *testing.T) {
	a, _, q := newTestAdapter(&fakeBackend{})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &scriptConn{}
	a.consume(ctx, conn)

	// Cancelling after consume returned must not touch the dead
	// connection again; the watcher for it is gone.
	cancel()
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", conn.closeCalls)
	}
}

func TestDecodeRejectsMalformedEvents(t *testing.T) {
	if _, _, err := decodeEvent([]byte{OpUpdatePost}); err == nil {
		t.Error("short event accepted")
	}
	if _, _, err := decodeEvent([]byte{42, 0, 0}); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestResyncPatchesCachedEntities(t *testing.T) {
	b := &fakeBackend{diffResp: []entities.RemotePatch{likesPatch("a", 14, 5)}}
	a, c, q := newTestAdapter(b)
	defer q.Close()

	c.Put(entities.KindPost, "a", post("a", 10, 1), 1)
	c.Put(entities.KindPost, "b", post("b", 3, 2), 2)

	if err := a.resync(context.Background()); err != nil {
		t.Fatal(err)
	}

	b.mu.Lock()
	since := b.diffs[0]
	b.mu.Unlock()
	if len(since) != 2 {
		t.Errorf("diff request covered %d entries, want 2", len(since))
	}

	likes, version, _ := cachedLikes(t, c, "a")
	if likes != 14 || version != 5 {
		t.Errorf("post = %d likes v%d, want resynced 14 v5", likes, version)
	}
}

func TestResyncSurfacesBackendError(t *testing.T) {
	b := &fakeBackend{diffErr: entities.ErrNetwork}
	a, c, q := newTestAdapter(b)
	defer q.Close()

	c.Put(entities.KindPost, "a", post("a", 10, 1), 1)

	if err := a.resync(context.Background()); !errors.Is(err, entities.ErrNetwork) {
		t.Errorf("err = %v, want network error", err)
	}
}

// Package realtime consumes the backend's push channel as one ordered
// event stream and merges it into the entity cache through the mutation
// queue, so pushes never race local mutations. Pushes for dirty
// entities are buffered and replayed once the pending mutation
// resolves; they are never silently dropped.
package realtime

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
)

const (
	reconnectWait    = time.Second
	reconnectWaitMax = 30 * time.Second
)

type Backend interface {
	DialEvents(ctx context.Context) (Conn, error)
	FetchVersionDiff(ctx context.Context, since []backend.VersionRef) ([]entities.RemotePatch, error)
}

// Conn is the subset of a websocket connection the adapter reads.
type Conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

type bufferKey struct {
	kind entities.Kind
	id   string
}

type Adapter struct {
	backend Backend
	cache   *cache.Cache
	queue   *mutqueue.Queue

	// buffered holds pushes for dirty entities until their pending
	// mutation resolves. Accessed exclusively from mutation queue jobs.
	buffered map[bufferKey][]entities.RemotePatch

	mu    sync.Mutex
	stale bool
}

func NewAdapter(b Backend, c *cache.Cache, q *mutqueue.Queue) *Adapter {
	return &Adapter{
		backend:  b,
		cache:    c,
		queue:    q,
		buffered: make(map[bufferKey][]entities.RemotePatch),
	}
}

// Run connects, consumes events, and reconnects with backoff until ctx
// is done. After a connection loss the adapter is stale: the transport
// guarantees no redelivery, so the next connection starts with a
// version-diff resync instead of trusting the stream.
func (a *Adapter) Run(ctx context.Context) {
	wait := reconnectWait
	for ctx.Err() == nil {
		conn, err := a.backend.DialEvents(ctx)
		if err != nil {
			log.Println("realtime: dial:", err)
			if !sleep(ctx, wait) {
				return
			}
			wait = backoff(wait)
			continue
		}
		wait = reconnectWait

		if a.isStale() {
			if err := a.resync(ctx); err != nil {
				log.Println("realtime: resync:", err)
				conn.Close()
				if !sleep(ctx, wait) {
					return
				}
				continue
			}
			a.setStale(false)
		}

		a.consume(ctx, conn)
		a.setStale(true)
	}
}

func (a *Adapter) consume(ctx context.Context, conn Conn) {
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	done := make(chan struct{})
	defer close(done)
	defer closeConn()

	// Unblock the read on cancellation; the watcher itself exits with
	// this connection so reconnects do not pile up goroutines. The
	// Once keeps a cancellation that lands after consume already
	// returned from closing the released connection a second time.
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Println("realtime: read:", err)
			}
			return
		}

		patch, comment, err := decodeEvent(data)
		if err != nil {
			log.Println("realtime: decode:", err)
			continue
		}

		a.queue.Do(func() {
			if comment != nil {
				a.applyComment(*comment)
				return
			}
			a.apply(*patch)
		})
	}
}

// Resolve replays pushes buffered for an entity whose pending mutation
// just resolved, oldest version first, against the post-resolution
// state. Must be called from the mutation queue; the interaction
// coordinator's resolve hook does so.
func (a *Adapter) Resolve(kind entities.Kind, id string) {
	k := bufferKey{kind, id}
	patches := a.buffered[k]
	if len(patches) == 0 {
		return
	}
	delete(a.buffered, k)

	sort.Slice(patches, func(i, j int) bool { return patches[i].Version < patches[j].Version })
	for _, p := range patches {
		a.apply(p)
	}
}

// apply merges one patch under the version-gated rules. Queue context
// only.
func (a *Adapter) apply(p entities.RemotePatch) {
	entry, ok := a.cache.Get(p.Kind, p.Id)
	if !ok {
		// Nothing cached to patch; the full entity arrives with the
		// next fetch.
		return
	}
	if entry.Dirty {
		k := bufferKey{p.Kind, p.Id}
		a.buffered[k] = append(a.buffered[k], p)
		return
	}
	if p.Version <= entry.Version {
		// Older than the cached value; last writer wins by version,
		// not arrival order.
		return
	}

	merged := p.Apply(entry.Value)
	if err := entities.Validate(merged); err != nil {
		log.Println("realtime: dropping malformed patch:", err)
		return
	}
	a.cache.Put(p.Kind, p.Id, merged, p.Version)

	if avatar, ok := merged.(entities.Avatar); ok && avatar.IsActive {
		a.cache.EnforceActiveAvatar(avatar.OwnerId, avatar.Id)
	}
}

func (a *Adapter) applyComment(comment entities.Comment) {
	if err := entities.Validate(comment); err != nil {
		log.Println("realtime: dropping malformed comment:", err)
		return
	}
	a.cache.Put(entities.KindComment, comment.Id, comment, comment.Version)
}

// resync fetches the patches needed to catch cached entities up after a
// reconnect.
func (a *Adapter) resync(ctx context.Context) error {
	var since []backend.VersionRef
	for _, kind := range []entities.Kind{entities.KindPost, entities.KindAvatar, entities.KindInteraction} {
		for id, version := range a.cache.Versions(kind) {
			since = append(since, backend.VersionRef{Kind: kind, Id: id, Version: version})
		}
	}
	if len(since) == 0 {
		return nil
	}

	patches, err := a.backend.FetchVersionDiff(ctx, since)
	if err != nil {
		return err
	}

	return a.queue.Do(func() {
		for _, p := range patches {
			a.apply(p)
		}
	})
}

func (a *Adapter) isStale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stale
}

func (a *Adapter) setStale(stale bool) {
	a.mu.Lock()
	a.stale = stale
	a.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func backoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectWaitMax {
		return reconnectWaitMax
	}
	return d
}

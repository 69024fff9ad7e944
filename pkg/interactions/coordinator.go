// Package interactions applies user actions optimistically: the local
// toggle and the denormalized parent counter change in one mutation
// queue step, the remote call runs in the background, and the cache is
// reconciled to server-confirmed state or rolled back on failure.
package interactions

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/cache"
	"github.com/quanta-social/feedengine/pkg/entities"
	"github.com/quanta-social/feedengine/pkg/mutqueue"
)

type Remote interface {
	MutateInteraction(ctx context.Context, kind entities.ToggleKind, entityId string, desired bool) (*backend.MutateInteractionResp, error)
	CreateComment(ctx context.Context, postId, tempId, text string) (*entities.Comment, error)
}

// Result resolves a toggle or comment future. Err is nil on success;
// a retryable Err means the caller may re-issue the action.
type Result struct {
	Err     error
	State   entities.InteractionState
	Comment *entities.Comment
}

type Coordinator struct {
	cache    *cache.Cache
	queue    *mutqueue.Queue
	remote   Remote
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEntity

	// dirtyRefs counts pending mutations per entry so the dirty flag
	// only clears once every mutation touching the entry resolved.
	// pendingVersions keeps the highest confirmed version seen while
	// other mutations on the entry are still pending. Both are accessed
	// exclusively from mutation queue jobs.
	dirtyRefs       map[refKey]int
	pendingVersions map[refKey]int64

	// onResolve runs on the mutation queue after an entry's dirty flag
	// clears; the realtime adapter hooks it to replay buffered pushes.
	onResolve func(kind entities.Kind, id string)
}

type refKey struct {
	kind entities.Kind
	id   string
}

type pendingEntity struct {
	baselineState   entities.InteractionState
	baselineVersion int64
	intents         map[entities.ToggleKind]*intent
}

type intent struct {
	desired      bool
	inFlight     bool
	timer        *time.Timer
	waiters      []chan Result
	appliedDelta int64
	parentHeld   bool
}

func NewCoordinator(c *cache.Cache, q *mutqueue.Queue, remote Remote, debounce time.Duration) *Coordinator {
	return &Coordinator{
		cache:           c,
		queue:           q,
		remote:          remote,
		debounce:        debounce,
		pending:         make(map[string]*pendingEntity),
		dirtyRefs:       make(map[refKey]int),
		pendingVersions: make(map[refKey]int64),
	}
}

// SetResolveHook registers the callback fired (on the mutation queue)
// when an entry's last pending mutation resolves.
func (c *Coordinator) SetResolveHook(fn func(kind entities.Kind, id string)) {
	c.onResolve = fn
}

func (c *Coordinator) ToggleLike(postId string) <-chan Result {
	return c.Toggle(entities.ToggleLike, postId)
}

func (c *Coordinator) ToggleBookmark(postId string) <-chan Result {
	return c.Toggle(entities.ToggleBookmark, postId)
}

func (c *Coordinator) ToggleFollow(avatarId string) <-chan Result {
	return c.Toggle(entities.ToggleFollow, avatarId)
}

// Toggle flips one interaction flag optimistically. A second toggle on
// the same (kind, entity) while one is pending coalesces: the pending
// dispatch picks up the net desired state and issues at most one remote
// call, or none when the net effect is a no-op.
func (c *Coordinator) Toggle(kind entities.ToggleKind, entityId string) <-chan Result {
	result := make(chan Result, 1)

	err := c.queue.Do(func() {
		// Read current state
		var state entities.InteractionState
		var stateVersion int64
		if entry, ok := c.cache.Get(entities.KindInteraction, entityId); ok {
			state, _ = entry.Value.(entities.InteractionState)
			stateVersion = entry.Version
		}
		if state.EntityId == "" {
			state.EntityId = entityId
		}
		desired := !state.Field(kind)

		c.mu.Lock()
		ent := c.pending[entityId]
		if ent == nil {
			ent = &pendingEntity{
				baselineState:   state,
				baselineVersion: stateVersion,
				intents:         make(map[entities.ToggleKind]*intent),
			}
			c.pending[entityId] = ent
		}
		in := ent.intents[kind]
		first := in == nil
		if first {
			in = &intent{}
			ent.intents[kind] = in
		}
		in.desired = desired
		in.waiters = append(in.waiters, result)
		c.mu.Unlock()

		// Apply locally: interaction flag and parent counter move in
		// this same queue step so no inconsistent intermediate state is
		// observable.
		c.cache.PutDirty(entities.KindInteraction, entityId, state.WithField(kind, desired))
		if first {
			c.holdDirty(entities.KindInteraction, entityId)
		}

		delta := int64(-1)
		if desired {
			delta = 1
		}
		c.applyParentDelta(kind, entityId, delta, in)

		// Debounce the dispatch so rapid flips collapse into the net
		// effect before any remote call goes out.
		c.mu.Lock()
		if !in.inFlight {
			if in.timer != nil {
				in.timer.Stop()
			}
			in.timer = time.AfterFunc(c.debounce, func() {
				c.dispatch(kind, entityId)
			})
		}
		c.mu.Unlock()
	})
	if err != nil {
		result <- Result{Err: err}
	}

	return result
}

func (c *Coordinator) dispatch(kind entities.ToggleKind, entityId string) {
	c.mu.Lock()
	ent := c.pending[entityId]
	if ent == nil {
		c.mu.Unlock()
		return
	}
	in := ent.intents[kind]
	if in == nil || in.inFlight {
		c.mu.Unlock()
		return
	}

	if in.desired == ent.baselineState.Field(kind) {
		// Net no-op: the flag and counter are already back at their
		// confirmed values, just release the dirty holds. Baseline is
		// snapshotted under the lock; a follow-up resolution for
		// another toggle kind on this entity may rewrite it.
		baseline := ent.baselineState
		baselineVersion := ent.baselineVersion
		waiters := c.removeIntent(ent, kind, entityId, in)
		c.mu.Unlock()

		c.queue.Do(func() {
			state := c.currentState(entityId, baseline)
			c.releaseDirty(entities.KindInteraction, entityId, state, baselineVersion)
			c.releaseParent(kind, entityId, in, 0, 0, nil)
		})
		notify(waiters, Result{State: baseline})
		return
	}

	in.inFlight = true
	desired := in.desired
	c.mu.Unlock()

	go c.run(kind, entityId, desired)
}

// run issues the remote mutation for the current desired state. The
// endpoint is idempotent, so a transient failure is retried once before
// the rollback path takes over.
func (c *Coordinator) run(kind entities.ToggleKind, entityId string, desired bool) {
	ctx := context.Background()
	resp, err := c.remote.MutateInteraction(ctx, kind, entityId, desired)
	if err != nil && entities.Retryable(err) {
		resp, err = c.remote.MutateInteraction(ctx, kind, entityId, desired)
	}

	c.mu.Lock()
	ent := c.pending[entityId]
	if ent == nil {
		c.mu.Unlock()
		return
	}
	in := ent.intents[kind]
	if in == nil {
		c.mu.Unlock()
		return
	}
	in.inFlight = false

	if err != nil {
		// Permanent failure: revert flag and counter to the pre-toggle
		// baseline and surface a retryable error.
		waiters := c.removeIntent(ent, kind, entityId, in)
		baseline := ent.baselineState
		baselineVersion := ent.baselineVersion
		rollback := in.appliedDelta
		c.mu.Unlock()

		log.Printf("interaction %s on %s failed: %v", kind, entityId, err)
		if !entities.Retryable(err) {
			sentry.CaptureException(err)
		}

		c.queue.Do(func() {
			state := c.currentState(entityId, baseline).WithField(kind, baseline.Field(kind))
			c.releaseDirty(entities.KindInteraction, entityId, state, baselineVersion)
			c.releaseParent(kind, entityId, in, -rollback, 0, nil)
		})
		notify(waiters, Result{Err: err, State: baseline})
		return
	}

	if in.desired != desired {
		// The user toggled again while the call was in flight. The
		// confirmed state becomes the new baseline and one follow-up
		// call carries the remaining net effect.
		ent.baselineState = ent.baselineState.WithField(kind, desired)
		ent.baselineVersion = resp.Version
		remaining := int64(-1)
		if in.desired {
			remaining = 1
		}
		in.appliedDelta = remaining
		in.inFlight = true
		next := in.desired
		c.mu.Unlock()

		c.queue.Do(func() {
			c.setParentCounters(kind, entityId, resp, remaining)
		})
		go c.run(kind, entityId, next)
		return
	}

	// Confirmed: server counters win over the locally guessed delta.
	waiters := c.removeIntent(ent, kind, entityId, in)
	version := resp.Version
	c.mu.Unlock()

	var confirmed entities.InteractionState
	c.queue.Do(func() {
		confirmed = c.currentState(entityId, entities.InteractionState{EntityId: entityId}).WithField(kind, desired)
		c.releaseDirty(entities.KindInteraction, entityId, confirmed, version)
		c.releaseParent(kind, entityId, in, 0, resp.EntityVersion, resp)
	})
	notify(waiters, Result{State: confirmed})
}

// removeIntent detaches an intent and returns its waiters. Caller holds
// c.mu.
func (c *Coordinator) removeIntent(ent *pendingEntity, kind entities.ToggleKind, entityId string, in *intent) []chan Result {
	if in.timer != nil {
		in.timer.Stop()
	}
	waiters := in.waiters
	in.waiters = nil
	delete(ent.intents, kind)
	if len(ent.intents) == 0 {
		delete(c.pending, entityId)
	}
	return waiters
}

func (c *Coordinator) currentState(entityId string, fallback entities.InteractionState) entities.InteractionState {
	if entry, ok := c.cache.Get(entities.KindInteraction, entityId); ok {
		if state, ok := entry.Value.(entities.InteractionState); ok {
			return state
		}
	}
	return fallback
}

func notify(waiters []chan Result, r Result) {
	for _, ch := range waiters {
		ch <- r
	}
}

package interactions

import (
	"github.com/quanta-social/feedengine/pkg/backend"
	"github.com/quanta-social/feedengine/pkg/entities"
)

// parentKindOf maps a toggle to the entity whose denormalized counter
// it moves. Bookmarks have no public counter.
func parentKindOf(kind entities.ToggleKind) (entities.Kind, bool) {
	switch kind {
	case entities.ToggleLike:
		return entities.KindPost, true
	case entities.ToggleFollow:
		return entities.KindAvatar, true
	}
	return 0, false
}

// holdDirty takes one pending-mutation reference on an entry. Queue
// context only.
func (c *Coordinator) holdDirty(kind entities.Kind, id string) {
	c.dirtyRefs[refKey{kind, id}]++
	c.cache.MarkDirty(kind, id)
}

// releaseDirty drops one reference; the dirty flag clears only when the
// last pending mutation on the entry resolves. Queue context only.
func (c *Coordinator) releaseDirty(kind entities.Kind, id string, value interface{}, version int64) {
	k := refKey{kind, id}
	c.dirtyRefs[k]--
	if c.dirtyRefs[k] > 0 {
		if v, ok := c.pendingVersions[k]; !ok || version > v {
			c.pendingVersions[k] = version
		}
		c.cache.PutDirty(kind, id, value)
		return
	}
	delete(c.dirtyRefs, k)
	if v, ok := c.pendingVersions[k]; ok {
		if v > version {
			version = v
		}
		delete(c.pendingVersions, k)
	}
	c.cache.ClearDirty(kind, id, value, version)
	if c.onResolve != nil {
		c.onResolve(kind, id)
	}
}

// applyParentDelta bumps the parent counter by delta as part of the
// same queue step as the interaction flag write. A parent that is not
// cached is skipped; the authoritative count arrives with the next
// fetch. Queue context only.
func (c *Coordinator) applyParentDelta(kind entities.ToggleKind, entityId string, delta int64, in *intent) {
	pk, ok := parentKindOf(kind)
	if !ok {
		return
	}
	entry, found := c.cache.Get(pk, entityId)
	if !found {
		return
	}

	switch v := entry.Value.(type) {
	case entities.Post:
		v.Counters.Likes += delta
		c.cache.PutDirty(pk, entityId, v)
	case entities.Avatar:
		v.Followers += delta
		c.cache.PutDirty(pk, entityId, v)
	default:
		return
	}

	if !in.parentHeld {
		in.parentHeld = true
		c.holdDirty(pk, entityId)
	}
	in.appliedDelta += delta
}

// releaseParent resolves the parent counter hold. With a confirmation
// the server counters win over the locally guessed delta; without one
// (rollback, net no-op) delta reverts the local guess. Queue context
// only.
func (c *Coordinator) releaseParent(kind entities.ToggleKind, entityId string, in *intent, delta int64, version int64, resp *backend.MutateInteractionResp) {
	pk, ok := parentKindOf(kind)
	if !ok || !in.parentHeld {
		return
	}
	in.parentHeld = false

	entry, found := c.cache.Get(pk, entityId)
	if !found {
		delete(c.dirtyRefs, refKey{pk, entityId})
		return
	}
	if resp == nil {
		version = entry.Version
	}

	value := entry.Value
	switch v := entry.Value.(type) {
	case entities.Post:
		if resp != nil {
			v.Counters = resp.Counters
		} else {
			v.Counters.Likes += delta
		}
		value = v
	case entities.Avatar:
		if resp != nil {
			v.Followers = resp.Followers
		} else {
			v.Followers += delta
		}
		value = v
	}
	c.releaseDirty(pk, entityId, value, version)
}

// setParentCounters reconciles the parent to a mid-flight confirmation
// while a follow-up toggle is still pending: confirmed counters plus
// the remaining unconfirmed delta, entry stays dirty. Queue context
// only.
func (c *Coordinator) setParentCounters(kind entities.ToggleKind, entityId string, resp *backend.MutateInteractionResp, remaining int64) {
	pk, ok := parentKindOf(kind)
	if !ok {
		return
	}
	entry, found := c.cache.Get(pk, entityId)
	if !found {
		return
	}

	switch v := entry.Value.(type) {
	case entities.Post:
		v.Counters = resp.Counters
		v.Counters.Likes += remaining
		c.cache.PutDirty(pk, entityId, v)
	case entities.Avatar:
		v.Followers = resp.Followers + remaining
		c.cache.PutDirty(pk, entityId, v)
	}
}

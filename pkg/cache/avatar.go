package cache

import "github.com/quanta-social/feedengine/pkg/entities"

// EnforceActiveAvatar keeps at most one active avatar per owning user.
// Called after a write that sets IsActive on keepId; any other cached
// avatar of the same owner is deactivated in place. Versions are not
// bumped, the authoritative deactivation arrives from the backend.
func (c *Cache) EnforceActiveAvatar(ownerId, keepId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.order[entities.KindAvatar]
	if !ok {
		return
	}
	for el := l.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*record)
		avatar, ok := rec.entry.Value.(entities.Avatar)
		if !ok || avatar.OwnerId != ownerId || avatar.Id == keepId {
			continue
		}
		if avatar.IsActive {
			avatar.IsActive = false
			rec.entry.Value = avatar
		}
	}
}

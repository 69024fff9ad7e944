package interactions

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/quanta-social/feedengine/pkg/entities"
)

// SubmitComment inserts the comment locally under a client-generated
// temporary ID and bumps the post's comment counter, then submits it.
// On confirmation the server-issued comment replaces the placeholder;
// on failure both the placeholder and the counter bump are removed.
// Comments are append-only, there is no toggle to coalesce.
func (c *Coordinator) SubmitComment(postId, text string) <-chan Result {
	result := make(chan Result, 1)

	tempId := "tmp-" + uuid.NewString()
	pending := entities.Comment{
		Id:        tempId,
		PostId:    postId,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
		Pending:   true,
	}

	postHeld := false
	err := c.queue.Do(func() {
		c.cache.PutDirty(entities.KindComment, tempId, pending)
		c.holdDirty(entities.KindComment, tempId)
		postHeld = c.adjustCommentCount(postId, 1, true)
	})
	if err != nil {
		result <- Result{Err: err}
		return result
	}

	go func() {
		ctx := context.Background()
		confirmed, err := c.remote.CreateComment(ctx, postId, tempId, text)
		if err != nil && entities.Retryable(err) {
			// The temp ID lets the backend deduplicate the retry.
			confirmed, err = c.remote.CreateComment(ctx, postId, tempId, text)
		}

		if err != nil {
			log.Printf("comment on %s failed: %v", postId, err)
			if !entities.Retryable(err) {
				sentry.CaptureException(err)
			}
			c.queue.Do(func() {
				c.dropDirty(entities.KindComment, tempId)
				c.cache.Delete(entities.KindComment, tempId)
				if postHeld {
					c.adjustCommentCount(postId, -1, false)
				}
			})
			result <- Result{Err: err}
			return
		}

		c.queue.Do(func() {
			c.dropDirty(entities.KindComment, tempId)
			c.cache.Delete(entities.KindComment, tempId)
			c.cache.Put(entities.KindComment, confirmed.Id, *confirmed, confirmed.Version)
			if postHeld {
				c.adjustCommentCount(postId, 0, false)
			}
		})
		result <- Result{Comment: confirmed}
	}()

	return result
}

// adjustCommentCount moves the post's comment counter and manages the
// post's dirty hold for a pending comment. Returns whether a hold was
// taken. Queue context only.
func (c *Coordinator) adjustCommentCount(postId string, delta int64, hold bool) bool {
	entry, found := c.cache.Get(entities.KindPost, postId)
	if !found {
		return false
	}

	post, ok := entry.Value.(entities.Post)
	if !ok {
		return false
	}
	post.Counters.Comments += delta

	if hold {
		c.cache.PutDirty(entities.KindPost, postId, post)
		c.holdDirty(entities.KindPost, postId)
		return true
	}
	c.releaseDirty(entities.KindPost, postId, post, entry.Version)
	return false
}

// dropDirty removes the reference held on a placeholder entry that is
// about to be deleted. Queue context only.
func (c *Coordinator) dropDirty(kind entities.Kind, id string) {
	k := refKey{kind, id}
	delete(c.dirtyRefs, k)
	delete(c.pendingVersions, k)
}

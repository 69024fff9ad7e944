package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quanta-social/feedengine/pkg/engine"
	"github.com/quanta-social/feedengine/pkg/feed"
	"github.com/quanta-social/feedengine/pkg/interactions"
	"github.com/quanta-social/feedengine/pkg/playback"
)

type handlers struct {
	engine *engine.Engine
}

func (h *handlers) getFeedPage(w http.ResponseWriter, r *http.Request) {
	var cursor *feed.Cursor
	if token := r.URL.Query().Get("cursor"); token != "" {
		cursor = &feed.Cursor{Token: token, Direction: feed.DirectionForward}
	}

	page, err := h.engine.NextPage(r.Context(), cursor)
	if err != nil {
		returnEngineErr(w, err)
		return
	}
	returnData(w, http.StatusOK, page)
}

type positionReq struct {
	Position int `json:"position" validate:"gte=0"`
}

func (h *handlers) notifyPosition(w http.ResponseWriter, r *http.Request) {
	var req positionReq
	if !decodeBody(w, r, &req) {
		return
	}
	h.engine.NotifyPosition(req.Position)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) refreshFeed(w http.ResponseWriter, r *http.Request) {
	h.engine.RefreshFeed()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) toggleLike(w http.ResponseWriter, r *http.Request) {
	h.awaitToggle(w, r, h.engine.ToggleLike(chi.URLParam(r, "postId")))
}

func (h *handlers) toggleBookmark(w http.ResponseWriter, r *http.Request) {
	h.awaitToggle(w, r, h.engine.ToggleBookmark(chi.URLParam(r, "postId")))
}

func (h *handlers) toggleFollow(w http.ResponseWriter, r *http.Request) {
	h.awaitToggle(w, r, h.engine.ToggleFollow(chi.URLParam(r, "avatarId")))
}

type toggleResp struct {
	Liked      bool `json:"liked"`
	Bookmarked bool `json:"bookmarked"`
	Following  bool `json:"following"`
}

// awaitToggle resolves the toggle future. The local flip already
// happened; the response carries the reconciled state or the typed
// failure after rollback.
func (h *handlers) awaitToggle(w http.ResponseWriter, r *http.Request, future <-chan interactions.Result) {
	select {
	case res := <-future:
		if res.Err != nil {
			returnEngineErr(w, res.Err)
			return
		}
		returnData(w, http.StatusOK, toggleResp{
			Liked:      res.State.Liked,
			Bookmarked: res.State.Bookmarked,
			Following:  res.State.Following,
		})
	case <-r.Context().Done():
	}
}

type commentReq struct {
	Text string `json:"text" validate:"required,max=2200"`
}

func (h *handlers) submitComment(w http.ResponseWriter, r *http.Request) {
	var req commentReq
	if !decodeBody(w, r, &req) {
		return
	}

	select {
	case res := <-h.engine.SubmitComment(chi.URLParam(r, "postId"), req.Text):
		if res.Err != nil {
			returnEngineErr(w, res.Err)
			return
		}
		returnData(w, http.StatusCreated, res.Comment)
	case <-r.Context().Done():
	}
}

func (h *handlers) acquirePlayer(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.GetPlayerHandle(chi.URLParam(r, "postId"))
	if err != nil {
		returnEngineErr(w, err)
		return
	}
	returnData(w, http.StatusOK, info)
}

func (h *handlers) releasePlayer(w http.ResponseWriter, r *http.Request) {
	h.engine.ReleasePlayerHandle(chi.URLParam(r, "postId"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Player().Play(chi.URLParam(r, "postId")); err != nil {
		returnEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Player().Pause(chi.URLParam(r, "postId")); err != nil {
		returnEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) progress(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.ParseInt(r.URL.Query().Get("ms"), 10, 64)
	if err != nil || ms < 0 {
		returnErr(w, http.StatusBadRequest, ErrBadRequest)
		return
	}
	if err := h.engine.Player().Progress(chi.URLParam(r, "postId"), time.Duration(ms)*time.Millisecond); err != nil {
		returnEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type visibleReq struct {
	Items   []playback.Item `json:"items" validate:"required,min=1"`
	Current int             `json:"current" validate:"gte=0"`
}

func (h *handlers) setVisible(w http.ResponseWriter, r *http.Request) {
	var req visibleReq
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetVisibleItem(req.Items, req.Current); err != nil {
		returnEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mutedResp struct {
	Muted bool `json:"muted"`
}

func (h *handlers) getMuted(w http.ResponseWriter, r *http.Request) {
	returnData(w, http.StatusOK, mutedResp{Muted: h.engine.Muted()})
}

func (h *handlers) setMuted(w http.ResponseWriter, r *http.Request) {
	var req mutedResp
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.SetMuted(r.Context(), req.Muted); err != nil {
		returnEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"PChatCore/module/chat/model"
	"PChatCore/tools/errs"
)

type listQuery struct {
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
	BeforeID string `form:"beforeId"`
	AfterID  string `form:"afterId"`
}

func (h *Handlers) listMessages(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		WriteError(c, errs.ErrBadRequest.WrapMsg("invalid query", "err", err.Error()))
		return
	}
	page, err := h.Messages.ListMessages(c.Request.Context(), userOf(c), target, model.HistoryQuery{
		Page: q.Page, Limit: q.Limit, BeforeID: model.MessageID(q.BeforeID), AfterID: model.MessageID(q.AfterID),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handlers) sendMessage(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	var d model.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		WriteError(c, errs.ErrBadRequest.WrapMsg("invalid body", "err", err.Error()))
		return
	}
	v, err := h.Messages.SendMessage(c.Request.Context(), userOf(c), target, d)
	if err != nil {
		WriteError(c, err)
		return
	}
	if v.Replayed {
		c.JSON(http.StatusOK, v)
		return
	}
	room := target.Room()
	ev := model.MessageNewEvent{RoomID: room, Message: *v}
	if v.DirectPeer != "" {
		h.Bus.PublishDirect(room, v.DirectPeer, model.EventMessageNew, ev)
	} else {
		h.Bus.Publish(room, model.EventMessageNew, ev)
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handlers) getMessage(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	v, err := h.Messages.GetMessage(c.Request.Context(), userOf(c), target, model.MessageID(c.Param("messageId")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) deleteMessage(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	m, err := h.Messages.DeleteMessage(c.Request.Context(), userOf(c), target, model.MessageID(c.Param("messageId")))
	if err != nil {
		WriteError(c, err)
		return
	}
	ev := model.MessageDeletedEvent{RoomID: target.Room(), MessageID: m.ID, DeletedBy: m.DeletedBy}
	h.Bus.Publish(ev.RoomID, model.EventMessageDeleted, ev)
	c.JSON(http.StatusOK, ev)
}

func (h *Handlers) listReactions(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	groups, err := h.Reactions.ListReactions(c.Request.Context(), userOf(c), target, model.MessageID(c.Param("messageId")))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": groups})
}

type toggleBody struct {
	Emoji string `json:"emoji"`
}

func (h *Handlers) toggleReaction(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	var b toggleBody
	if err := c.ShouldBindJSON(&b); err != nil {
		WriteError(c, errs.ErrBadRequest.WrapMsg("invalid body", "err", err.Error()))
		return
	}
	res, err := h.Reactions.ToggleReaction(c.Request.Context(), userOf(c), target, model.MessageID(c.Param("messageId")), b.Emoji)
	if err != nil {
		WriteError(c, err)
		return
	}
	ev := model.ReactionEvent{RoomID: res.Room, MessageID: res.MessageID, Emoji: res.Reaction.Emoji, User: res.Reaction.UserID}
	h.Bus.Publish(res.Room, model.ReactionEventName(res.Action), ev)
	c.JSON(http.StatusOK, gin.H{"action": res.Action, "messageId": res.MessageID, "emoji": res.Reaction.Emoji})
}

func (h *Handlers) markRead(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	mark, err := h.ReadState.MarkRead(c.Request.Context(), userOf(c), target)
	if err != nil {
		WriteError(c, err)
		return
	}
	ev := model.ReadMarkedEvent{RoomID: mark.Room, User: mark.User, At: mark.At}
	h.Bus.Publish(mark.Room, model.EventReadMarked, ev)
	c.JSON(http.StatusOK, ev)
}

func (h *Handlers) unread(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	n, err := h.ReadState.UnreadCount(c.Request.Context(), userOf(c), target)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": target.Room(), "unread": n})
}

func (h *Handlers) presence(c *gin.Context) {
	target, ok := roomOf(c)
	if !ok {
		return
	}
	if err := h.Oracle.Authorize(c.Request.Context(), userOf(c), target); err != nil {
		WriteError(c, err)
		return
	}
	users, err := h.Presence.PresentUsers(c.Request.Context(), target.Room())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.PresenceListEvent{RoomID: target.Room(), Users: users})
}

type directBody struct {
	UserID model.UserID `json:"userId"`
}

func (h *Handlers) openDirect(c *gin.Context) {
	var b directBody
	if err := c.ShouldBindJSON(&b); err != nil {
		WriteError(c, errs.ErrBadRequest.WrapMsg("invalid body", "err", err.Error()))
		return
	}
	me := userOf(c)
	conv, err := h.Resolver.ResolveDirectConversation(c.Request.Context(), model.WorkspaceID(c.Param("workspaceId")), me, b.UserID, me)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "roomId": conv.Room()})
}

// Package api is the REST mirror of the room actions available over the WebSocket.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"PChatCore/middleware"
	midsec "PChatCore/middleware/security"
	"PChatCore/module/chat/access"
	"PChatCore/module/chat/conversation"
	"PChatCore/module/chat/message"
	"PChatCore/module/chat/model"
	"PChatCore/module/chat/reaction"
	"PChatCore/module/chat/readstate"
	"PChatCore/tools/errs"
	"PChatCore/tools/security"
	"PChatCore/tools/specialerror"
)

// Broadcaster 广播并导出领域事件（service/chat.Router）
type Broadcaster interface {
	Publish(room model.RoomID, event string, payload any) int
	PublishDirect(room model.RoomID, peer model.UserID, event string, payload any) int
}

// PresenceSource 房间在线快照（service/chat.Server）
type PresenceSource interface {
	PresentUsers(ctx context.Context, room model.RoomID) ([]model.PresentUser, error)
}

type Deps struct {
	Oracle    *access.Oracle
	Messages  *message.Service
	Reactions *reaction.Engine
	ReadState *readstate.Tracker
	Resolver  *conversation.Resolver
	Presence  PresenceSource
	Bus       Broadcaster
}

type Handlers struct {
	Deps
}

func New(d Deps) *Handlers { return &Handlers{Deps: d} }

// Register 挂到 /api 下，全部需要鉴权
func (h *Handlers) Register(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/api")
	opt := middleware.RouteOpt{Auth: auth}

	middleware.GET(g, "/rooms/:roomId/messages", h.listMessages, opt)
	middleware.POST(g, "/rooms/:roomId/messages", h.sendMessage, opt)
	middleware.GET(g, "/rooms/:roomId/messages/:messageId", h.getMessage, opt)
	middleware.DELETE(g, "/rooms/:roomId/messages/:messageId", h.deleteMessage, opt)
	middleware.GET(g, "/rooms/:roomId/messages/:messageId/reactions", h.listReactions, opt)
	middleware.POST(g, "/rooms/:roomId/messages/:messageId/reactions", h.toggleReaction, opt)
	middleware.POST(g, "/rooms/:roomId/read", h.markRead, opt)
	middleware.GET(g, "/rooms/:roomId/unread", h.unread, opt)
	middleware.GET(g, "/rooms/:roomId/presence", h.presence, opt)
	middleware.POST(g, "/workspaces/:workspaceId/direct", h.openDirect, opt)
}

// Auth 凭证校验 + 用户必须存在，错误形状与业务错误一致
func Auth(verifier security.IdentityVerifier, oracle *access.Oracle) gin.HandlerFunc {
	resolve := func(ctx context.Context, user string) error {
		_, err := oracle.LookupUser(ctx, model.UserID(user))
		if errs.IsNotFound(err) {
			return errs.ErrUnauthenticated.WrapMsg("unknown user", "user", user)
		}
		return err
	}
	return midsec.Middleware(verifier, resolve, WriteError)
}

// ===== 错误 =====

type errorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func StatusOf(code int) int {
	switch code {
	case errs.UnauthenticatedError:
		return http.StatusUnauthorized
	case errs.ForbiddenError:
		return http.StatusForbidden
	case errs.NotFoundError:
		return http.StatusNotFound
	case errs.BadRequestError:
		return http.StatusBadRequest
	case errs.ConflictError:
		return http.StatusConflict
	case errs.UnavailableError:
		return http.StatusServiceUnavailable
	case errs.RateLimitedError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError {code, kind, message}，未分类错误不暴露细节
func WriteError(c *gin.Context, err error) {
	code := specialerror.ErrCode(err)
	msg := errs.CodeName(code)
	if ce, ok := errs.As(err); ok && code != errs.ServerInternalError {
		msg = ce.Message()
	}
	if code == errs.ServerInternalError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(StatusOf(code), errorBody{Code: code, Kind: errs.CodeName(code), Message: msg})
}

// ===== 公共 =====

func userOf(c *gin.Context) model.UserID { return model.UserID(midsec.UserFrom(c)) }

func roomOf(c *gin.Context) (model.Target, bool) {
	t, err := model.ParseRoom(c.Param("roomId"))
	if err != nil {
		WriteError(c, err)
		return t, false
	}
	return t, true
}

package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"PChatCore/tools/errs"
	"PChatCore/tools/security"
)

// context key，后续 handler 统一用它读取当前用户
const PPCtxUserKey = "pchat.user"

// CredentialSource 凭证来源，按优先级排列
type CredentialSource int

const (
	SourceNone CredentialSource = iota
	SourceHeader
	SourceSubprotocol
	SourceQuery
)

// SubprotocolBearer 浏览器无法设置握手头时用 Sec-WebSocket-Protocol: bearer, <token>
const SubprotocolBearer = "bearer"

// ExtractCredential 依次读取 Authorization: Bearer、握手子协议、?token=
func ExtractCredential(r *http.Request) (string, CredentialSource) {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			if tok := strings.TrimSpace(authz[7:]); tok != "" {
				return tok, SourceHeader
			}
		}
	}
	protos := websocket.Subprotocols(r)
	for i, p := range protos {
		if strings.EqualFold(p, SubprotocolBearer) && i+1 < len(protos) {
			if tok := strings.TrimSpace(protos[i+1]); tok != "" {
				return tok, SourceSubprotocol
			}
		}
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok, SourceQuery
	}
	return "", SourceNone
}

// UserResolver 把 token 的 subject 确认为已知用户
type UserResolver func(ctx context.Context, user string) error

// ErrorWriter 由路由层决定错误响应的形状
type ErrorWriter func(c *gin.Context, err error)

// Middleware REST 鉴权：凭证校验通过后把用户 id 写入 context
func Middleware(verifier security.IdentityVerifier, resolve UserResolver, writeErr ErrorWriter) gin.HandlerFunc {
	if writeErr == nil {
		writeErr = func(c *gin.Context, err error) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		}
	}
	return func(c *gin.Context) {
		token, src := ExtractCredential(c.Request)
		if src == SourceNone {
			writeErr(c, errs.ErrUnauthenticated.WrapMsg("missing credential"))
			c.Abort()
			return
		}
		user, err := verifier.Verify(c.Request.Context(), token)
		if err == nil && resolve != nil {
			err = resolve(c.Request.Context(), user)
		}
		if err != nil {
			writeErr(c, err)
			c.Abort()
			return
		}
		c.Set(PPCtxUserKey, user)
		c.Next()
	}
}

// UserFrom 读取 Middleware 写入的用户 id
func UserFrom(c *gin.Context) string {
	return c.GetString(PPCtxUserKey)
}

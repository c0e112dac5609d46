package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/catalog"
)

const identityKey = "identity"

// Local-mode identity headers.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
	Role   string
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool { return i.Role == catalog.RoleAdmin }

// identityFromClaims reads the Cognito claims placed in the request context by the Lambda proxy.
func identityFromClaims(ctx context.Context) (Identity, bool) {
	reqCtx, ok := core.GetAPIGatewayContextFromContext(ctx)
	if !ok || reqCtx.Authorizer == nil {
		return Identity{}, false
	}
	// Cognito user pool authorizers nest the claims; Lambda authorizers put them at the top level.
	claims, _ := reqCtx.Authorizer["claims"].(map[string]interface{})
	if claims == nil {
		claims = reqCtx.Authorizer
	}
	str := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	id := Identity{
		UserID: str("sub"),
		Email:  str("email"),
		Name:   str("name"),
		Role:   str("custom:role"),
	}
	if id.UserID == "" {
		if uid := str("userId"); uid != "" {
			id.UserID, id.Role = uid, str("role")
		}
	}
	return id, id.UserID != ""
}

func identityFromHeaders(c *gin.Context) (Identity, bool) {
	id := Identity{
		UserID: strings.TrimSpace(c.GetHeader(HeaderUserID)),
		Email:  c.GetHeader(HeaderUserEmail),
		Name:   c.GetHeader(HeaderUserName),
		Role:   c.GetHeader(HeaderUserRole),
	}
	return id, id.UserID != ""
}

// Authenticate resolves the caller from authorizer claims, or from X-User-* headers when
// trustHeaders is set (local runs). Requests without an identity get 401.
func Authenticate(trustHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFromClaims(c.Request.Context())
		if !ok && trustHeaders {
			id, ok = identityFromHeaders(c)
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
				"message": "authentication required",
			})
			return
		}
		if id.Role == "" {
			id.Role = catalog.RoleUser
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin rejects non-admin callers with 403. It must run after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "forbidden",
				"message": "admin role required",
			})
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(Identity)
	return id
}

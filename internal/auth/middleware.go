package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/absens/pkg/apperr"
)

const identityCtxKey = "identity"

// BearerMiddleware authenticates the Authorization: Bearer token and stores the
// caller's Identity on the gin context. Browsers cannot set
// headers on a websocket handshake, so upgrade requests may pass ?access_token=.
func BearerMiddleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}

		id, err := tokens.Verify(raw)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(identityCtxKey, id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(raw)
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return strings.TrimSpace(c.Query("access_token"))
	}
	return ""
}

// CurrentIdentity returns the Identity set by BearerMiddleware.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityCtxKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func abort(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(code), gin.H{
		"error": apperr.Message(err),
		"code":  code,
	})
}

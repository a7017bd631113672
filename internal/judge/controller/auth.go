package controller

import (
	"context"
	"strings"

	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const principalKey = "judge_principal"

// JudgeAuthMiddleware requires a bearer token carrying one of roles.
// Websocket clients that cannot set headers may pass the token as the "token" query parameter.
func JudgeAuthMiddleware(auth *service.AuthService, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, appErr.ServiceUnavailable, "auth service unavailable")
			return
		}
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		principal, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if len(roles) > 0 && !service.HasRole(principal.Role, roles...) {
			response.AbortWithErrorCode(c, appErr.JudgePrivilege, "judge privilege required")
			return
		}
		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, principal.UserID))
		c.Next()
	}
}

func principalFrom(c *gin.Context) (service.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return service.Principal{}, false
	}
	p, ok := v.(service.Principal)
	return p, ok
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package controller_test

import (
	"net/http"
	"testing"

	"judgehub/internal/judge/controller"
	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func newAuthRouter(e *env) *gin.Engine {
	router := gin.New()
	router.GET("/whoami", controller.JudgeAuthMiddleware(e.auth, service.RoleJudge), func(c *gin.Context) {
		uid, _ := c.Request.Context().Value(contextkey.UserID).(int64)
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": uid})
	})
	return router
}

func TestJudgeAuthMiddleware(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	router := newAuthRouter(e)

	rec, _ := doJSON(t, router, http.MethodGet, "/whoami", nil, e.token(t, 9, service.RoleJudge))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"code":0,"data":9}` {
		t.Fatalf("unexpected body: %s", got)
	}

	rec, body := doJSON(t, router, http.MethodGet, "/whoami", nil, "")
	if rec.Code != http.StatusUnauthorized || body.Code != int(appErr.TokenInvalid) {
		t.Fatalf("expected missing token to be rejected, got %d %+v", rec.Code, body)
	}

	rec, body = doJSON(t, router, http.MethodGet, "/whoami", nil, e.token(t, 9, "user"))
	if rec.Code != http.StatusForbidden || body.Code != int(appErr.JudgePrivilege) {
		t.Fatalf("expected role check to fail, got %d %+v", rec.Code, body)
	}
}

func TestJudgeAuthMiddlewareQueryToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	router := newAuthRouter(e)

	rec, _ := doJSON(t, router, http.MethodGet, "/whoami?token="+e.token(t, 3, service.RoleJudge), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected query token to authenticate, got %d", rec.Code)
	}
}

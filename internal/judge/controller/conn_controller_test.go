package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"judgehub/internal/judge/controller"
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/service"
	appErr "judgehub/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func startConnServer(t *testing.T, e *env) *httptest.Server {
	t.Helper()
	router := gin.New()
	conn := controller.NewConnController(e.dispatcher, controller.ConnConfig{PongWait: 5 * time.Second})
	router.GET("/judge/conn", controller.JudgeAuthMiddleware(e.auth, service.RoleJudge), conn.Serve)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialJudge(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/judge/conn?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, ws *websocket.Conn, out interface{}) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
}

func writeFrame(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestConnControllerJudgesTaskEndToEnd(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.insert(t, "d1", "r1")
	ctx := context.Background()
	if err := e.queue.Push(ctx, &model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "r1"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	srv := startConnServer(t, e)

	ws, _, err := dialJudge(t, srv, e.token(t, 42, service.RoleJudge))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var taskMsg model.TaskMessage
	readFrame(t, ws, &taskMsg)
	if taskMsg.Task == nil || taskMsg.Task.RecordID != "r1" || taskMsg.Task.DomainID != "d1" {
		t.Fatalf("unexpected task frame: %+v", taskMsg)
	}

	writeFrame(t, ws, `{"key":"bogus","domainId":"d1","rid":"r1"}`)
	var rejected struct {
		Key  string `json:"key"`
		Code int    `json:"code"`
	}
	readFrame(t, ws, &rejected)
	if rejected.Key != "error" || rejected.Code != int(appErr.InvalidJudgeMessage) {
		t.Fatalf("unexpected error frame: %+v", rejected)
	}

	writeFrame(t, ws, `{"key":"next","domainId":"d1","rid":"r1","seq":1,"case":{"time":12,"memory":256,"message":"ok","status":1}}`)
	writeFrame(t, ws, `{"key":"end","domainId":"d1","rid":"r1","seq":2,"status":1,"score":100,"time":12,"memory":256}`)

	var final *model.Record
	waitFor(t, "record to be finalized", func() bool {
		rec, err := e.store.Get(ctx, "d1", "r1")
		if err != nil || rec.JudgeAt == nil {
			return false
		}
		final = rec
		return true
	})
	if final.Status != model.StatusAccepted || final.Score != 100 || len(final.TestCases) != 1 {
		t.Fatalf("unexpected final record: %+v", final)
	}
	if final.Judger == nil || *final.Judger != 42 {
		t.Fatalf("expected judger 42, got %v", final.Judger)
	}
	waitFor(t, "session to go back to claiming", func() bool {
		sessions := e.dispatcher.Sessions()
		return len(sessions) == 1 && sessions[0].Task == nil
	})

	_ = ws.Close()
	waitFor(t, "session to unregister", func() bool { return len(e.dispatcher.Sessions()) == 0 })
	if n, _ := e.queue.Len(ctx, model.TaskTypeJudge); n != 0 {
		t.Fatalf("finished task must not be requeued, queue has %d", n)
	}
}

func TestConnControllerDisconnectRequeues(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.insert(t, "d1", "r2")
	ctx := context.Background()
	if err := e.queue.Push(ctx, &model.Task{Type: model.TaskTypeJudge, DomainID: "d1", RecordID: "r2"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	srv := startConnServer(t, e)

	ws, _, err := dialJudge(t, srv, e.token(t, 5, service.RoleJudge))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var taskMsg model.TaskMessage
	readFrame(t, ws, &taskMsg)
	writeFrame(t, ws, `{"key":"next","domainId":"d1","rid":"r2","seq":1,"case":{"time":1,"memory":1,"message":"","status":2}}`)
	waitFor(t, "first case to land", func() bool {
		rec, err := e.store.Get(ctx, "d1", "r2")
		return err == nil && len(rec.TestCases) == 1
	})
	_ = ws.Close()

	waitFor(t, "task to be requeued", func() bool {
		n, err := e.queue.Len(ctx, model.TaskTypeJudge)
		return err == nil && n == 1
	})
	rec, err := e.store.Get(ctx, "d1", "r2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusWaiting || len(rec.TestCases) != 0 {
		t.Fatalf("expected record to be reset, got %+v", rec)
	}
}

func TestConnControllerRequiresToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	srv := startConnServer(t, e)

	_, resp, err := dialJudge(t, srv, "")
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

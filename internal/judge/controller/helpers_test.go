package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgehub/internal/judge/model"
	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/internal/testutil"

	"github.com/gin-gonic/gin"
)

const testSecret = "controller-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	store      *repository.RedisRecordStore
	queue      *repository.RedisTaskQueue
	aggregates *repository.RedisAggregateStore
	dispatcher *service.Dispatcher
	intake     *service.TaskIntake
	auth       *service.AuthService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c, _ := testutil.NewRedis(t)
	e := &env{
		store:      repository.NewRedisRecordStore(c),
		queue:      repository.NewRedisTaskQueue(c),
		aggregates: repository.NewRedisAggregateStore(c),
		auth:       service.NewAuthService(testSecret, "judgehub", nil),
	}
	propagator := service.NewPostJudgePropagator(e.aggregates, e.aggregates, e.aggregates.Contests(), service.RetryPolicy{MaxAttempts: 1})
	merge, err := service.NewMergeEngine(service.MergeConfig{
		Store:      e.store,
		Bus:        repository.NewLocalEventBus(),
		Propagator: propagator,
	})
	if err != nil {
		t.Fatalf("new merge engine: %v", err)
	}
	dispatcher, err := service.NewDispatcher(service.DispatcherConfig{
		Queue:         e.queue,
		Store:         e.store,
		Merge:         merge,
		ClaimInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	e.dispatcher = dispatcher
	e.intake = service.NewTaskIntake(e.queue, e.store)
	return e
}

func (e *env) insert(t *testing.T, domainID, recordID string) {
	t.Helper()
	err := e.store.Insert(context.Background(), &model.Record{
		DomainID:  domainID,
		ID:        recordID,
		ProblemID: "p1",
		UserID:    7,
		Status:    model.StatusWaiting,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", recordID, err)
	}
}

func (e *env) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, err := e.auth.IssueToken(userID, role, "worker", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

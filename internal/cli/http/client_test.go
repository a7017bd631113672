package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "judgehub/pkg/errors"
)

func TestClientSendsTokenAndDecodesEnvelope(t *testing.T) {
	t.Parallel()
	var gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"code":10000,"message":"Created","data":{"queued":true}}`))
	}))
	defer srv.Close()

	client := New(srv.URL+"/", time.Second, func() string { return "tok" })
	resp, err := client.Do(context.Background(), http.MethodPost, "/judge/tasks", nil, []byte(`{"rid":"r1"}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if gotAuth != "Bearer tok" || gotType != "application/json" || gotBody != `{"rid":"r1"}` {
		t.Fatalf("unexpected request: auth=%q type=%q body=%q", gotAuth, gotType, gotBody)
	}
	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if !env.OK() || string(env.Data) != `{"queued":true}` {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("no token should be sent")
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":12000,"message":"record d1/r9 not found"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, func() string { return "" })
	resp, err := client.Do(context.Background(), http.MethodGet, "/judge/records/d1/r9", nil, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.OK() || env.Code != pkgerrors.RecordNotFound {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

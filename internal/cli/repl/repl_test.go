package repl

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"judgehub/internal/cli/command"
	httpclient "judgehub/internal/cli/http"
	"judgehub/internal/cli/state"
)

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

type fakeIssuer struct{}

func (fakeIssuer) IssueToken(userID int64, role, name string, ttl time.Duration) (string, error) {
	return "issued-" + role, nil
}

type recordedRequest struct {
	method string
	path   string
	auth   string
}

func newServer(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization")})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"rid":"r1"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func newSession(srv *httptest.Server, reader LineReader, out *bytes.Buffer, statePath string) (*Session, *state.TokenState) {
	tokenState := &state.TokenState{}
	client := httpclient.New(srv.URL, time.Second, func() string { return tokenState.AccessToken })
	return New(client, command.Registry(), tokenState, reader, Options{
		StatePath: statePath,
		Issuer:    fakeIssuer{},
		Out:       out,
	}), tokenState
}

func TestRunSendsCommandsAndStops(t *testing.T) {
	t.Parallel()
	srv, requests := newServer(t)
	reader := &scriptedReader{lines: []string{
		"",
		"record get domain=d1 rid=r1",
		"queue stats type=judge",
		"exit",
		"session list",
	}}
	var out bytes.Buffer
	session, _ := newSession(srv, reader, &out, "")
	session.Run(context.Background())

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests before exit, got %+v", reqs)
	}
	if reqs[0].method != http.MethodGet || reqs[0].path != "/judge/records/d1/r1" {
		t.Fatalf("unexpected first request: %+v", reqs[0])
	}
	if reqs[1].path != "/judge/queue?type=judge" {
		t.Fatalf("unexpected second request: %+v", reqs[1])
	}
	if !strings.Contains(out.String(), "HTTP 200") || !strings.Contains(out.String(), "bye") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestExecutePromptsForMissingFields(t *testing.T) {
	t.Parallel()
	srv, requests := newServer(t)
	reader := &scriptedReader{lines: []string{"r7"}}
	var out bytes.Buffer
	session, _ := newSession(srv, reader, &out, "")

	if err := session.Execute(context.Background(), "record rejudge domain=d1"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	reqs := requests()
	if len(reqs) != 1 || reqs[0].method != http.MethodPost || reqs[0].path != "/judge/records/d1/r7/rejudge" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	if len(reader.prompts) == 0 || reader.prompts[0] != "rid: " {
		t.Fatalf("expected rid prompt, got %v", reader.prompts)
	}
}

func TestTokenIssueIsUsedAndSaved(t *testing.T) {
	t.Parallel()
	srv, requests := newServer(t)
	statePath := filepath.Join(t.TempDir(), "state.json")
	var out bytes.Buffer
	session, tokenState := newSession(srv, &scriptedReader{}, &out, statePath)
	ctx := context.Background()

	if err := session.Execute(ctx, "token issue uid=1 role=admin ttl=10m"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tokenState.AccessToken != "issued-admin" || tokenState.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token state: %+v", tokenState)
	}
	saved, err := state.Load(statePath)
	if err != nil || saved.AccessToken != "issued-admin" {
		t.Fatalf("expected token to be saved, got %+v %v", saved, err)
	}
	if err := session.Execute(ctx, "session list"); err != nil {
		t.Fatalf("session list: %v", err)
	}
	if reqs := requests(); len(reqs) != 1 || reqs[0].auth != "Bearer issued-admin" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	if len(requests()) != 1 {
		t.Fatalf("token issue must not call the server")
	}
}

func TestExecuteErrors(t *testing.T) {
	t.Parallel()
	srv, requests := newServer(t)
	var out bytes.Buffer
	session, _ := newSession(srv, &scriptedReader{}, &out, "")
	ctx := context.Background()

	for _, line := range []string{"record", "nope nope", "record get domain", "token issue uid=x role=admin", `record get "domain=d1`} {
		if err := session.Execute(ctx, line); err == nil {
			t.Fatalf("expected %q to fail", line)
		}
	}
	if len(requests()) != 0 {
		t.Fatalf("failed commands must not reach the server")
	}
}

func TestSystemCommands(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	var out bytes.Buffer
	session, tokenState := newSession(srv, &scriptedReader{}, &out, "")
	ctx := context.Background()

	for _, line := range []string{"set token abcdefghijklmnop", "show token", "set base http://example.invalid", "show config", "help"} {
		if err := session.Execute(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	if tokenState.AccessToken != "abcdefghijklmnop" {
		t.Fatalf("unexpected token: %q", tokenState.AccessToken)
	}
	text := out.String()
	for _, want := range []string{"token: abcdef...mnop", "base: http://example.invalid", "files sign domain=d1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestCompleterListsServices(t *testing.T) {
	t.Parallel()
	completer := Completer(command.Registry())
	line := []rune("rec")
	candidates, _ := completer.Do(line, len(line))
	if len(candidates) == 0 {
		t.Fatalf("expected a completion for %q", string(line))
	}
}

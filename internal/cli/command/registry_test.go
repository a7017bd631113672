package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func build(t *testing.T, key string, params Params) RequestSpec {
	t.Helper()
	cmd, ok := Registry()[key]
	if !ok {
		t.Fatalf("missing command %q", key)
	}
	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build %s: %v", key, err)
	}
	return req
}

func TestBuildRecordPaths(t *testing.T) {
	t.Parallel()
	req := build(t, "record get", Params{"domainid": "d1", "rid": "r/1"})
	if req.Method != "GET" || req.Path != "/judge/records/d1/r%2F1" || req.Body != nil {
		t.Fatalf("unexpected request: %+v", req)
	}

	req = build(t, "contest standing", Params{"domain": "d1", "contest": "c1", "limit": "5"})
	if req.Path != "/judge/contests/d1/c1/standing?limit=5" {
		t.Fatalf("unexpected path: %s", req.Path)
	}

	req = build(t, "queue stats", Params{})
	if req.Path != "/judge/queue" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	t.Parallel()
	reg := Registry()
	if _, err := BuildRequest(reg["record get"], Params{"domain": "d1"}); err == nil {
		t.Fatalf("expected missing rid to fail")
	}
	if _, err := BuildRequest(reg["contest standing"], Params{"domain": "d1", "tid": "c1", "limit": "x"}); err == nil {
		t.Fatalf("expected bad limit to fail")
	}
	if _, err := BuildRequest(reg["token issue"], Params{"uid": "1"}); err == nil {
		t.Fatalf("expected local command to be rejected")
	}
	if _, err := BuildRequest(reg["task enqueue"], Params{"domain": "d1", "rid": "r1", "payload": "{"}); err == nil {
		t.Fatalf("expected invalid payload to fail")
	}
}

func TestBuildTaskEnqueueFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "task.json")
	if err := os.WriteFile(path, []byte(`{"lang":"cc"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	req := build(t, "task enqueue", Params{"domain": "d1", "rid": "r1", "payload_file": path})

	var body struct {
		DomainID string          `json:"domainId"`
		RecordID string          `json:"rid"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.DomainID != "d1" || body.RecordID != "r1" || string(body.Payload) != `{"lang":"cc"}` {
		t.Fatalf("unexpected body: %s", req.Body)
	}
}

func TestBuildFilesSign(t *testing.T) {
	t.Parallel()
	req := build(t, "files sign", Params{"domain": "d1", "pid": "p1", "files": "1.in, 1.out"})
	if string(req.Body) != `{"domainId":"d1","files":["1.in","1.out"],"pid":"p1"}` {
		t.Fatalf("unexpected body: %s", req.Body)
	}
	req = build(t, "files sign", Params{"domain": "d1", "pid": "p1"})
	if string(req.Body) != `{"domainId":"d1","files":[],"pid":"p1"}` {
		t.Fatalf("unexpected body: %s", req.Body)
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()
	params, err := ParseArgs([]string{"Domain=d1", "payload={\"a\":1}"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Get("domain") != "d1" || params.Get("payload") != `{"a":1}` {
		t.Fatalf("unexpected params: %v", params)
	}
	if _, err := ParseArgs([]string{"novalue"}); err == nil {
		t.Fatalf("expected invalid token to fail")
	}
}

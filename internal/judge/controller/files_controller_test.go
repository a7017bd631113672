package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"judgehub/internal/common/storage"
	"judgehub/internal/judge/controller"
	appErr "judgehub/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects []storage.ObjectInfo
	signed  []string
	signErr error
}

func (f *fakeStorage) PresignGetObject(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signed = append(f.signed, objectKey)
	return "https://objects.local/" + bucket + "/" + objectKey + "?ttl=" + ttl.String(), nil
}

func (f *fakeStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, errors.New("not implemented")
}

func (f *fakeStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	return f.objects, nil
}

func newFilesRouter(fs *fakeStorage, maxFiles int) *gin.Engine {
	router := gin.New()
	h := controller.NewFilesController(fs, controller.FilesConfig{Bucket: "problems", LinkTTL: time.Minute, MaxFiles: maxFiles})
	router.POST("/judge/files", h.Download)
	return router
}

func decodeLinks(t *testing.T, raw json.RawMessage) map[string]string {
	t.Helper()
	var resp controller.FilesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	return resp.Links
}

func TestFilesDownloadSignsRequestedFiles(t *testing.T) {
	t.Parallel()
	fs := &fakeStorage{}
	router := newFilesRouter(fs, 0)

	rec, body := doJSON(t, router, http.MethodPost, "/judge/files", controller.FilesRequest{
		DomainID:  "d1",
		ProblemID: "p1",
		Files:     []string{"1.in", "sub/1.out"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	links := decodeLinks(t, body.Data)
	want := "https://objects.local/problems/problem/d1/p1/testdata/1.in?ttl=1m0s"
	if links["1.in"] != want {
		t.Fatalf("unexpected link: %s", links["1.in"])
	}
	if _, ok := links["sub/1.out"]; !ok {
		t.Fatalf("expected nested file to be signed: %v", links)
	}
}

func TestFilesDownloadListsWhenEmpty(t *testing.T) {
	t.Parallel()
	fs := &fakeStorage{objects: []storage.ObjectInfo{
		{Key: "problem/d1/p1/testdata/2.in"},
		{Key: "problem/d1/p1/testdata/1.in"},
	}}
	router := newFilesRouter(fs, 0)

	rec, body := doJSON(t, router, http.MethodPost, "/judge/files", controller.FilesRequest{DomainID: "d1", ProblemID: "p1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	links := decodeLinks(t, body.Data)
	if len(links) != 2 || links["1.in"] == "" || links["2.in"] == "" {
		t.Fatalf("unexpected links: %v", links)
	}
}

func TestFilesDownloadRejectsTraversal(t *testing.T) {
	t.Parallel()
	cases := []controller.FilesRequest{
		{DomainID: "d1", ProblemID: "p1", Files: []string{"../../secret"}},
		{DomainID: "d1", ProblemID: "p1", Files: []string{"/etc/passwd"}},
		{DomainID: "d1", ProblemID: "p1", Files: []string{"a/../../b"}},
		{DomainID: "..", ProblemID: "p1", Files: []string{"1.in"}},
		{DomainID: "d1", ProblemID: "p1/../p2", Files: []string{"1.in"}},
	}
	for _, req := range cases {
		fs := &fakeStorage{}
		rec, body := doJSON(t, newFilesRouter(fs, 0), http.MethodPost, "/judge/files", req, "")
		if rec.Code != http.StatusBadRequest || body.Code != int(appErr.TestDataPathBad) {
			t.Fatalf("request %+v: expected TestDataPathBad, got %d %+v", req, rec.Code, body)
		}
		if len(fs.signed) != 0 {
			t.Fatalf("request %+v: nothing should be signed, got %v", req, fs.signed)
		}
	}
}

func TestFilesDownloadLimitsAndErrors(t *testing.T) {
	t.Parallel()
	rec, body := doJSON(t, newFilesRouter(&fakeStorage{}, 1), http.MethodPost, "/judge/files", controller.FilesRequest{
		DomainID: "d1", ProblemID: "p1", Files: []string{"1.in", "1.out"},
	}, "")
	if rec.Code != http.StatusBadRequest || body.Code != int(appErr.TooManyTestFiles) {
		t.Fatalf("expected TooManyTestFiles, got %d %+v", rec.Code, body)
	}

	rec, body = doJSON(t, newFilesRouter(&fakeStorage{}, 0), http.MethodPost, "/judge/files", controller.FilesRequest{ProblemID: "p1"}, "")
	if rec.Code != http.StatusBadRequest || body.Code != int(appErr.ValidationFailed) {
		t.Fatalf("expected missing domain to fail validation, got %d %+v", rec.Code, body)
	}

	failing := &fakeStorage{signErr: errors.New("minio down")}
	rec, body = doJSON(t, newFilesRouter(failing, 0), http.MethodPost, "/judge/files", controller.FilesRequest{
		DomainID: "d1", ProblemID: "p1", Files: []string{"1.in"},
	}, "")
	if rec.Code != http.StatusInternalServerError || body.Code != int(appErr.PresignFailed) {
		t.Fatalf("expected PresignFailed, got %d %+v", rec.Code, body)
	}
}

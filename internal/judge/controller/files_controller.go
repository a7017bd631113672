package controller

import (
	"path"
	"sort"
	"strings"
	"time"

	"judgehub/internal/common/storage"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultLinkTTL  = 30 * time.Minute
	defaultMaxFiles = 256
)

// FilesConfig holds test data signing settings.
type FilesConfig struct {
	Bucket   string
	LinkTTL  time.Duration
	MaxFiles int
}

// FilesController signs download links for problem test data.
type FilesController struct {
	storage storage.ObjectStorage
	cfg     FilesConfig
}

// NewFilesController creates a files controller.
func NewFilesController(objectStorage storage.ObjectStorage, cfg FilesConfig) *FilesController {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = defaultLinkTTL
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	return &FilesController{storage: objectStorage, cfg: cfg}
}

// FilesRequest names the test data files a worker wants.
// An empty Files list asks for every file of the problem.
type FilesRequest struct {
	DomainID  string   `json:"domainId"`
	ProblemID string   `json:"pid"`
	Files     []string `json:"files"`
}

// FilesResponse maps each requested file to a signed URL.
type FilesResponse struct {
	Links map[string]string `json:"links"`
}

// Download handles POST /judge/files.
func (h *FilesController) Download(c *gin.Context) {
	var req FilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if err := validateSegment("domainId", req.DomainID); err != nil {
		response.Error(c, err)
		return
	}
	if err := validateSegment("pid", req.ProblemID); err != nil {
		response.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	prefix := testDataPrefix(req.DomainID, req.ProblemID)

	files := req.Files
	if len(files) == 0 {
		objects, err := h.storage.ListObjects(ctx, h.cfg.Bucket, prefix)
		if err != nil {
			response.Error(c, appErr.Wrapf(err, appErr.StorageError, "list test data failed"))
			return
		}
		for _, obj := range objects {
			if name := strings.TrimPrefix(obj.Key, prefix); name != "" {
				files = append(files, name)
			}
		}
		sort.Strings(files)
	}
	if len(files) > h.cfg.MaxFiles {
		response.Error(c, appErr.New(appErr.TooManyTestFiles).WithDetail("max", h.cfg.MaxFiles))
		return
	}

	links := make(map[string]string, len(files))
	for _, file := range files {
		name, err := cleanTestDataName(file)
		if err != nil {
			response.Error(c, err)
			return
		}
		url, err := h.storage.PresignGetObject(ctx, h.cfg.Bucket, prefix+name, h.cfg.LinkTTL)
		if err != nil {
			response.Error(c, appErr.Wrapf(err, appErr.PresignFailed, "sign %s failed", name))
			return
		}
		links[file] = url
	}
	response.Success(c, FilesResponse{Links: links})
}

func testDataPrefix(domainID, problemID string) string {
	return "problem/" + domainID + "/" + problemID + "/testdata/"
}

func validateSegment(field, value string) error {
	if value == "" {
		return appErr.ValidationError(field, "required")
	}
	if value == "." || value == ".." || strings.ContainsAny(value, "/\\") {
		return appErr.New(appErr.TestDataPathBad).WithDetail("field", field)
	}
	return nil
}

// cleanTestDataName rejects names that would leave the problem's test data directory.
func cleanTestDataName(name string) (string, error) {
	if name == "" || strings.Contains(name, "\\") || strings.HasPrefix(name, "/") {
		return "", appErr.New(appErr.TestDataPathBad).WithDetail("file", name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", appErr.New(appErr.TestDataPathBad).WithDetail("file", name)
	}
	return cleaned, nil
}

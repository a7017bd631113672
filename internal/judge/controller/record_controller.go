package controller

import (
	"strconv"

	"judgehub/internal/judge/repository"
	"judgehub/internal/judge/service"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RecordController serves records and contest standings to operators.
type RecordController struct {
	store     repository.RecordStore
	intake    *service.TaskIntake
	standings *repository.ContestStandingStore
}

// NewRecordController creates a record controller. standings may be nil.
func NewRecordController(store repository.RecordStore, intake *service.TaskIntake, standings *repository.ContestStandingStore) *RecordController {
	return &RecordController{store: store, intake: intake, standings: standings}
}

// Get handles GET /judge/records/:domain/:rid.
func (h *RecordController) Get(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("domain"), c.Param("rid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, record)
}

// Rejudge handles POST /judge/records/:domain/:rid/rejudge.
func (h *RecordController) Rejudge(c *gin.Context) {
	if err := h.intake.Rejudge(c.Request.Context(), c.Param("domain"), c.Param("rid")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"queued": true})
}

// Standing handles GET /judge/contests/:domain/:tid/standing?limit=N.
func (h *RecordController) Standing(c *gin.Context) {
	if h.standings == nil {
		response.BadRequest(c, "Contest standings are not enabled")
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	if err != nil || limit <= 0 {
		response.BadRequest(c, "Invalid limit")
		return
	}
	entries, err := h.standings.Standing(c.Request.Context(), c.Param("domain"), c.Param("tid"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, entries)
}

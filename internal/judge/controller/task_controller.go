package controller

import (
	"judgehub/internal/judge/model"
	"judgehub/internal/judge/service"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// TaskController exposes queue intake and dispatcher state.
type TaskController struct {
	intake     *service.TaskIntake
	dispatcher *service.Dispatcher
}

// NewTaskController creates a task controller.
func NewTaskController(intake *service.TaskIntake, dispatcher *service.Dispatcher) *TaskController {
	return &TaskController{intake: intake, dispatcher: dispatcher}
}

// QueueStats is the pending task count of one type.
type QueueStats struct {
	Type    string `json:"type"`
	Pending int64  `json:"pending"`
}

// Enqueue handles POST /judge/tasks.
func (h *TaskController) Enqueue(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if task.Type == "" {
		task.Type = model.TaskTypeJudge
	}
	if err := h.intake.Enqueue(c.Request.Context(), &task); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Queue handles GET /judge/queue?type=judge.
func (h *TaskController) Queue(c *gin.Context) {
	taskType := c.DefaultQuery("type", h.dispatcher.TaskType())
	n, err := h.dispatcher.Queue().Len(c.Request.Context(), taskType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, QueueStats{Type: taskType, Pending: n})
}

// Sessions handles GET /judge/sessions.
func (h *TaskController) Sessions(c *gin.Context) {
	response.Success(c, h.dispatcher.Sessions())
}

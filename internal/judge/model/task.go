package model

import (
	"encoding/json"
	"strings"

	appErr "judgehub/pkg/errors"
)

// TaskTypeJudge is the only task type dispatched to judge workers.
const TaskTypeJudge = "judge"

// Task is a unit of pending judging work.
// Payload is opaque to the dispatcher and forwarded to the worker untouched.
type Task struct {
	Type     string          `json:"type"`
	DomainID string          `json:"domainId"`
	RecordID string          `json:"rid"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the identity fields needed to route the task.
func (t *Task) Validate() error {
	if t == nil {
		return appErr.New(appErr.TaskInvalid).WithMessage("task is nil")
	}
	if strings.TrimSpace(t.Type) == "" {
		return appErr.ValidationError("type", "required")
	}
	if strings.TrimSpace(t.DomainID) == "" {
		return appErr.ValidationError("domainId", "required")
	}
	if strings.TrimSpace(t.RecordID) == "" {
		return appErr.ValidationError("rid", "required")
	}
	if len(t.Payload) > 0 && !json.Valid(t.Payload) {
		return appErr.ValidationError("payload", "must be valid JSON")
	}
	return nil
}

// TaskMessage is sent to a worker exactly once per claimed task.
type TaskMessage struct {
	Task *Task `json:"task"`
}

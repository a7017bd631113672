package model

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	appErr "judgehub/pkg/errors"
)

// MessageKey discriminates worker reports.
type MessageKey string

const (
	MessageKeyNext MessageKey = "next"
	MessageKeyEnd  MessageKey = "end"
)

// JudgeMessage is a validated worker report.
// Pointer fields are nil when absent from the wire message.
type JudgeMessage struct {
	Key      MessageKey `json:"key"`
	DomainID string     `json:"domainId"`
	RecordID string     `json:"rid"`
	// Seq orders messages for one record, starting at 1. Zero means unsequenced.
	Seq uint64 `json:"seq,omitempty"`

	Case         *TestCase `json:"case,omitempty"`
	Message      *string   `json:"message,omitempty"`
	CompilerText *string   `json:"compilerText,omitempty"`

	Status   *Status  `json:"status,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Time     *float64 `json:"time,omitempty"`
	Memory   *int64   `json:"memory,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// IsTerminal reports whether the message completes the record.
func (m JudgeMessage) IsTerminal() bool {
	return m.Key == MessageKeyEnd
}

type wireCase struct {
	Time    *float64 `json:"time"`
	Memory  *int64   `json:"memory"`
	Message *string  `json:"message"`
	Status  *Status  `json:"status"`
}

type wireMessage struct {
	Key      MessageKey `json:"key"`
	DomainID string     `json:"domainId"`
	RecordID string     `json:"rid"`
	Seq      *uint64    `json:"seq"`

	Case         *wireCase `json:"case"`
	Message      *string   `json:"message"`
	CompilerText *string   `json:"compilerText"`

	Status   *Status  `json:"status"`
	Score    *float64 `json:"score"`
	Time     *float64 `json:"time"`
	Memory   *int64   `json:"memory"`
	Progress *float64 `json:"progress"`
}

// DecodeJudgeMessage parses and validates one worker report.
// Unknown fields, wrong types and out-of-range values are rejected.
func DecodeJudgeMessage(data []byte) (JudgeMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wire wireMessage
	if err := dec.Decode(&wire); err != nil {
		return JudgeMessage{}, appErr.Wrapf(err, appErr.InvalidJudgeMessage, "decode judge message: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return JudgeMessage{}, invalidMessage("body", "trailing data after message")
	}

	msg := JudgeMessage{
		Key:          wire.Key,
		DomainID:     strings.TrimSpace(wire.DomainID),
		RecordID:     strings.TrimSpace(wire.RecordID),
		Message:      wire.Message,
		CompilerText: wire.CompilerText,
		Status:       wire.Status,
		Score:        wire.Score,
		Time:         wire.Time,
		Memory:       wire.Memory,
		Progress:     wire.Progress,
	}
	if wire.Seq != nil {
		if *wire.Seq == 0 {
			return JudgeMessage{}, invalidMessage("seq", "must start at 1")
		}
		msg.Seq = *wire.Seq
	}
	if wire.Case != nil {
		tc, err := wire.Case.toTestCase()
		if err != nil {
			return JudgeMessage{}, err
		}
		msg.Case = &tc
	}
	if err := msg.Validate(); err != nil {
		return JudgeMessage{}, err
	}
	return msg, nil
}

func (c *wireCase) toTestCase() (TestCase, error) {
	if c.Time == nil {
		return TestCase{}, invalidMessage("case.time", "required")
	}
	if c.Memory == nil {
		return TestCase{}, invalidMessage("case.memory", "required")
	}
	if c.Status == nil {
		return TestCase{}, invalidMessage("case.status", "required")
	}
	tc := TestCase{Time: *c.Time, Memory: *c.Memory, Status: *c.Status}
	if c.Message != nil {
		tc.Message = *c.Message
	}
	return tc, nil
}

// Validate checks a message built in code against the same rules as DecodeJudgeMessage.
func (m JudgeMessage) Validate() error {
	switch m.Key {
	case MessageKeyNext, MessageKeyEnd:
	case "":
		return invalidMessage("key", "required")
	default:
		return invalidMessage("key", "unknown key "+string(m.Key))
	}
	if m.DomainID == "" {
		return invalidMessage("domainId", "required")
	}
	if m.RecordID == "" {
		return invalidMessage("rid", "required")
	}
	if m.Status != nil && !m.Status.Valid() {
		return invalidMessage("status", "unknown status "+m.Status.String())
	}
	if m.Key == MessageKeyEnd && (m.Status == nil || !m.Status.IsTerminal()) {
		return invalidMessage("status", "end requires a terminal status")
	}
	if m.Time != nil && *m.Time < 0 {
		return invalidMessage("time", "must not be negative")
	}
	if m.Memory != nil && *m.Memory < 0 {
		return invalidMessage("memory", "must not be negative")
	}
	if m.Case != nil {
		if !m.Case.Status.Valid() {
			return invalidMessage("case.status", "unknown status "+m.Case.Status.String())
		}
		if m.Case.Time < 0 || m.Case.Memory < 0 {
			return invalidMessage("case", "time and memory must not be negative")
		}
	}
	if m.Progress != nil {
		if m.Key == MessageKeyEnd {
			return invalidMessage("progress", "not allowed on end")
		}
		if *m.Progress < 0 || *m.Progress > 100 {
			return invalidMessage("progress", "must be within [0, 100]")
		}
	}
	return nil
}

func invalidMessage(field, reason string) error {
	return appErr.New(appErr.InvalidJudgeMessage).
		WithMessagef("invalid judge message: %s %s", field, reason).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

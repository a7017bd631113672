package model

import "time"

// SystemJudgerID finalizes records when the worker identity is unknown.
const SystemJudgerID int64 = 1

// RecordKind separates real judging outcomes from runs against user-supplied input.
type RecordKind string

const (
	RecordKindJudge   RecordKind = "judge"
	RecordKindPretest RecordKind = "pretest"
)

// Contest types with a dedicated standing rule.
const (
	ContestTypeACM = "acm"
	ContestTypeOI  = "oi"
)

// ContestRef associates a record with a contest.
type ContestRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// TestCase is one appended test-case result.
type TestCase struct {
	Time    float64 `json:"time"`
	Memory  int64   `json:"memory"`
	Message string  `json:"message"`
	Status  Status  `json:"status"`
}

// Record is the incrementally built result of judging one submission.
// TestCases, JudgeTexts and CompilerTexts only ever grow.
// Progress is set only while Status is non-terminal.
type Record struct {
	DomainID  string      `json:"domainId"`
	ID        string      `json:"rid"`
	ProblemID string      `json:"pid"`
	UserID    int64       `json:"uid"`
	Contest   *ContestRef `json:"contest,omitempty"`
	Kind      RecordKind  `json:"kind"`

	Status   Status   `json:"status"`
	Score    float64  `json:"score"`
	Time     float64  `json:"time"`
	Memory   int64    `json:"memory"`
	Progress *float64 `json:"progress,omitempty"`

	TestCases     []TestCase `json:"testCases"`
	JudgeTexts    []string   `json:"judgeTexts"`
	CompilerTexts []string   `json:"compilerTexts"`

	JudgeAt  *time.Time `json:"judgeAt,omitempty"`
	Judger   *int64     `json:"judger,omitempty"`
	Rejudged bool       `json:"rejudged,omitempty"`
}

// IsPretest reports whether propagation must skip this record.
func (r *Record) IsPretest() bool {
	return r.Kind == RecordKindPretest
}

// InContest reports whether the record counts towards a contest standing.
func (r *Record) InContest() bool {
	return r.Contest != nil && r.Contest.ID != ""
}

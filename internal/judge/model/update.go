package model

import "time"

// Field names a removable record field.
type Field string

const (
	FieldProgress Field = "progress"
	FieldJudgeAt  Field = "judgeAt"
	FieldJudger   Field = "judger"
)

// RecordSet holds scalar overwrites; nil members are left untouched.
type RecordSet struct {
	Status   *Status    `json:"status,omitempty"`
	Score    *float64   `json:"score,omitempty"`
	Time     *float64   `json:"time,omitempty"`
	Memory   *int64     `json:"memory,omitempty"`
	Progress *float64   `json:"progress,omitempty"`
	JudgeAt  *time.Time `json:"judgeAt,omitempty"`
	Judger   *int64     `json:"judger,omitempty"`
}

// IsEmpty reports whether no scalar is overwritten.
func (s RecordSet) IsEmpty() bool {
	return s.Status == nil && s.Score == nil && s.Time == nil && s.Memory == nil &&
		s.Progress == nil && s.JudgeAt == nil && s.Judger == nil
}

// RecordPush holds at most one append per sequence.
type RecordPush struct {
	TestCase     *TestCase `json:"testCases,omitempty"`
	JudgeText    *string   `json:"judgeTexts,omitempty"`
	CompilerText *string   `json:"compilerTexts,omitempty"`
}

// IsEmpty reports whether nothing is appended.
func (p RecordPush) IsEmpty() bool {
	return p.TestCase == nil && p.JudgeText == nil && p.CompilerText == nil
}

// RecordUpdate is applied to one record as a single atomic operation.
type RecordUpdate struct {
	Set   RecordSet
	Push  RecordPush
	Unset []Field
}

// IsEmpty reports whether the update changes nothing.
func (u RecordUpdate) IsEmpty() bool {
	return u.Set.IsEmpty() && u.Push.IsEmpty() && len(u.Unset) == 0
}

// Unsets reports whether f is removed by the update.
func (u RecordUpdate) Unsets(f Field) bool {
	for _, item := range u.Unset {
		if item == f {
			return true
		}
	}
	return false
}

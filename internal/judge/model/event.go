package model

// EventRecordChange is broadcast after every applied record update.
const EventRecordChange = "record/change"

// RecordChange carries the updated record and, for incremental updates,
// exactly the fields that were overwritten or appended.
// Full is set when subscribers should resynchronize from Record alone.
type RecordChange struct {
	Record *Record     `json:"record"`
	Set    *RecordSet  `json:"set,omitempty"`
	Push   *RecordPush `json:"push,omitempty"`
	Full   bool        `json:"full,omitempty"`
}

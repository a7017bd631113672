package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	// ConnID identifies one worker connection for its whole lifetime.
	ConnID key = "conn_id"
	// JudgeID is the authenticated judger uid bound to a worker connection.
	JudgeID key = "judge_id"
)

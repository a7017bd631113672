package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Record errors
// 13000-13999: Task queue & dispatch errors
// 14000-14999: Aggregate propagation errors
// 15000-15999: Test data & storage errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired     ErrorCode = 11003
	TokenInvalid     ErrorCode = 11004
	JudgePrivilege   ErrorCode = 11010
	JudgeIdentityBad ErrorCode = 11011

	// ========== Record Errors (12000-12999) ==========

	RecordNotFound     ErrorCode = 12000
	RecordUpdateFailed ErrorCode = 12001
	RecordResetFailed  ErrorCode = 12002
	RecordDecodeFailed ErrorCode = 12003

	// ========== Task Queue & Dispatch Errors (13000-13999) ==========

	// Queue (13000-13099)
	TaskQueueError   ErrorCode = 13000
	TaskDecodeFailed ErrorCode = 13001
	TaskInvalid      ErrorCode = 13002
	TaskDuplicate    ErrorCode = 13003

	// Worker connection (13100-13199)
	InvalidJudgeMessage   ErrorCode = 13100
	JudgeConnectionClosed ErrorCode = 13101
	JudgeSendFailed       ErrorCode = 13102
	JudgeSystemError      ErrorCode = 13103

	// ========== Propagation Errors (14000-14999) ==========

	PropagationFailed     ErrorCode = 14000
	ProblemStatusFailed   ErrorCode = 14001
	CounterUpdateFailed   ErrorCode = 14002
	ContestStandingFailed ErrorCode = 14003
	EventPublishFailed    ErrorCode = 14100

	// ========== Test Data & Storage Errors (15000-15999) ==========

	StorageError     ErrorCode = 15000
	TestDataPathBad  ErrorCode = 15001
	PresignFailed    ErrorCode = 15002
	TooManyTestFiles ErrorCode = 15003
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Authentication
	TokenExpired:     "Token has expired",
	TokenInvalid:     "Invalid token",
	JudgePrivilege:   "Judge privilege required",
	JudgeIdentityBad: "Invalid judge identity",

	// Record
	RecordNotFound:     "Record not found",
	RecordUpdateFailed: "Failed to update record",
	RecordResetFailed:  "Failed to reset record",
	RecordDecodeFailed: "Failed to decode record",

	// Task queue
	TaskQueueError:   "Task queue operation failed",
	TaskDecodeFailed: "Failed to decode task",
	TaskInvalid:      "Invalid task",
	TaskDuplicate:    "Record is already queued or being judged",

	// Worker connection
	InvalidJudgeMessage:   "Invalid judge message",
	JudgeConnectionClosed: "Judge connection closed",
	JudgeSendFailed:       "Failed to send task to judge",
	JudgeSystemError:      "Judge system error",

	// Propagation
	PropagationFailed:     "Failed to propagate judge result",
	ProblemStatusFailed:   "Failed to update problem status",
	CounterUpdateFailed:   "Failed to update counter",
	ContestStandingFailed: "Failed to update contest standing",
	EventPublishFailed:    "Failed to publish record event",

	// Storage
	StorageError:     "Object storage operation failed",
	TestDataPathBad:  "Invalid test data path",
	PresignFailed:    "Failed to sign download link",
	TooManyTestFiles: "Too many test data files requested",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == JudgeIdentityBad:
		return 401
	case c == Forbidden, c == JudgePrivilege:
		return 403
	case c == NotFound, c == RecordNotFound:
		return 404
	case c == TaskDuplicate:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == InvalidJudgeMessage, c == TaskInvalid, c == TestDataPathBad, c == TooManyTestFiles:
		return 400
	default:
		return 500
	}
}

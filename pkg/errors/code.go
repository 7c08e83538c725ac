package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem module errors
// 13000-13999: Record & Judge module errors
// 14000-14999: Contest module errors
// 16000-16999: Permission errors

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
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// ========== Problem Module Errors (12000-12999) ==========

	ProblemNotFound      ErrorCode = 12000
	ProblemUpdateFailed  ErrorCode = 12003
	TestCaseUploadFailed ErrorCode = 12101
	TestCaseInvalid      ErrorCode = 12102

	// ========== Record & Judge Module Errors (13000-13999) ==========

	// Records (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	RecordUpdateFailed     ErrorCode = 13010
	RecordResetFailed      ErrorCode = 13011

	// Judge dispatch (13100-13199)
	JudgeQueueError     ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	JudgeSessionClosed  ErrorCode = 13110
	InvalidJudgeMessage ErrorCode = 13111
	HackApplyFailed     ErrorCode = 13120
	RejudgeFailed       ErrorCode = 13121

	// ========== Contest Module Errors (14000-14999) ==========

	ContestNotFound     ErrorCode = 14000
	ContestUpdateFailed ErrorCode = 14005

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied       ErrorCode = 16000
	InsufficientPermission ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",
	CacheError:     "Cache operation failed",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",

	ProblemNotFound:      "Problem not found",
	ProblemUpdateFailed:  "Failed to update problem",
	TestCaseUploadFailed: "Failed to upload test case",
	TestCaseInvalid:      "Invalid test case format",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	RecordUpdateFailed:     "Failed to update record",
	RecordResetFailed:      "Failed to reset record",

	JudgeQueueError:     "Judge queue operation failed",
	JudgeSystemError:    "Judge system error",
	JudgeSessionClosed:  "Judge session is closed",
	InvalidJudgeMessage: "Invalid judge message",
	HackApplyFailed:     "Unable to apply hack",
	RejudgeFailed:       "Failed to schedule rejudge",

	ContestNotFound:     "Contest not found",
	ContestUpdateFailed: "Failed to update contest",

	PermissionDenied:       "Permission denied",
	InsufficientPermission: "Insufficient permission",
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
	case c == Unauthorized:
		return 401
	case c == Forbidden, c >= 16000 && c < 16100:
		return 403
	case c == TooManyRequests:
		return 429
	case c == NotFound, c == RecordNotFound, c == SubmissionNotFound, c == ProblemNotFound, c == ContestNotFound:
		return 404
	case c == ServiceUnavailable, c == JudgeQueueError:
		return 503
	case c >= 10300 && c < 10400, c == InvalidParams, c == InvalidJudgeMessage:
		return 400
	default:
		return 500
	}
}

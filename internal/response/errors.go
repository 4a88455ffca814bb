package response

// ErrCode is a typed error code enum for consistent API error identification.
// Session engine codes mirror service.Error codes one-to-one.
type ErrCode string

const (
	// ─── Identity ──────────────────────────────────────────────────────
	ErrIdentityRequired ErrCode = "IDENTITY_REQUIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidPage    ErrCode = "INVALID_PAGE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"
	ErrTestNotFound     ErrCode = "TEST_NOT_FOUND"

	// ─── Session access ────────────────────────────────────────────────
	ErrNotEnrolled                 ErrCode = "NOT_ENROLLED"
	ErrInstructionsNotAcknowledged ErrCode = "INSTRUCTIONS_NOT_ACKNOWLEDGED"
	ErrUnauthorizedAnswer          ErrCode = "UNAUTHORIZED_ANSWER"

	// ─── Session state ─────────────────────────────────────────────────
	ErrAlreadyCompleted    ErrCode = "ALREADY_COMPLETED"
	ErrNotEssayQuestion    ErrCode = "NOT_ESSAY_QUESTION"
	ErrScoreOutOfRange     ErrCode = "SCORE_OUT_OF_RANGE"
	ErrSessionNotCompleted ErrCode = "SESSION_NOT_COMPLETED"
	ErrSessionNotActive    ErrCode = "SESSION_NOT_ACTIVE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStoreUnavailable ErrCode = "STORE_UNAVAILABLE"
	ErrGradingFailed    ErrCode = "GRADING_FAILED"
	ErrInternal         ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Identity ──────────────────────────────────────────────────────
	case ErrIdentityRequired:
		return "Caller identity header is missing or invalid."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidPage:
		return "Page must be zero or greater and size must be between 1 and 100."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Exam session not found."
	case ErrQuestionNotFound:
		return "Question is not part of this session."
	case ErrTestNotFound:
		return "Test not found."

	// ─── Session access ────────────────────────────────────────────────
	case ErrNotEnrolled:
		return "You are not enrolled in this test."
	case ErrInstructionsNotAcknowledged:
		return "Please read and acknowledge the test instructions first."
	case ErrUnauthorizedAnswer:
		return "The answer targets a question outside your session."

	// ─── Session state ─────────────────────────────────────────────────
	case ErrAlreadyCompleted:
		return "This exam session has already been submitted."
	case ErrNotEssayQuestion:
		return "Only essay questions can be graded manually."
	case ErrScoreOutOfRange:
		return "Score must be between 0 and the question's maximum marks."
	case ErrSessionNotCompleted:
		return "This exam session has not been submitted yet."
	case ErrSessionNotActive:
		return "This exam session has no running countdown."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStoreUnavailable:
		return "Timer store is temporarily unavailable. Please retry."
	case ErrGradingFailed:
		return "Grading failed. Your submission is saved and will be graded later."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

package service

import "errors"

// Kind classifies an engine error for propagation and transport mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAccess         Kind = "access"
	KindState          Kind = "state"
	KindNotFound       Kind = "not_found"
	KindTransientStore Kind = "transient_store"
	KindGrading        Kind = "grading"
	KindInternal       Kind = "internal"
)

// Error is a classified engine error. Code is a stable machine-readable
// identifier; Err optionally carries the underlying cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same Code, so wrapped copies still satisfy
// errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidPage = newError(KindValidation, "INVALID_PAGE", "page must be >= 0 and size must be > 0")

	ErrNotEnrolled                 = newError(KindAccess, "NOT_ENROLLED", "student is not enrolled in this test")
	ErrInstructionsNotAcknowledged = newError(KindAccess, "INSTRUCTIONS_NOT_ACKNOWLEDGED", "test instructions have not been acknowledged")
	ErrUnauthorizedAnswer          = newError(KindAccess, "UNAUTHORIZED_ANSWER", "assigned question does not belong to this session")

	ErrAlreadyCompleted    = newError(KindState, "ALREADY_COMPLETED", "session is already completed")
	ErrNotEssayQuestion    = newError(KindState, "NOT_ESSAY_QUESTION", "question is not an essay question")
	ErrScoreOutOfRange     = newError(KindState, "SCORE_OUT_OF_RANGE", "score must be between 0 and the question's max marks")
	ErrSessionNotCompleted = newError(KindState, "SESSION_NOT_COMPLETED", "session has not been completed")
	ErrSessionNotActive    = newError(KindState, "SESSION_NOT_ACTIVE", "session has no running countdown")

	ErrSessionNotFound  = newError(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	ErrQuestionNotFound = newError(KindNotFound, "QUESTION_NOT_FOUND", "question not found in session")
	ErrTestNotFound     = newError(KindNotFound, "TEST_NOT_FOUND", "test not found")
)

// transientError wraps a countdown-store failure.
func transientError(err error) error {
	return &Error{Kind: KindTransientStore, Code: "STORE_UNAVAILABLE", Message: "countdown store unavailable", Err: err}
}

// gradingError wraps a failure inside the grading engine.
func gradingError(err error) error {
	return &Error{Kind: KindGrading, Code: "GRADING_FAILED", Message: "grading failed", Err: err}
}

// KindOf returns the classification of err, or KindInternal for
// unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of a classified error, or "" when err is
// not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

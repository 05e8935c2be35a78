package errors

import "fmt"

// ErrorCode identifies an application error category. Codes are part of the
// API envelope and stable across releases.
type ErrorCode string

const (
	// Transport / generic
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidRequestData ErrorCode = "INVALID_REQUEST_DATA"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	ErrCreateFailed       ErrorCode = "CREATE_FAILED"
	ErrGetFailed          ErrorCode = "GET_FAILED"
	ErrUpdateFailed       ErrorCode = "UPDATE_FAILED"
	ErrDeleteFailed       ErrorCode = "DELETE_FAILED"

	// Auth
	ErrUnauthorized               ErrorCode = "UNAUTHORIZED"
	ErrForbidden                  ErrorCode = "FORBIDDEN"
	ErrTokenExpired               ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidTokenFormat         ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrMissingAuthorizationHeader ErrorCode = "MISSING_AUTHORIZATION_HEADER"

	// Negotiation protocol. These are expected outcomes of normal protocol
	// flow, not faults: callers branch on them.
	ErrDuplicateID            ErrorCode = "DUPLICATE_ID"
	ErrParticipantsRequired   ErrorCode = "PARTICIPANTS_REQUIRED"
	ErrUnknownParticipants    ErrorCode = "UNKNOWN_PARTICIPANTS"
	ErrNotAParticipant        ErrorCode = "NOT_A_PARTICIPANT"
	ErrInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"

	// Agent routing signals: both resolve to "escalate", never to a failure.
	ErrVetoViolation      ErrorCode = "VETO_VIOLATION"
	ErrRoundLimitExceeded ErrorCode = "ROUND_LIMIT_EXCEEDED"
)

// AppError is the error type returned by all services.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrUserNotFound       = NewErr("USER_NOT_FOUND", "user not found", http.StatusNotFound)
	ErrTitleRequired      = NewErr("TITLE_REQUIRED", "title cannot be empty", http.StatusBadRequest)
	ErrTitleTooLong       = NewErr("TITLE_TOO_LONG", "title is too long", http.StatusBadRequest)
	ErrContentRequired    = NewErr("CONTENT_REQUIRED", "content cannot be empty", http.StatusBadRequest)
	ErrContentTooLong     = NewErr("CONTENT_TOO_LONG", "content is too long", http.StatusBadRequest)
	ErrCommentRequired    = NewErr("COMMENT_REQUIRED", "comment cannot be empty", http.StatusBadRequest)
	ErrCommentTooLong     = NewErr("COMMENT_TOO_LONG", "comment is too long", http.StatusBadRequest)
	ErrUsernameRequired   = NewErr("USERNAME_REQUIRED", "username cannot be empty", http.StatusBadRequest)
	ErrUsernameTooLong    = NewErr("USERNAME_TOO_LONG", "username is too long", http.StatusBadRequest)
	ErrUsernameTaken      = NewErr("USERNAME_TAKEN", "username already taken", http.StatusBadRequest)
	ErrPasswordTooShort   = NewErr("PASSWORD_TOO_SHORT", "password must be at least 6 characters", http.StatusBadRequest)
	ErrInvalidCredentials = NewErr("INVALID_CREDENTIALS", "invalid username or password", http.StatusUnauthorized)
	ErrCaptchaFailed      = NewErr("CAPTCHA_FAILED", "captcha verification failed", http.StatusBadRequest)
	ErrLoginRequired      = NewErr("LOGIN_REQUIRED", "login required", http.StatusUnauthorized)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrStorage            = NewErr("STORAGE_ERROR", "storage unavailable", http.StatusInternalServerError)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Status resolves the HTTP status for an error, looking through pkg/errors
// wrapping. Unknown errors map to 500.
func Status(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message for an error. Anything that is not
// a domain sentinel collapses to a generic message so internal causes never
// reach a response body.
func Message(err error) string {
	if e, ok := err.(*Err); ok {
		return e.Msg
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Msg
	}
	return ErrInternalServer.Msg
}

package proxy

import (
	"errors"
	"fmt"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Proxy Error Codes
const (
	// Configuration and Initialization Errors (E1000-E1999)
	ErrCodeMissingCredentials = "E1001"
	ErrCodeInvalidSetup       = "E1002"
	ErrCodeAlreadyStarted     = "E1003"
	ErrCodeClientCreateFailed = "E1004"

	// Session Errors (E2000-E2999)
	ErrCodeSignInFailed    = "E2001"
	ErrCodeAlreadySignedIn = "E2002"
	ErrCodeSessionNotReady = "E2003"

	// Rewriting Errors (E3000-E3999)
	ErrCodeInvalidRequestURL = "E3001"
	ErrCodeRefererInvalid    = "E3002"
	ErrCodeRefererEncrypt    = "E3003"
	ErrCodeNoticeLinkInvalid = "E3004"
	ErrCodeNoticeLinkDecrypt = "E3005"
)

// Sentinel causes, usable with errors.Is on any *Error wrapping them.
var (
	ErrSessionNotReady = errors.New("session is not signed in")
	ErrAlreadySignedIn = errors.New("session sign-in was already attempted")
	ErrNotAbsoluteURL  = errors.New("not an absolute URL")
)

// GetErrorCode extracts the error code from an error, or "" if it carries none.
func GetErrorCode(err error) string {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code
	}
	return ""
}

// ErrorDescriptions maps error codes to their human-readable descriptions
var ErrorDescriptions = map[string]string{
	ErrCodeMissingCredentials: "WebVPN credentials missing",
	ErrCodeInvalidSetup:       "Invalid plugin setup",
	ErrCodeAlreadyStarted:     "Plugin was already started",
	ErrCodeClientCreateFailed: "Failed to create WebVPN client",

	ErrCodeSignInFailed:    "WebVPN sign-in failed",
	ErrCodeAlreadySignedIn: "WebVPN sign-in already attempted",
	ErrCodeSessionNotReady: "WebVPN session not signed in",

	ErrCodeInvalidRequestURL: "Request URL cannot be routed",
	ErrCodeRefererInvalid:    "Referer header is not an absolute URL",
	ErrCodeRefererEncrypt:    "Referer header could not be encrypted",
	ErrCodeNoticeLinkInvalid: "Notice link is not an absolute URL",
	ErrCodeNoticeLinkDecrypt: "Notice link could not be decrypted",
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

func hasCodeIn(err error, lo, hi string) bool {
	code := GetErrorCode(err)
	return code >= lo && code < hi
}

// IsConfigurationError checks if the error is initialization-related
func IsConfigurationError(err error) bool {
	return hasCodeIn(err, "E1000", "E2000")
}

// IsSessionError checks if the error is session-related
func IsSessionError(err error) bool {
	return hasCodeIn(err, "E2000", "E3000")
}

// IsRewriteError checks if the error comes from header or notice rewriting
func IsRewriteError(err error) bool {
	return hasCodeIn(err, "E3000", "E4000")
}

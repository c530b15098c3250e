package server

import "fmt"

// OAuth 2.0 error codes from RFC 6749, as surfaced by the flow operations.
// The HTTP layer maps them onto status codes and JSON error bodies.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidRedirectURI   = "invalid_redirect_uri"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
)

// Error is a protocol-level OAuth error. Descriptions are written for
// clients: generic on security-sensitive paths, specific on plain request
// mistakes.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Code: ErrorCodeInvalidRequest, Description: fmt.Sprintf(format, args...)}
}

func invalidClient(format string, args ...any) *Error {
	return &Error{Code: ErrorCodeInvalidClient, Description: fmt.Sprintf(format, args...)}
}

func invalidScope(format string, args ...any) *Error {
	return &Error{Code: ErrorCodeInvalidScope, Description: fmt.Sprintf(format, args...)}
}

// invalidGrant is deliberately uninformative. Grant failures cover expired
// codes, consumed codes, rotated tokens, and mismatched bindings; revealing
// which one applies would hand an attacker a validity oracle.
func invalidGrant() *Error {
	return &Error{Code: ErrorCodeInvalidGrant, Description: "invalid grant"}
}

package iamclient

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeTokenSignature      = "IAM_TOKEN_SIGNATURE"
	textCodeTokenExpired        = "IAM_TOKEN_EXPIRED"
	textCodeTokenIssuer         = "IAM_TOKEN_ISSUER"
	textCodeTokenAudience       = "IAM_TOKEN_AUDIENCE"
	textCodeTokenMalformed      = "IAM_TOKEN_MALFORMED"
	textCodeWrongTokenType      = "IAM_WRONG_TOKEN_TYPE"
	textCodeApplicationMismatch = "IAM_APP_KEY_MISMATCH"
	textCodeMissingIdentifier   = "IAM_MISSING_IDENTIFIER"
	textCodeNoRoles             = "IAM_NO_ROLES"
	textCodeInsufficientRoles   = "IAM_INSUFFICIENT_ROLES"
	textCodeUpstream            = "IAM_UPSTREAM_UNAVAILABLE"
)

// Token verification failures. Always fail closed, never partially trusted.
var (
	ErrTokenSignature = goerrors.New("token signature verification failed", goerrors.CategoryAuth).
				WithTextCode(textCodeTokenSignature).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
			WithTextCode(textCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenIssuer = goerrors.New("invalid token issuer", goerrors.CategoryAuth).
			WithTextCode(textCodeTokenIssuer).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenAudience = goerrors.New("invalid token audience", goerrors.CategoryAuth).
				WithTextCode(textCodeTokenAudience).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
				WithTextCode(textCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)
)

// Provisioning failures. Always abort the login attempt, never create a
// partial user record.
var (
	ErrWrongTokenType = goerrors.New("invalid token type, expected an access token", goerrors.CategoryAuth).
				WithTextCode(textCodeWrongTokenType).
				WithCode(goerrors.CodeForbidden)

	ErrApplicationMismatch = goerrors.New("token not valid for this application", goerrors.CategoryAuth).
				WithTextCode(textCodeApplicationMismatch).
				WithCode(goerrors.CodeForbidden)

	ErrMissingIdentifier = goerrors.New("token missing required identifier claim", goerrors.CategoryAuth).
				WithTextCode(textCodeMissingIdentifier).
				WithCode(goerrors.CodeForbidden)
)

// Role-policy rejections. Abort login with a user-facing message, never
// downgrade to an unauthenticated-but-allowed state.
var (
	ErrNoRoles = goerrors.New("token carries no roles for this application", goerrors.CategoryAuthz).
			WithTextCode(textCodeNoRoles).
			WithCode(goerrors.CodeForbidden)

	ErrInsufficientRoles = goerrors.New("token roles do not satisfy the required role set", goerrors.CategoryAuthz).
				WithTextCode(textCodeInsufficientRoles).
				WithCode(goerrors.CodeForbidden)
)

// ErrUpstreamUnavailable marks transient failures talking to the IAM server.
// Distinct from a definitive rejection so callers can surface a retryable
// message; the session is still torn down (fail closed).
var ErrUpstreamUnavailable = goerrors.New("IAM server unavailable, try again", goerrors.CategoryOperation).
	WithTextCode(textCodeUpstream).
	WithCode(goerrors.CodeInternal)

// IsInvalidToken reports whether err is one of the token verification
// failures (signature, expiry, issuer, audience, malformed).
func IsInvalidToken(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []*goerrors.Error{
		ErrTokenSignature, ErrTokenExpired, ErrTokenIssuer, ErrTokenAudience, ErrTokenMalformed,
	} {
		if goerrors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsProvisioningError reports whether err aborted provisioning (wrong type,
// app mismatch, missing identifier).
func IsProvisioningError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []*goerrors.Error{
		ErrWrongTokenType, ErrApplicationMismatch, ErrMissingIdentifier,
	} {
		if goerrors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRolePolicyError reports whether err is a role-policy rejection.
func IsRolePolicyError(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrNoRoles) || goerrors.Is(err, ErrInsufficientRoles)
}

// IsUpstreamError reports whether err is a transient IAM connectivity failure.
func IsUpstreamError(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrUpstreamUnavailable)
}

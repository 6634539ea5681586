package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrConfiguration              = errors.New("invalid configuration")
	ErrUnknownProvider            = errors.New("unknown provider")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrExpiredRequest             = errors.New("authorization request is expired")
	ErrCSRFMismatch               = errors.New("state does not match the csrf token issued for this attempt")
	ErrMissingAuthorizationCode   = errors.New("authorization code is missing")
	ErrAuthorizationTimedOut      = errors.New("authorization timed out")
	ErrTokenExchangeFailed        = errors.New("token exchange failed")
	ErrUserInfoFailed             = errors.New("userinfo request failed")
)

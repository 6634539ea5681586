package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

// S256 is the SHA-256 based PKCE challenge method. It is the only method
// supported; "plain" offers no protection against code interception.
const S256 ChallengeMethod = "S256"

// verifierNumBytes is the entropy of a code verifier. 32 bytes (256 bits)
// base64url-encode to the 43 characters required as a minimum by RFC 7636.
const verifierNumBytes = 32

const verifierLen = 43

// CodeVerifier represents an OAuth PKCE code verifier and its derived
// challenge. Each verifier is bound to exactly one authorization attempt and
// must never be reused across attempts.
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a verifier of sufficient entropy from a
// cryptographically secure RNG, along with its S256 challenge. Every call
// produces a fresh, independent pair.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(verifierNumBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, ErrIDGeneratorFailed)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(S256, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier challenge: %w", op, err)
	}
	return v, nil
}

// Verifier returns the verifier's random string. The value is a secret and
// must never be logged; use String() for any diagnostic output.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the verifier's derived code challenge.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the verifier's challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// RedactedCodeVerifier is the redacted string for a PKCE code verifier.
const RedactedCodeVerifier = "[REDACTED: code verifier]"

// String will redact the verifier.
func (v *CodeVerifier) String() string { return RedactedCodeVerifier }

// CreateCodeChallenge creates a code challenge for the verifier using the
// given method. Only the S256 method is supported and any other method
// returns ErrUnsupportedChallengeMethod.
func CreateCodeChallenge(m ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if m != S256 {
		return "", fmt.Errorf("%s: %q is not supported: %w", op, m, ErrUnsupportedChallengeMethod)
	}
	sum := sha256.Sum256([]byte(v.verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Header names carrying delivery authenticity proofs.
const (
	GitHubSignatureHeader = "X-Hub-Signature-256"
	GitLabTokenHeader     = "X-Gitlab-Token"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ValidateSignature checks a GitHub sha256=<hex> HMAC of the payload.
func ValidateSignature(payload, secret []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSignature
	}
	provided = strings.TrimPrefix(provided, "sha256=")
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// ValidateToken compares a GitLab secret token in constant time.
func ValidateToken(expected, provided string) error {
	if provided == "" {
		return ErrMissingSignature
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested file does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the actor is not allowed to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrPolicyViolation indicates the encryption password fails the strength policy.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConflict indicates a duplicate share, self-share or similar state clash.
	ErrConflict = errors.New("conflict")

	// ErrEncryptionFailed indicates the encryption gateway rejected the payload.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed indicates a wrong password or corrupt ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidArgument indicates malformed input (e.g. empty file name).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRateLimited indicates a temporary block after repeated failed decrypts.
	ErrRateLimited = errors.New("rate limited")
)

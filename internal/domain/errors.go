package domain

import (
	"context"
	"errors"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrValidation        = errors.New("validation error")
	ErrNotReady          = errors.New("service not initialized")
	ErrIndexUnavailable  = errors.New("index unavailable")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexStale        = errors.New("index built with a different configuration")
	ErrRebuildInProgress = errors.New("index rebuild already in progress")
	ErrEmbedding         = errors.New("embedding failure")
	ErrCompletion        = errors.New("completion failure")

	// Transport classes reported by remote adapters.
	ErrTransient         = errors.New("transient remote error")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidInput      = errors.New("invalid input")
)

// IsRetryable reports whether err is worth another attempt.
// Cancellation and credential problems never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

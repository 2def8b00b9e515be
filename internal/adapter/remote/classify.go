// Package remote maps failures from hosted model APIs onto the domain
// transport classes so retry decisions are made in one place.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"ragchat/internal/domain"
)

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// StatusCode extracts the HTTP status reported in a client error message.
// Returns 0 when the error carries none.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

// Class returns the domain transport class for err, or nil for
// cancellation. Anything unrecognised (network errors, timeouts) is
// treated as transient.
func Class(err error) error {
	switch code := StatusCode(err); {
	case code == 429:
		return domain.ErrRateLimited
	case code == 401 || code == 403:
		return domain.ErrInvalidCredential
	case code == 400 || code == 404 || code == 413 || code == 422:
		return domain.ErrInvalidInput
	case code >= 500:
		return domain.ErrTransient
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return domain.ErrTransient
}

// Wrap tags err with kind (ErrEmbedding, ErrCompletion) and its transport
// class, keeping the original message.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	class := Class(err)
	if class == nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: %w: %w", kind, class, err)
}

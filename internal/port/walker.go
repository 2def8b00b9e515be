package port

import (
	"context"

	"ragchat/internal/domain"
)

// DocumentSource enumerates the corpus. It is consumed only while building
// an index.
type DocumentSource interface {
	Documents(ctx context.Context) ([]domain.Document, error)
}

package port

import "context"

// Completer is a hosted language-model completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)

	ModelName() string
}

// RetryPolicy decides whether and when a failed external call is retried.
type RetryPolicy interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

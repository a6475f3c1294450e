// Package resilience provides the failure-handling primitives used around
// network fetches and cache installation.
//
// # Patterns
//
//   - Retry: re-runs a failed operation with constant, linear, or
//     exponential backoff. The host uses it to retry a failed install.
//
//   - Timeout: bounds a single operation. The agent uses it to bound each
//     network fetch.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  3,
//	        InitialDelay: 200 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return a.Install(ctx)
//	})
//
// Retry is applied outside the timeout, so each attempt gets its own
// deadline.
package resilience

// Package httputil provides retry helpers for package index clients.
//
// # Retry
//
// [Retry] re-runs an operation that failed with a transient error. Only
// errors wrapped with [RetryableError] are retried:
//
//   - Network errors
//   - 5xx server errors
//
// Everything else (404s, decode failures, bad requests) is returned at once.
// The delay doubles after each failed attempt:
//
//	err := httputil.Policy{Attempts: 3, Delay: time.Second}.Do(ctx, func() error {
//	    return fetch(ctx)
//	})
//
// # Configuration
//
// [DefaultPolicy] allows 3 attempts with a 1 second initial delay. The CLI
// exposes both values as --retries and --retry-delay.
package httputil

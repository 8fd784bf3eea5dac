package chain

import (
	"context"
	"regexp"
	"time"
)

const (
	readAttempts = 3
	readBackoff  = 200 * time.Millisecond
)

var rateLimitRe = regexp.MustCompile(`(?i)too many requests|-32005\b|(status|code)\W{0,3}429\b`)

// IsRateLimit reports whether err looks like a provider throttling response.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return rateLimitRe.MatchString(err.Error())
}

// withRetry runs a read with small backoff. Reverts are not retried.
// Writes never go through here.
func withRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	backoff := readBackoff
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= readAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if IsRevert(err) || ctx.Err() != nil {
			break
		}
		if attempt < readAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			if IsRateLimit(err) {
				backoff *= 2
			}
		}
	}
	return zero, lastErr
}

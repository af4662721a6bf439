// Package retry holds the retry rules of the token endpoint: which statuses
// are retried, how long to wait between attempts, and how to wait.
//
// # Policy
//
// A [Policy] allows MaxRetry retries after the first attempt. Waits follow a
// jittered exponential schedule computed by [Backoff]:
//
//	attempt 0: [1*MinWait, 2*MinWait)
//	attempt 1: [2*MinWait, 4*MinWait)
//	attempt 2: [4*MinWait, 8*MinWait)
//
// # Retryable Statuses
//
// [Retryable] accepts 429 and every 5xx except 501 Not Implemented.
//
// # Determinism
//
// The random source is injected through [Source]. Tests pass [ZeroSource]
// or a seeded *rand.Rand; production code uses [NewLockedSource].
package retry

package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// Policy configures the token endpoint retry loop. MaxRetry counts retries,
// so a request is attempted at most MaxRetry+1 times.
type Policy struct {
	MaxRetry int
	MinWait  time.Duration
}

// DefaultPolicy is used when no retry configuration is supplied.
var DefaultPolicy = Policy{MaxRetry: 3, MinWait: 100 * time.Millisecond}

// Normalize clamps negative values to zero.
func (p Policy) Normalize() Policy {
	if p.MaxRetry < 0 {
		p.MaxRetry = 0
	}
	if p.MinWait < 0 {
		p.MinWait = 0
	}
	return p
}

// Retryable reports whether a response status is worth another attempt:
// 429 and 5xx except 501, which will not start working on retry.
func Retryable(status int) bool {
	if status == http.StatusNotImplemented {
		return false
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// Source is the random source used for jitter. *rand.Rand satisfies it.
type Source interface {
	Int64N(n int64) int64
}

// LockedSource makes a Source safe for concurrent use.
type LockedSource struct {
	mu  sync.Mutex
	src Source
}

// NewLockedSource wraps src. A nil src gets a time-seeded PCG source.
func NewLockedSource(src Source) *LockedSource {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.New(rand.NewPCG(now, now>>1|1))
	}
	return &LockedSource{src: src}
}

func (s *LockedSource) Int64N(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int64N(n)
}

// ZeroSource always returns 0, which pins every backoff to the low end of its
// window. Useful in tests.
type ZeroSource struct{}

func (ZeroSource) Int64N(int64) int64 { return 0 }

// Backoff returns the wait before retry number attempt (0-based): a uniform
// value in [2^attempt*minWait, 2^(attempt+1)*minWait).
func Backoff(attempt int, minWait time.Duration, src Source) time.Duration {
	if minWait <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	if int64(minWait) > math.MaxInt64>>(attempt+1) {
		return time.Duration(math.MaxInt64)
	}
	lo := int64(minWait) << attempt
	if src == nil {
		return time.Duration(lo)
	}
	return time.Duration(lo + src.Int64N(lo))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package netsim

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// BandwidthLimiter enforces a global bytes-per-second ceiling shared by
// every in-flight chunk, the token-bucket-style scheduler §4.1 requires
// ("concurrent transmissions share capacity"). rate.Limiter's token bucket
// is bytes, not requests: one token per byte, burst sized to one chunk so
// a single large chunk doesn't starve waiting on its own burst headroom.
type BandwidthLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	rateBps int64
}

// NewBandwidthLimiter creates a limiter for bytesPerSec capacity.
func NewBandwidthLimiter(bytesPerSec int64, burstBytes int) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		bytesPerSec = 1
	}
	if burstBytes <= 0 {
		burstBytes = int(bytesPerSec)
	}
	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes),
		rateBps: bytesPerSec,
	}
}

// SetRate reconfigures the limiter's bytes-per-second capacity, for
// UpdateConfig (§6) changing bandwidth_bytes_per_sec at runtime.
func (b *BandwidthLimiter) SetRate(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		bytesPerSec = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	atomic.StoreInt64(&b.rateBps, bytesPerSec)
	b.limiter.SetLimit(rate.Limit(bytesPerSec))
	if burst := int(bytesPerSec); burst > b.limiter.Burst() {
		b.limiter.SetBurst(burst)
	}
}

// Wait blocks until n bytes' worth of bandwidth capacity is available,
// modeling the pacing delay of len(chunk)/bandwidth from §4.1 step 3b.
func (b *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	b.mu.RLock()
	limiter := b.limiter
	b.mu.RUnlock()

	// A chunk larger than the bucket's burst can never be admitted in
	// one shot; split the wait into burst-sized slices.
	burst := limiter.Burst()
	for n > 0 {
		take := n
		if burst > 0 && take > burst {
			take = burst
		}
		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

package capstore

import (
	"context"
	"time"
)

// RunSweeper runs Sweep on interval until ctx is canceled, the low-priority
// periodic worker described in §5. onSwept, if non-nil, is called with the
// number of capsules removed after each pass.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onSwept func(removed int64, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Sweep(now.UnixMilli())
			if onSwept != nil {
				onSwept(n, err)
			}
		}
	}
}

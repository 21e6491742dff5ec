package netsim

import (
	"github.com/capsulemesh/hub/internal/fec"
)

// RedundancyPolicy decides, per the teacher's AdaptivePolicy shape,
// whether Reed-Solomon parity is enabled and with which (k, r) shape,
// from the loss rate the simulator observes. The simulator reports that
// decision through metrics only: no parity chunks are added to chunk
// trains, and lost chunks are recovered by retransmission alone.
type RedundancyPolicy struct {
	adaptive *fec.AdaptivePolicy
}

// NewRedundancyPolicy builds a policy using the package's default
// thresholds (1.0% enable / 0.5% disable, k=8/r=2 baseline).
func NewRedundancyPolicy() *RedundancyPolicy {
	return &RedundancyPolicy{adaptive: fec.NewAdaptivePolicy(fec.DefaultPolicyConfig())}
}

// Observe feeds the policy a fresh loss-rate sample (percent, 0-100),
// typically derived from recent NAK counts over chunks sent.
func (p *RedundancyPolicy) Observe(lossPercent float64) {
	p.adaptive.Update(lossPercent)
}

// Parameters reports whether parity encoding is currently enabled and,
// if so, the (k, r) Reed-Solomon shape to use for the next chunk train.
func (p *RedundancyPolicy) Parameters() (enabled bool, k, r int) {
	return p.adaptive.GetParameters()
}

// EncodeParity splits dataChunks into k data shards and returns r parity
// shards built over them, for senders that want redundancy beyond plain
// retransmission. Chunks are zero-padded to a common size before encoding
// and the caller is responsible for stripping padding on reconstruction.
func EncodeParity(dataChunks [][]byte, r int) ([][]byte, error) {
	k := len(dataChunks)
	if k == 0 {
		return nil, nil
	}
	maxLen := 0
	for _, c := range dataChunks {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	padded := make([][]byte, k)
	for i, c := range dataChunks {
		padded[i] = make([]byte, maxLen)
		copy(padded[i], c)
	}

	enc, err := fec.NewEncoder(k, r)
	if err != nil {
		return nil, err
	}
	return enc.Encode(padded)
}

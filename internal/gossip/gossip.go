// Package gossip implements manifest broadcast and selective sync
// (§4.6): a main hub periodically pushes a signed inventory of its
// capsules, and each mini hub diffs that inventory against its own
// store and pulls only what it's missing.
package gossip

import (
	"context"
	"time"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/capsule"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/observability"
	"github.com/capsulemesh/hub/internal/ratelimit"
	"github.com/capsulemesh/hub/internal/wire"
)

// DefaultRequestBurstPerSecond caps how many CAPSULE_REQUEST frames a
// poll cycle can emit in a single second, independent of the inflight
// concurrency cap, so a poll that finds hundreds of missing entries
// after a long outage doesn't saturate the link in one tick.
const DefaultRequestBurstPerSecond = 4

// DefaultManifestInterval is T_manifest, the default period between a
// main hub's manifest broadcasts.
const DefaultManifestInterval = 30 * time.Second

// DefaultPollInterval is T_gossip, the default period between a mini
// hub's manifest polls.
const DefaultPollInterval = 45 * time.Second

// DefaultMaxInflight is N_inflight_sync, the default cap on concurrently
// outstanding CAPSULE_REQUEST frames per peer.
const DefaultMaxInflight = 8

// Broadcaster runs on a main hub: it builds and pushes a signed
// manifest to every known mini-hub peer on a fixed interval.
type Broadcaster struct {
	NodeID   string
	Peers    []string
	Store    *capstore.Store
	Sim      *netsim.Simulator
	Identity *capcrypto.Identity

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Run broadcasts a manifest every interval until ctx is canceled.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultManifestInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastOnce()
		}
	}
}

func (b *Broadcaster) broadcastOnce() {
	m, err := b.Store.Manifest(time.Now().UnixMilli())
	if err != nil {
		return
	}
	payload, err := wire.EncodeJSON(m)
	if err != nil {
		return
	}
	for _, peer := range b.Peers {
		key, ok := b.Identity.AeadKeyFor(peer)
		if !ok {
			continue
		}
		packetID := wire.NewPacketID()
		p, err := wire.Encode(wire.TypeManifest, packetID, wire.IDFromString(b.NodeID), wire.IDFromString(peer), key, payload)
		if err != nil {
			continue
		}
		_, _ = b.Sim.SubmitPacket(wire.EncodePacket(p), b.NodeID, peer)
	}
	if b.Logger != nil {
		b.Logger.ManifestPublished(b.NodeID, len(m.Entries))
	}
	if b.Metrics != nil {
		b.Metrics.RecordManifestPublished()
	}
}

// PendingManifestSource is the subset of minihub.Hub the poller needs:
// the manifest most recently pushed by the main hub, and the local
// store to diff it against.
type PendingManifestSource interface {
	TakePendingManifest() *capsule.Manifest
}

// Poller runs on a mini hub: it periodically takes the most recently
// received manifest, diffs it against the local store, and issues
// rate-limited CAPSULE_REQUEST frames for whatever is missing.
type Poller struct {
	NodeID    string
	MainHubID string
	Source    PendingManifestSource
	Store     *capstore.Store
	Sim       *netsim.Simulator
	Identity  *capcrypto.Identity

	MaxInflight int

	Metrics *observability.Metrics
	Logger  *observability.Logger

	inflight int
	requests *ratelimit.TokenBucket
}

// Run polls every interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if p.MaxInflight <= 0 {
		p.MaxInflight = DefaultMaxInflight
	}
	if p.requests == nil {
		p.requests = ratelimit.NewTokenBucket(DefaultRequestBurstPerSecond, DefaultRequestBurstPerSecond)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	remote := p.Source.TakePendingManifest()
	if remote == nil {
		return
	}
	if p.Metrics != nil {
		p.Metrics.RecordManifestReceived()
	}

	local, err := p.Store.Manifest(time.Now().UnixMilli())
	if err != nil {
		return
	}
	missing := local.Diff(remote)
	if len(missing) == 0 {
		if p.Logger != nil {
			p.Logger.SyncConverged(p.MainHubID, 0)
		}
		return
	}

	key, ok := p.Identity.AeadKeyFor(p.MainHubID)
	if !ok {
		return
	}

	maxInflight := p.MaxInflight
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	budget := maxInflight - p.inflight
	if budget <= 0 {
		return
	}
	if budget > len(missing) {
		budget = len(missing)
	}

	for _, entry := range missing[:budget] {
		if p.requests != nil && !p.requests.Allow(1) {
			break
		}
		frame := wire.CapsuleRequestFrame{CapsuleID: entry.CapsuleID}
		payload, err := wire.EncodeJSON(frame)
		if err != nil {
			continue
		}
		packetID := wire.NewPacketID()
		pkt, err := wire.Encode(wire.TypeCapsuleRequest, packetID, wire.IDFromString(p.NodeID), wire.IDFromString(p.MainHubID), key, payload)
		if err != nil {
			continue
		}
		if _, err := p.Sim.SubmitPacket(wire.EncodePacket(pkt), p.NodeID, p.MainHubID); err != nil {
			continue
		}
		p.inflight++
		if p.Metrics != nil {
			p.Metrics.RecordCapsuleRequest("fulfilled")
		}
	}
}

// NoteCapsuleDelivered decrements the in-flight sync counter when a
// requested capsule arrives, freeing budget for the next poll cycle.
func (p *Poller) NoteCapsuleDelivered() {
	if p.inflight > 0 {
		p.inflight--
	}
}

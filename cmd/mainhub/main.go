// Command mainhub runs a main hub: the authoritative capsule generator
// mini hubs query across a simulated lossy link.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/capsulemesh/hub/internal/capcrypto"
	"github.com/capsulemesh/hub/internal/capstore"
	"github.com/capsulemesh/hub/internal/config"
	"github.com/capsulemesh/hub/internal/gossip"
	"github.com/capsulemesh/hub/internal/mainhub"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/observability"
)

// staticKnowledgeBase answers queries from a JSON question->answer map
// loaded at startup, standing in for whatever external oracle a real
// deployment would point the main hub at.
type staticKnowledgeBase struct {
	answers map[string]string
}

func loadKnowledgeBase(path string) (*staticKnowledgeBase, error) {
	kb := &staticKnowledgeBase{answers: make(map[string]string)}
	if path == "" {
		return kb, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	if err := json.Unmarshal(data, &kb.answers); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	return kb, nil
}

var errNoAnswer = errors.New("mainhub: no answer available for question")

func (kb *staticKnowledgeBase) Answer(ctx context.Context, question string) (string, error) {
	if answer, ok := kb.answers[question]; ok {
		return answer, nil
	}
	return "", errNoAnswer
}

func main() {
	nodeID := flag.String("node-id", "main-1", "this node's identifier")
	knownPeers := flag.String("known-peers", "mini-1", "comma-separated list of mini hub peer ids")
	knowledgeFile := flag.String("knowledge-file", "", "path to a JSON question->answer map")
	trustFile := flag.String("trust-file", "", "path to a JSON file with peer keys and trusted sources")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9092", "observability server address")
	flag.Parse()

	logger := observability.NewLogger("capsulemesh-mainhub", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "capsulemesh-mainhub"); err == nil {
		defer shutdown(context.Background())
	} else {
		logger.Error(err, "tracing init failed, continuing without it")
	}

	peers := splitNonEmpty(*knownPeers, ',')

	cfg := config.DefaultConfig(*nodeID)
	cfg.Role = "mainhub"
	cfg.KnownPeers = peers
	cfg.LoadFromEnv()

	privKey, pubKey, err := capcrypto.LoadOrCreateEd25519("", "")
	if err != nil {
		logger.Fatal(err, "failed to load node identity")
	}

	identity := capcrypto.NewIdentity(*nodeID, privKey)
	identity.TrustSource(*nodeID, pubKey)
	if *trustFile != "" {
		tf, err := config.LoadTrustFile(*trustFile)
		if err != nil {
			logger.Fatal(err, "failed to load trust file")
		}
		for _, pk := range tf.PeerKeys {
			key, err := pk.Decode()
			if err != nil {
				logger.Fatal(err, "invalid peer key")
			}
			identity.SetStaticAEADKey(pk.PeerID, key)
		}
		for _, ts := range tf.TrustedSources {
			vk, err := capcrypto.DecodeVerifyKey(ts.VerifyKeyB64)
			if err != nil {
				logger.Fatal(err, "invalid trusted source verify key")
			}
			identity.TrustSource(ts.SourceID, vk)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
		logger.Fatal(err, "failed to create store directory")
	}
	store, err := capstore.Open(cfg.StorePath, *nodeID, privKey)
	if err != nil {
		logger.Fatal(err, "failed to open capsule store")
	}
	defer store.Close()

	kb, err := loadKnowledgeBase(*knowledgeFile)
	if err != nil {
		logger.Fatal(err, "failed to load knowledge base")
	}

	sim := netsim.NewSimulator(cfg.NetSim, metrics)

	hub := mainhub.New(*nodeID, peers, store, sim, identity, kb.Answer)
	hub.DefaultTTL = cfg.DefaultTTLSeconds
	hub.Logger = logger
	hub.Metrics = metrics
	sim.RegisterEndpoint(*nodeID, hub.Endpoint())

	health.RegisterCheck("keystore", observability.KeystoreCheck(true))
	health.RegisterCheck("database", observability.DatabaseCheck(cfg.StorePath))
	health.RegisterCheck("link_simulator", observability.LinkSimulatorCheck(func() bool { return false }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.RunSweeper(ctx, cfg.SweepInterval, func(removed int64, err error) {
		if err != nil {
			logger.Error(err, "sweep failed")
			return
		}
		if removed > 0 {
			metrics.RecordCapsulesExpired(removed)
		}
	})

	broadcaster := &gossip.Broadcaster{
		NodeID:   *nodeID,
		Peers:    peers,
		Store:    store,
		Sim:      sim,
		Identity: identity,
		Metrics:  metrics,
		Logger:   logger,
	}
	go broadcaster.Run(ctx, cfg.TManifest)

	go startObservabilityServer(*metricsAddr, metrics, health, logger)

	logger.Info(fmt.Sprintf("main hub %s running, serving peers %v", *nodeID, peers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
	cancel()
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}

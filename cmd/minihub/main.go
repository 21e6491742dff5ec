// Command minihub runs a mini hub: a query-serving cache and forwarder
// sitting in front of a main hub across a simulated lossy link.
package main

import (
	"bufio"
	"context"
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
	"github.com/capsulemesh/hub/internal/minihub"
	"github.com/capsulemesh/hub/internal/netsim"
	"github.com/capsulemesh/hub/internal/observability"
	"github.com/capsulemesh/hub/internal/queue"
)

func main() {
	nodeID := flag.String("node-id", "mini-1", "this node's identifier")
	mainHubID := flag.String("main-hub-id", "main-1", "the main hub this node queries")
	trustFile := flag.String("trust-file", "", "path to a JSON file with peer keys and trusted sources")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9091", "observability server address")
	flag.Parse()

	logger := observability.NewLogger("capsulemesh-minihub", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "capsulemesh-minihub"); err == nil {
		defer shutdown(context.Background())
	} else {
		logger.Error(err, "tracing init failed, continuing without it")
	}

	cfg := config.DefaultConfig(*nodeID)
	cfg.Role = "minihub"
	cfg.MainHubID = *mainHubID
	cfg.KnownPeers = []string{*mainHubID}
	cfg.LoadFromEnv()

	privKey, pubKey, err := capcrypto.LoadOrCreateEd25519("", "")
	if err != nil {
		logger.Fatal(err, "failed to load node identity")
	}
	_ = pubKey

	identity := capcrypto.NewIdentity(*nodeID, privKey)
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

	q, err := queue.Open(cfg.QueuePath)
	if err != nil {
		logger.Fatal(err, "failed to open retransmission queue")
	}
	defer q.Close()

	sim := netsim.NewSimulator(cfg.NetSim, metrics)

	hub := minihub.New(*nodeID, *mainHubID, store, q, sim, identity)
	hub.TReply = cfg.TReply
	hub.Logger = logger
	hub.Metrics = metrics
	sim.RegisterEndpoint(*nodeID, hub.Endpoint())

	health.RegisterCheck("keystore", observability.KeystoreCheck(true))
	health.RegisterCheck("database", observability.DatabaseCheck(cfg.StorePath))
	health.RegisterCheck("link_simulator", observability.LinkSimulatorCheck(func() bool { return false }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.RunRetransmitWorker(ctx, cfg.RetransmitTick)
	go store.RunSweeper(ctx, cfg.SweepInterval, func(removed int64, err error) {
		if err != nil {
			logger.Error(err, "sweep failed")
			return
		}
		if removed > 0 {
			metrics.RecordCapsulesExpired(removed)
		}
	})

	poller := &gossip.Poller{
		NodeID:      *nodeID,
		MainHubID:   *mainHubID,
		Source:      hub,
		Store:       store,
		Sim:         sim,
		Identity:    identity,
		MaxInflight: cfg.MaxInflightSync,
		Metrics:     metrics,
		Logger:      logger,
	}
	go poller.Run(ctx, cfg.TGossip)
	go relayCapsuleDeliveries(ctx, hub, poller)

	go startObservabilityServer(*metricsAddr, metrics, health, logger)

	go runQueryREPL(ctx, hub, logger)

	logger.Info(fmt.Sprintf("mini hub %s running, querying %s", *nodeID, *mainHubID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
	cancel()
}

// relayCapsuleDeliveries watches the hub's event stream and frees one unit
// of the poller's inflight budget for every CAPSULE_CACHED event, whether
// the capsule arrived via a CAPSULE_REQUEST round trip or as a query
// reply, so the next sync cycle can request more.
func relayCapsuleDeliveries(ctx context.Context, hub *minihub.Hub, poller *gossip.Poller) {
	id, ch := hub.Events().Subscribe(16)
	defer hub.Events().Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == minihub.EventCapsuleCached {
				poller.NoteCapsuleDelivered()
			}
		}
	}
}

func runQueryREPL(ctx context.Context, hub *minihub.Hub, logger *observability.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		question := scanner.Text()
		if question == "" {
			continue
		}
		result, err := hub.Query(ctx, "cli-user", question, "")
		if err != nil {
			logger.Error(err, "query failed")
			continue
		}
		switch result.Kind {
		case minihub.KindCacheHit, minihub.KindFresh:
			fmt.Printf("%s\n", result.Capsule.AnswerText)
		case minihub.KindQueued:
			fmt.Printf("queued, packet_id=%s\n", result.PacketID)
		case minihub.KindUnavailable:
			fmt.Printf("unavailable: %s\n", result.Reason)
		}
	}
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


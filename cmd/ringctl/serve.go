package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/ringcoord/internal/adminapi"
	"github.com/cuemby/ringcoord/internal/config"
	"github.com/cuemby/ringcoord/internal/control"
	"github.com/cuemby/ringcoord/internal/events"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/localstate"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/metrics"
	"github.com/cuemby/ringcoord/internal/phi"
	"github.com/cuemby/ringcoord/internal/read"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
	"github.com/cuemby/ringcoord/internal/write"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this process as a ring member",
	Long: `serve assembles and starts a full node: gossip membership and
failure detection, the storage-service controller, the write and read
coordinators, the local-state store, a Prometheus metrics endpoint and
the administrative HTTP surface ring/node/gossip subcommands talk to.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file (defaults built in if omitted)")
	serveCmd.Flags().String("cluster-name", "ringcoord", "Cluster name, gates gossip digest exchange")
	serveCmd.Flags().String("advertise-addr", "127.0.0.1:7000", "Address other nodes dial to reach this one")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7000", "Local address the gRPC transport listens on")
	serveCmd.Flags().String("admin-addr", "127.0.0.1:8500", "Address the admin/metrics HTTP surface listens on")
	serveCmd.Flags().StringSlice("seeds", nil, "Comma-separated seed addresses (defaults to self, for a single-node cluster)")
	serveCmd.Flags().String("dc", "dc1", "Local datacenter name")
	serveCmd.Flags().String("rack", "rack1", "Local rack name")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	clusterName, _ := cmd.Flags().GetString("cluster-name")
	advertiseAddr, _ := cmd.Flags().GetString("advertise-addr")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	seeds, _ := cmd.Flags().GetStringSlice("seeds")
	dc, _ := cmd.Flags().GetString("dc")
	rack, _ := cmd.Flags().GetString("rack")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if len(seeds) == 0 {
		seeds = []string{advertiseAddr}
	}

	store, err := localstate.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	defer store.Close()

	rec, hadRec, err := store.LoadLocal()
	if err != nil {
		return fmt.Errorf("load local state: %w", err)
	}
	if !hadRec {
		rec = localstate.Record{
			ClusterName:     clusterName,
			PartitionerName: cfg.Partitioner.Name,
			HostID:          uuid.New(),
			Generation:      time.Now().Unix(),
			BootstrapState:  localstate.BootstrapNeeded,
			Datacenter:      dc,
			Rack:            rack,
		}
	} else {
		rec.Generation = time.Now().Unix()
	}
	if err := store.SaveLocal(rec); err != nil {
		return fmt.Errorf("save local state: %w", err)
	}

	quarantine, err := store.LoadQuarantine()
	if err != nil {
		return fmt.Errorf("load quarantine: %w", err)
	}

	tp, err := token.New(cfg.Partitioner.Name, token.Config{
		ShardCount: cfg.Partitioner.ShardCount,
		IgnoreMSB:  cfg.Partitioner.IgnoreMSB,
	})
	if err != nil {
		return fmt.Errorf("build partitioner: %w", err)
	}

	tm := ring.New(ring.SimpleStrategy{RF: 3})
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	grpcTransport, err := transport.NewGRPCTransport(advertiseAddr, bindAddr)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer grpcTransport.Stop()

	fd := phi.New(8)
	gcfg := gossip.Config{
		ClusterName:     clusterName,
		PartitionerName: cfg.Partitioner.Name,
		LocalAddress:    advertiseAddr,
		Seeds:           seeds,
		RingDelay:       cfg.Timeouts.RingDelay(),
	}
	g := gossip.New(gcfg, rec.Generation, fd, broker, grpcTransport)
	g.SetMembershipSource(ringMembership{tm})
	for ep, until := range quarantine {
		g.SeedQuarantine(ep, until)
	}
	g.RegisterHandlers()

	snitch := write.SingleDatacenterSnitch{Name: dc}
	hints := write.NewMemoryHintStore()

	ctrlCfg := control.Config{
		LocalAddress:            advertiseAddr,
		LocalDatacenter:         dc,
		RingDelay:               cfg.Timeouts.RingDelay(),
		BatchlogTimeout:         cfg.Timeouts.WriteTimeout(),
		NumTokens:               cfg.Bootstrap.NumTokens,
		ConsistentRangeMovement: cfg.Bootstrap.ConsistentRangemovement,
		OverrideDecommission:    cfg.Bootstrap.OverrideDecommission,
	}
	ctrl := control.New(ctrlCfg, tm, g, broker, grpcTransport, control.NoopStreamer{}, hints, tp, snitch)
	ctrl.RegisterHandlers()

	writeCoord := write.New(write.Config{
		LocalDatacenter:     dc,
		WriteTimeout:        cfg.Timeouts.WriteTimeout(),
		CounterWriteTimeout: cfg.Timeouts.CounterWriteTimeout(),
		MaxBackgroundBytes:  64 << 20,
	}, tm, g, snitch, grpcTransport, hints)
	writeCoord.RegisterHandlers()

	// The read coordinator is a client-facing entry point a deployment
	// embedding this core drives directly (it issues outbound reads, it
	// doesn't register any inbound handler); ringctl itself only exposes
	// the lifecycle/admin surface, so it's assembled here to prove the
	// wiring and otherwise left to its own package tests.
	_ = read.New(read.Config{
		LocalDatacenter: dc,
		ReadTimeout:     cfg.Timeouts.ReadTimeout(),
	}, tm, g, snitch, grpcTransport, backgroundRepairWriter{wc: writeCoord, tp: tp})

	collector := metrics.NewCollector(ctrl)
	collector.Start()
	defer collector.Stop()

	admin := adminapi.NewServer(ctrl, g)
	mux := http.NewServeMux()
	mux.Handle("/v1/", admin.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	httpServer := &http.Server{Addr: adminAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Error().Err(err).Msg("admin http server stopped")
		}
	}()

	g.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.AnnounceDelay()+time.Second)
		defer cancel()
		g.Stop(shutdownCtx)
	}()
	writeCoord.Start()
	defer writeCoord.Stop()

	fmt.Printf("ringctl serving %s (admin: http://%s, gossip seeds: %s)\n", advertiseAddr, adminAddr, strings.Join(seeds, ","))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return store.SaveBootstrapState(rec.BootstrapState)
}

// ringMembership adapts ring.TokenMetadata to gossip.MembershipSource.
type ringMembership struct {
	tm *ring.TokenMetadata
}

func (r ringMembership) IsRingMember(endpoint string) bool {
	return len(r.tm.Current().TokensOf(endpoint)) > 0
}

// backgroundRepairWriter adapts write.Coordinator to read.RepairWriter: a
// read-repair write is best-effort and must never block the read it was
// triggered by, so it is dispatched on its own goroutine at CL=ANY.
type backgroundRepairWriter struct {
	wc *write.Coordinator
	tp token.Partitioner
}

func (r backgroundRepairWriter) Repair(ctx context.Context, endpoint, keyspace, table string, key []byte, row read.Row) {
	go func() {
		_ = r.wc.Mutate(context.Background(), keyspace, r.tp.TokenOf(key), write.Mutation{
			Keyspace:  keyspace,
			Table:     table,
			Key:       key,
			Columns:   row.Columns,
			Timestamp: row.Timestamp,
		}, write.CLAny)
	}()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/internal/contract"
	"github.com/rmacdonaldsmith/retasync-go/internal/fanout"
	"github.com/rmacdonaldsmith/retasync-go/internal/httpapi"
	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
	"github.com/rmacdonaldsmith/retasync-go/internal/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/internal/meshnode"
	"github.com/rmacdonaldsmith/retasync-go/internal/store"
	meshbridgepkg "github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

func newServeCommand() *cobra.Command {
	var showHealth bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, logs, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if showHealth {
				return runHealthCheck(cmd, cfg, logger, logs)
			}
			return runServe(cmd.Context(), cfg, logger, logs)
		},
	}

	cmd.Flags().BoolVar(&showHealth, "health", false, "Start the node, print its health and exit")

	return cmd
}

// daemon is one assembled node: store, bridge, gate, hub, orchestrator
// and HTTP surface.
type daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	store    *store.SQLiteStore
	bridge   meshbridgepkg.Bridge
	loopback *meshbridge.LoopbackServer
	hub      *fanout.Hub
	node     *meshnode.Node
	server   *httpapi.Server
}

// newDaemon builds every component from cfg. Nothing is started yet.
func newDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger, logs *logging.Buffer) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st

	if err := d.openBridge(); err != nil {
		_ = st.Close()
		return nil, err
	}

	gate := acl.NewGate(st, cfg.ACL.Mode, logger)
	d.hub = fanout.NewHub(fanout.Config{BufferSize: cfg.Stream.BufferSize}, logger)

	nodeCfg := meshnode.NewConfig(cfg.Node.Identity, cfg.Node.DefaultDestination).
		WithDefaultTTL(cfg.Node.DefaultTTL).
		WithPreferLink(cfg.Mesh.PreferLink).
		WithChunkSize(cfg.Transfer.ChunkSize).
		WithRetention(storepkg.RetentionPolicy{
			Jobs:      cfg.Retention.Jobs,
			Cache:     cfg.Retention.Cache,
			Transfers: cfg.Retention.Transfers,
		})
	nodeCfg.MaxTransferSize = cfg.Transfer.MaxSize
	nodeCfg.SweepInterval = cfg.Retention.SweepInterval

	node, err := meshnode.New(nodeCfg, meshnode.Components{
		Store:  st,
		Bridge: d.bridge,
		Gate:   gate,
		Hub:    d.hub,
		Logger: logger,
	})
	if err != nil {
		d.closeAll()
		return nil, fmt.Errorf("failed to create mesh node: %w", err)
	}
	d.node = node

	doc, err := contract.Load(cfg.Contract.Path)
	if err != nil {
		d.closeAll()
		return nil, err
	}

	d.server = httpapi.NewServer(httpapi.Deps{
		Node:     node,
		Store:    st,
		Hub:      d.hub,
		Logs:     logs,
		Contract: doc,
		Logger:   logger,
	}, httpapi.Config{
		Bind:              cfg.HTTP.Bind,
		AuthToken:         cfg.HTTP.AuthToken,
		SubmitRate:        cfg.HTTP.SubmitRate,
		SubmitBurst:       cfg.HTTP.SubmitBurst,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		Version:           appVersion,
	})

	return d, nil
}

// openBridge picks the mesh transport named by mesh.mode.
func (d *daemon) openBridge() error {
	mesh := d.cfg.Mesh
	switch mesh.Mode {
	case config.MeshModeMemory:
		d.bridge = meshbridge.NewMemoryBridge(meshbridge.MemoryOptions{
			PreferLink:    mesh.PreferLink,
			LinkUp:        true,
			PropagationUp: true,
			Responder:     meshbridge.AcceptResponder,
		})
		return nil

	case config.MeshModeLoopback:
		d.loopback = meshbridge.ServeLoopback(meshbridge.NewLoopbackDaemon(meshbridge.LoopbackOptions{
			LinkUp:        true,
			PropagationUp: true,
			Responder:     meshbridge.AcceptResponder,
		}))
		bridgeCfg := d.loopback.BridgeConfig(mesh.PreferLink)
		bridgeCfg.LinkProbeInterval = mesh.LinkProbeInterval
		bridgeCfg.LinkProbeTimeout = mesh.LinkProbeTimeout
		bridgeCfg.CallTimeout = mesh.CallTimeout
		b, err := meshbridge.NewDaemonBridge(&bridgeCfg, d.logger)
		if err != nil {
			d.loopback.Stop()
			return fmt.Errorf("failed to create loopback bridge: %w", err)
		}
		d.bridge = b
		return nil

	default:
		b, err := meshbridge.NewDaemonBridge(&meshbridge.Config{
			Endpoint:          mesh.Endpoint,
			PreferLink:        mesh.PreferLink,
			LinkProbeInterval: mesh.LinkProbeInterval,
			LinkProbeTimeout:  mesh.LinkProbeTimeout,
			CallTimeout:       mesh.CallTimeout,
		}, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create mesh bridge: %w", err)
		}
		d.bridge = b
		return nil
	}
}

// closeAll releases everything in reverse order. The node closes the
// bridge; without a node the bridge is closed directly.
func (d *daemon) closeAll() {
	if d.node != nil {
		if err := d.node.Close(); err != nil {
			d.logger.Warn("error closing mesh node", zap.Error(err))
		}
	} else if d.bridge != nil {
		_ = d.bridge.Close()
	}
	if d.loopback != nil {
		d.loopback.Stop()
	}
	if d.hub != nil {
		d.hub.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("error closing store", zap.Error(err))
		}
	}
}

// shutdown stops accepting requests, then drains the node, bounded by ctx.
func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := d.node.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	d.closeAll()
	return errors.Join(errs...)
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, logs *logging.Buffer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting "+appName,
		zap.String("version", appVersion),
		zap.String("identity", cfg.Node.Identity),
		zap.String("mesh_mode", cfg.Mesh.Mode),
		zap.String("bind", cfg.HTTP.Bind),
		zap.Bool("auth", cfg.AuthEnabled()))

	d, err := newDaemon(ctx, cfg, logger, logs)
	if err != nil {
		return err
	}
	if err := d.node.Start(ctx); err != nil {
		d.closeAll()
		return fmt.Errorf("failed to start mesh node: %w", err)
	}
	logStartupHealth(ctx, d)

	ln, err := net.Listen("tcp", cfg.HTTP.Bind)
	if err != nil {
		_ = d.shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Bind, err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := d.shutdown(shutdownCtx); err != nil {
		logger.Warn("error during graceful stop", zap.Error(err))
	}
	logger.Info(appName+" stopped", zap.String("identity", cfg.Node.Identity))
	return nil
}

// logStartupHealth logs the node's health once after start.
func logStartupHealth(ctx context.Context, d *daemon) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := d.node.GetHealth(ctx)
	if err != nil {
		d.logger.Warn("could not get health status", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Bool("healthy", health.Healthy),
		zap.Bool("ready", health.Ready),
		zap.Bool("store_healthy", health.StoreHealthy),
		zap.String("link_state", health.LinkState.String()),
	}
	if !health.Ready || !health.Healthy {
		d.logger.Warn("node health degraded", append(fields, zap.String("message", health.Message))...)
		return
	}
	d.logger.Info("node health", fields...)
}

// runHealthCheck starts the node, prints its health and exits non-zero
// when it is not healthy.
func runHealthCheck(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, logs *logging.Buffer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := newDaemon(ctx, cfg, logger, logs)
	if err != nil {
		return err
	}
	defer d.closeAll()
	if err := d.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mesh node: %w", err)
	}

	health, err := d.node.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get health status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Health Status:\n", appName)
	fmt.Fprintf(out, "  Overall: %s\n", healthStatus(health.Healthy))
	fmt.Fprintf(out, "  Ready: %s\n", healthStatus(health.Ready))
	fmt.Fprintf(out, "  Store: %s\n", healthStatus(health.StoreHealthy))
	fmt.Fprintf(out, "  Link: %s\n", health.LinkState)
	if health.Message != "" {
		fmt.Fprintf(out, "  Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return errors.New("node is not healthy")
	}
	return nil
}

func healthStatus(ok bool) string {
	if ok {
		return "✅ Healthy"
	}
	return "❌ Unhealthy"
}

// File: cmd/hioload-echo/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/bootstrap"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/config"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logging"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	configPath  string
	host        string
	port        int
	loops       int
	selection   string
	metricsAddr string
	logLevel    string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the line echo server",
		Long: `Run a TCP server that echoes every received line.

Sending "bye" closes the connection. SIGHUP reloads the configuration file
and applies the new log level; SIGINT or SIGTERM shut the server down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, f.configPath)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fl.StringVar(&f.host, "host", "", "listen host (empty for all interfaces)")
	fl.IntVarP(&f.port, "port", "p", 0, "listen port (0 picks a free port)")
	fl.IntVar(&f.loops, "loops", 0, "number of I/O event loops (0 = one per CPU)")
	fl.StringVar(&f.selection, "selection", "", "loop selection: round-robin, random or weighted")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /debug/state on this address")
	fl.StringVar(&f.logLevel, "log-level", "", "log level")
	return cmd
}

// loadServeConfig layers explicitly set flags over the configuration file
// over the defaults.
func loadServeConfig(cmd *cobra.Command, f *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	fl := cmd.Flags()
	if fl.Changed("host") {
		cfg.Server.Host = f.host
	}
	if fl.Changed("port") {
		cfg.Server.Port = f.port
	}
	if fl.Changed("loops") {
		cfg.Server.NumLoops = f.loops
	}
	if fl.Changed("selection") {
		cfg.Server.Selection = f.selection
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, cfg *config.Config, configPath string) error {
	if err := logging.Configure(cfg.LoggingConfig()); err != nil {
		return err
	}
	log := logging.For("hioload-echo")
	metrics := control.Default()

	chCfg := cfg.ChannelConfig()
	chCfg.Metrics = metrics
	server := bootstrap.NewServer().
		NumLoops(cfg.Server.NumLoops).
		Metrics(metrics).
		ChannelFactory(channel.Factory(chCfg)).
		ChildInitializer(lineInitializer(cfg.Server.MaxLineLength, metrics,
			func() api.Handler { return newEchoHandler() }))
	if cfg.Strategy() == bootstrap.Weighted {
		server.Weights(cfg.Server.Weights)
	} else {
		server.Selection(cfg.Strategy())
	}

	bound := make(chan error, 1)
	var listener api.Channel
	server.Bind(cfg.Address(), func(ch api.Channel, err error) {
		listener = ch
		bound <- err
	})
	if err := <-bound; err != nil {
		_ = server.Shutdown(context.Background())
		return fmt.Errorf("bind %s: %w", cfg.Address(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", listener.LocalAddress())

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("server.connections", func() any { return len(server.Children()) })
	probes.RegisterProbe("server.address", func() any { return listener.LocalAddress().String() })

	var httpServer *http.Server
	if cfg.Metrics.Addr != "" {
		srv, err := startHTTP(cfg.Metrics.Addr, metrics, probes)
		if err != nil {
			_ = server.Shutdown(context.Background())
			return err
		}
		defer srv.Close()
		httpServer = srv
		fmt.Fprintf(cmd.OutOrStdout(), "metrics on http://%s/metrics\n", srv.Addr)
	}

	var reload control.ReloadHooks
	reload.Register(func(v any) error {
		return logging.SetLevel(v.(*config.Config).Log.Level)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if configPath == "" {
				log.Info("SIGHUP ignored: no configuration file")
				continue
			}
			next, err := config.Load(configPath)
			if err == nil {
				err = reload.Trigger(next)
			}
			if err != nil {
				log.WithError(err).Error("configuration reload failed")
				continue
			}
			log.WithField("level", next.Log.Level).Info("configuration reloaded")
		case <-ctx.Done():
			log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if httpServer != nil {
				_ = httpServer.Shutdown(sctx)
			}
			return server.Shutdown(sctx)
		}
	}
}

// startHTTP serves metrics and debug probes until the returned server is
// closed. Addr is rewritten to the bound address.
func startHTTP(addr string, metrics *control.Metrics, probes *control.DebugProbes) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/debug/state", probes)
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.For("hioload-echo").WithError(err).Error("metrics server stopped")
		}
	}()
	return srv, nil
}

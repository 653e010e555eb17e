// Package main provides the CLI entry point for udsrelay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hollowpath/udsrelay/internal/config"
	"github.com/hollowpath/udsrelay/internal/listener"
	"github.com/hollowpath/udsrelay/internal/logging"
	"github.com/hollowpath/udsrelay/internal/relay"
	"github.com/hollowpath/udsrelay/internal/wizard"
)

// Version is set at build time.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "udsrelay",
		Short: "udsrelay - obfuscated TCP tunnel relay endpoint",
		Long: `udsrelay relays TCP traffic between an inbound transport, an
outbound transport, and a remote peer, exchanging an obfuscated
handshake on each leg before data starts flowing.

Each configured endpoint accepts (or dials) a pair of transports —
tcp, ws, or quic — pairs them into one relay connection, and forwards
bytes between whichever leg the inbound and outbound wires need.`,
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dialCmd())
	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept inbound and outbound legs and relay traffic",
		Long: `Starts one accept-role listener per configured endpoint. Each
listener pairs two accepted connections into one relay connection,
runs the obfuscated handshake on both, and forwards bytes to the
configured remote target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Agent)

			var servers []*listener.Server
			for _, ep := range cfg.Endpoints {
				ep := ep
				srv := listener.New(ep, cfg.RateLimit, logger, func(c *relay.Connection) {
					logger.Debug("connection accepted", logging.KeyConnID, c.ID(), "endpoint", ep.Name)
				})
				if err := srv.Start(); err != nil {
					for _, s := range servers {
						s.Stop()
					}
					return fmt.Errorf("failed to start endpoint %s: %w", ep.Name, err)
				}
				servers = append(servers, srv)
			}

			var metricsSrv *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed", logging.KeyError, err)
					}
				}()
				logger.Info("metrics endpoint listening", "address", cfg.Metrics.Address)
			}

			logger.Info("udsrelay serving", "endpoints", len(cfg.Endpoints))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig.String())

			for _, s := range servers {
				s.Stop()
			}
			if metricsSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsSrv.Shutdown(ctx)
			}

			logger.Info("udsrelay stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func dialCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Dial outbound and inbound legs and relay traffic",
		Long: `Starts one connect-role dialer per configured endpoint. Each
dialer dials both legs, runs the client-role handshake on each, and
redials whenever a connection is disposed, backing off exponentially
between failed dial attempts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Agent)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var wg sync.WaitGroup
			for _, ep := range cfg.Endpoints {
				ep := ep
				dialer := listener.NewDialer(ep, logger)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := dialer.Run(ctx); err != nil && err != context.Canceled {
						logger.Error("dialer stopped", "endpoint", ep.Name, logging.KeyError, err)
					}
				}()
			}

			logger.Info("udsrelay dialing", "endpoints", len(cfg.Endpoints))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig.String())

			cancel()
			wg.Wait()

			logger.Info("udsrelay stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Interactively build a configuration file",
		Long: `Runs an interactive setup wizard that walks through endpoint
listen addresses, transmission kinds, and remote targets, then writes
the resulting configuration to disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wizard.Interactive() {
				return fmt.Errorf("configure requires an interactive terminal; write a config file by hand and pass it with --config instead")
			}
			_, err := wizard.New().Run()
			return err
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the udsrelay version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("udsrelay %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
			return nil
		},
	}
}

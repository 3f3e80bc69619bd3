// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/vault/vms/vaultvm"
	"github.com/luxfi/vault/vms/vaultvm/api"
	"github.com/luxfi/vault/vms/vaultvm/config"
	"github.com/luxfi/vault/vms/vaultvm/metrics"
	"github.com/luxfi/vault/vms/vaultvm/state"
)

const (
	// APIPath serves the vault JSON-RPC service.
	APIPath = "/ext/vault"
	// MetricsPath serves the prometheus registry.
	MetricsPath = "/metrics"

	shutdownTimeout = 5 * time.Second
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Boots a hub and its spokes in process and serves their API",
		RunE:  runFunc,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	flags, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	var cfgBytes []byte
	if flags.ConfigPath != "" {
		cfgBytes, err = os.ReadFile(flags.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := config.Parse(cfgBytes)
	if err != nil {
		return err
	}

	genesisBytes, err := os.ReadFile(flags.GenesisPath)
	if err != nil {
		return fmt.Errorf("failed to read genesis: %w", err)
	}
	genesis, err := vaultvm.ParseGenesis(genesisBytes)
	if err != nil {
		return err
	}

	logger := log.NewLogger("vaultd")
	registry := metric.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	network, err := vaultvm.New(cfg, genesis, nil, m, logger)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", flags.HTTPAddr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Serve(ctx, listener, &ServerConfig{
		Network:        network,
		Interceptor:    m,
		Gatherer:       registry,
		AllowedOrigins: flags.AllowedOrigins,
		RelayInterval:  flags.RelayInterval,
		BlockInterval:  flags.BlockInterval,
	}, logger)
}

// ServerConfig is what [Serve] serves.
type ServerConfig struct {
	Network     *vaultvm.Network
	Interceptor metrics.APIInterceptor
	Gatherer    metric.Gatherer
	// AllowedOrigins may make cross-origin calls.
	AllowedOrigins []string
	// RelayInterval is the time between relayer passes.
	RelayInterval time.Duration
	// BlockInterval is the time between height increments. Per-block mint
	// and redeem limits reset at every new height.
	BlockInterval time.Duration
}

// NewRouter routes the vault API and the metrics of the gatherer.
func NewRouter(cfg *ServerConfig, logger log.Logger) (http.Handler, error) {
	handler, err := api.NewHandler(cfg.Network, cfg.Interceptor, logger)
	if err != nil {
		return nil, err
	}
	router := mux.NewRouter()
	router.Handle(APIPath, handler).Methods(http.MethodPost)
	router.Handle(MetricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
	}).Handler(router), nil
}

// Serve serves the API on [listener] and relays packets until [ctx] is
// done.
func Serve(ctx context.Context, listener net.Listener, cfg *ServerConfig, logger log.Logger) error {
	router, err := NewRouter(cfg, logger)
	if err != nil {
		_ = listener.Close()
		return err
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("serving vault API",
			log.String("addr", listener.Addr().String()),
		)
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return cfg.Network.Relayer.Run(groupCtx, cfg.RelayInterval)
	})
	group.Go(func() error {
		advanceBlocks(groupCtx, cfg.Network.Hub.Chain.Clock(), cfg.BlockInterval)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("vault API stopped", log.Err(err))
	return err
}

// advanceBlocks moves [clock] to the next height every [interval] until
// [ctx] is done. Every chain of a network shares the clock.
func advanceBlocks(ctx context.Context, clock *state.Clock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clock.AdvanceBlock(1)
		}
	}
}

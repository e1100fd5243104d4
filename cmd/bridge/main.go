// Command bridge is the composition root: it loads configuration from
// flags and environment, wires the chain registry, external SDK client,
// session bridge, and HTTP server together, and installs a shutdown hook
// that stops the listener before ending any active session.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabstir/chainbridge/pkg/chainregistry"
	"github.com/fabstir/chainbridge/pkg/config"
	"github.com/fabstir/chainbridge/pkg/httpserver"
	"github.com/fabstir/chainbridge/pkg/session"
	"github.com/fabstir/chainbridge/pkg/session/sdkclient"
	"github.com/fabstir/chainbridge/pkg/telemetry"
)

func main() {
	os.Exit(run())
}

// run performs the full composition-root lifecycle and returns the process
// exit code: 0 on clean shutdown, 1 on fatal config or initialization
// failure.
func run() int {
	fs := flag.NewFlagSet("bridge", flag.ContinueOnError)
	flags, err := config.ParseFlags(fs, os.Args[1:])
	if err != nil {
		log.Printf("bridge: invalid flags: %v", err)
		return 1
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Printf("bridge: config error: %v", err)
		return 1
	}

	settings := telemetry.DefaultSettings()
	var otlpProvider *telemetry.Provider
	if cfg.OTLPEndpoint != "" {
		provider, provErr := telemetry.NewProvider(context.Background(), cfg.OTLPEndpoint, "chainbridge")
		if provErr != nil {
			log.Printf("bridge: telemetry disabled, failed to start OTLP exporter: %v", provErr)
		} else {
			otlpProvider = provider
			settings = settings.WithEnabled(true).WithTracer(provider.Tracer())
			log.Printf("bridge: telemetry enabled, exporting to %s", cfg.OTLPEndpoint)
		}
	}

	registry := chainregistry.New()
	newSDK := sdkclient.NewFactory(cfg.HostAddress)
	sm := sdkclient.NewSessionManager(cfg.HostAddress)

	bridge := session.New(session.Config{
		PrivateKey:    cfg.PrivateKey,
		ModelName:     cfg.ModelName,
		ChainId:       cfg.ChainId,
		HostAddress:   cfg.HostAddress,
		DepositAmount: cfg.DepositAmount,
		PricePerToken: cfg.PricePerToken,
		ProofInterval: cfg.ProofInterval,
		Duration:      cfg.Duration,
	}, registry, newSDK, sm, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	initErr := bridge.Initialize(ctx)
	cancel()
	if initErr != nil {
		log.Printf("bridge: session initialization failed: %v", initErr)
		return 1
	}

	srv := httpserver.New(httpserver.Config{
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	}, bridge, settings)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("bridge: listening on :%d (model=%s chain=%d)", cfg.Port, cfg.ModelName, cfg.ChainId)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("bridge: server error: %v", err)
			return 1
		}
	case sig := <-sigCh:
		log.Printf("bridge: received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("bridge: server shutdown error: %v", err)
	}
	if err := bridge.Shutdown(shutdownCtx); err != nil {
		log.Printf("bridge: session shutdown error: %v", err)
	}
	if err := otlpProvider.Shutdown(shutdownCtx); err != nil {
		log.Printf("bridge: telemetry shutdown error: %v", err)
	}
	return 0
}

// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 10:02:51 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/handlers"
	"github.com/ternarybob/quaesitor/internal/services/coordinator"
	"github.com/ternarybob/quaesitor/internal/services/proxy"
	"github.com/ternarybob/quaesitor/internal/store"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Quaesitor Coordinator version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover config file if not specified. The coordinator reads
	// its own file first and falls back to the shared worker config.
	if len(configFiles) == 0 {
		if _, err := os.Stat("quaesitor-coordinator.toml"); err == nil {
			configFiles = append(configFiles, "quaesitor-coordinator.toml")
		} else if _, err := os.Stat("quaesitor.toml"); err == nil {
			configFiles = append(configFiles, "quaesitor.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	logger := common.InitLogger(config, "quaesitor-coordinator")

	common.PrintBanner("Quaesitor Coordinator")

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("store", config.Store.Backend).
		Int("proxies", len(config.ProxyEndpoints())).
		Int("workers", len(config.Coordinator.WorkerEndpoints)).
		Msg("Coordinator configuration loaded")

	// Wire the coordination service directly; the coordinator has no
	// browser, no local storage and no event bus
	sharedStore, err := store.NewStore(&config.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create shared store")
	}
	defer sharedStore.Close()

	pool, err := proxy.NewPool(config.ProxyEndpoints())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build proxy pool")
	}

	prober := proxy.NewHTTPProber(
		config.Proxy.ProbeURL,
		common.ParseDurationOr(config.Proxy.ProbeTimeout, 5*time.Second),
	)

	service := coordinator.NewService(config, sharedStore, pool, prober, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := service.Bootstrap(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("Failed to bootstrap shared state")
	}
	cancel()

	sweeper := coordinator.NewSweeper(config.Coordinator.SweepCron, service, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start proxy health sweep")
	}
	defer sweeper.Stop()

	handler := handlers.NewCoordinatorHandler(service, logger)

	mux := http.NewServeMux()

	// Status
	mux.HandleFunc("/health", handler.HealthHandler)              // GET - liveness
	mux.HandleFunc("/status", handler.StatusHandler)              // GET - counters and block registry
	mux.HandleFunc("/current-proxy", handler.CurrentProxyHandler) // GET - resolve the active slot

	// Rotation control
	mux.HandleFunc("/increment-request", handler.IncrementRequestHandler) // POST - count a request, maybe rotate
	mux.HandleFunc("/block-proxy", handler.BlockProxyHandler)             // POST - mark a slot, rotate if active
	mux.HandleFunc("/rotate-proxy", handler.RotateProxyHandler)           // POST - unconditional advance + fan-out

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		logger.Info().Str("address", addr).Msg("Coordinator server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	time.Sleep(100 * time.Millisecond)
	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Coordinator ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Coordinator stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/synapselabs/partnermatch/api"
	"github.com/synapselabs/partnermatch/config"
	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/core/cache"
	"github.com/synapselabs/partnermatch/core/ranking"
	"github.com/synapselabs/partnermatch/metrics"
	"github.com/synapselabs/partnermatch/persistence"
	"github.com/synapselabs/partnermatch/rpc"
)

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", "", "Path to YAML configuration file")
		host       = flag.String("host", "", "Host to listen on (overrides config)")
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		dbType     = flag.String("db", "", "Storage backend: memory, bolt, badger (overrides config)")
		dbPath     = flag.String("path", "", "Storage path (overrides config)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbType != "" {
		cfg.Persistence.Type = persistence.PersistenceType(*dbType)
	}
	if *dbPath != "" {
		cfg.Persistence.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("=== partnermatch server ===")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Host: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Storage: %s\n", cfg.Persistence.Type)
	fmt.Printf("  Path: %s\n", cfg.Persistence.Path)
	fmt.Printf("  Cache: %s\n", cfg.Cache.Backend)
	fmt.Printf("  Feature view: %s\n", cfg.Store.DefaultFeatureView)
	fmt.Println()

	// Create persistence layer
	factory := persistence.NewDefaultFactory()
	persist, err := factory.CreatePersistence(cfg.Persistence)
	if err != nil {
		log.Fatalf("Failed to create persistence: %v", err)
	}
	defer persist.Close()

	// Create serving cache
	var servingCache core.ServingCache
	switch cfg.Cache.Backend {
	case "redis":
		servingCache = cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
	default:
		servingCache = cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}
	defer servingCache.Close()

	// Metrics registry
	m := metrics.NewManager("partnermatch")

	// Create feature store
	store := core.NewFeatureStore(persist, servingCache, core.FeatureStoreOptions{
		MaxBatchSize:   cfg.Store.MaxBatchSize,
		StalenessBound: cfg.Store.StalenessBound,
		Metrics:        m,
	})
	defer store.Close()

	// Restore model registry from persisted versions
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	registry, err := core.NewModelRegistry(startupCtx, persist)
	startupCancel()
	if err != nil {
		log.Fatalf("Failed to restore model registry: %v", err)
	}

	// Create ranking engine and health reporter
	engine := ranking.NewEngine(store, servingCache, registry, cfg.EngineConfig(), m)
	health := core.NewHealthReporter(store, registry, cfg.Store.DefaultFeatureView)

	// Create API server
	serverConfig := api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := api.NewServer(engine, store, registry, health, m, serverConfig)

	rpcCtx, rpcCancel := context.WithCancel(context.Background())
	defer rpcCancel()

	// Start RPC listener
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer(store, health)
		go func() {
			if err := rpcServer.ListenAndServe(rpcCtx, cfg.RPC.Addr); err != nil {
				log.Fatalf("RPC server error: %v", err)
			}
		}()
	}

	// Start HTTP server
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down server...")

	rpcCancel()
	if rpcServer != nil {
		rpcServer.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	fmt.Println("Server stopped gracefully")
}

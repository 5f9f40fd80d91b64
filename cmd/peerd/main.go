package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/wgctrl"

	"peerd/pkg/api"
	"peerd/pkg/auth"
	"peerd/pkg/bird"
	"peerd/pkg/config"
	"peerd/pkg/discovery"
	"peerd/pkg/journal"
	"peerd/pkg/metrics"
	"peerd/pkg/model"
	"peerd/pkg/roster"
	"peerd/pkg/store"
	"peerd/pkg/tunnel"
	"peerd/pkg/version"
)

func main() {
	defaultConfig := os.Getenv("PEERD_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath
	}
	configPath := flag.String("config", defaultConfig, "config file (env PEERD_CONFIG)")
	showVersion := flag.Bool("v", false, "print version and exit")
	once := flag.Bool("once", false, "sync peers, write the BIRD config once and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("peerd version=%s\n", version.String())
		return
	}

	provider, err := config.NewProvider(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := newLogger(provider.Get().Log)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, provider, logger, *once); err != nil {
		logger.Error("peerd failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, provider *config.Provider, logger *zap.Logger, once bool) error {
	cfg := provider.Get()
	logger.Info("starting peerd", zap.String("version", version.String()),
		zap.Int("zones", len(cfg.Zones)), zap.Bool("bird", cfg.Bird != nil))

	var devices tunnel.DeviceLister
	if wg, err := wgctrl.New(); err != nil {
		logger.Warn("wireguard unavailable, interface clauses disabled", zap.Error(err))
	} else {
		defer wg.Close()
		devices = wg
	}
	rost := roster.New(cfg.Zones, tunnel.Factory(devices))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := api.NewEventHub(logger.Named("ws"))
	defer hub.Close()

	observers := []bird.Observer{metrics.NewBird(reg), hub}
	var journalReader api.JournalReader
	if j, err := journal.Open(cfg.Journal.Path, logger.Named("journal")); err != nil {
		logger.Warn("cycle journal disabled", zap.Error(err))
	} else {
		defer j.Close()
		observers = append(observers, j)
		journalReader = j
	}

	updater := bird.NewUpdater(rost, provider.BirdOptions, logger.Named("bird"))
	defer updater.Close()
	if b := cfg.Bird; b != nil {
		updater.RetryDelay = b.RetryDelay.Duration
		updater.MaxRetries = b.MaxRetries
	}
	updater.Observers = observers

	source, closeSource, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	syncer := &discovery.Syncer{Roster: rost, Source: source, Logger: logger.Named("discovery")}
	if err := syncer.SyncOnce(ctx); err != nil {
		logger.Error("initial peer sync failed", zap.Error(err))
	}
	if err := updater.Update(ctx); err != nil {
		if once {
			return err
		}
		logger.Error("initial BIRD update failed", zap.Error(err))
	}
	if once {
		return nil
	}
	syncer.Updater = updater

	update := func(reason string) {
		if err := updater.Update(ctx); err != nil && !errors.Is(err, bird.ErrClosed) {
			logger.Error("BIRD update failed", zap.String("trigger", reason), zap.Error(err))
		}
	}

	if devices != nil {
		w := &tunnel.Watcher{
			Devices:  devices,
			Roster:   rost,
			Interval: cfg.Tunnel.PollInterval.Duration,
			OnChange: func() { update("tunnel") },
			Logger:   logger.Named("tunnel"),
		}
		go w.Run(ctx)
	}

	switch src := source.(type) {
	case interface {
		Watch(context.Context, func(map[string][]model.PeerInfo))
	}:
		go src.Watch(ctx, func(snapshot map[string][]model.PeerInfo) {
			if _, err := syncer.Apply(ctx, snapshot); err != nil {
				logger.Error("apply peer snapshot failed", zap.Error(err))
			}
		})
	case *store.MemoryStore:
	default:
		go syncer.Poll(ctx, cfg.Discovery.Interval.Duration)
	}

	go handleReload(ctx, provider, source, syncer, update, logger)

	srv, err := newHTTPServer(cfg.API, &api.Server{
		Updater:    updater,
		Roster:     rost,
		Journal:    journalReader,
		Options:    provider.BirdOptions,
		Events:     hub,
		Token:      cfg.API.Token,
		Admin:      api.Admin{Username: cfg.API.AdminUser, PasswordHash: cfg.API.AdminPasswordHash},
		Signer:     signer(cfg.API),
		Gatherer:   reg,
		Logger:     logger.Named("api"),
		ReqTimeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.API.Addr), zap.Bool("tls", srv.TLSConfig != nil))
		if srv.TLSConfig != nil {
			errc <- srv.ListenAndServeTLS("", "")
		} else {
			errc <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openSource builds the peer source for the configured discovery backend.
func openSource(cfg *config.Config) (store.PeerSource, func(), error) {
	switch cfg.Discovery.Backend {
	case "consul":
		s, err := store.NewConsulStore(cfg.Consul.Addr, cfg.Consul.Token, cfg.Consul.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "mysql":
		s, err := store.OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemoryStore(cfg.Zones), func() {}, nil
	}
}

// handleReload re-reads the config on SIGHUP. BIRD settings apply to the
// next cycle; static peers are reseeded. Zone set changes need a restart.
func handleReload(ctx context.Context, provider *config.Provider, source store.PeerSource,
	syncer *discovery.Syncer, update func(string), logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		if err := provider.Reload(); err != nil {
			logger.Error("config reload failed, keeping previous config", zap.Error(err))
			continue
		}
		cfg := provider.Get()
		logger.Info("config reloaded", zap.Bool("bird", cfg.Bird != nil))
		if mem, ok := source.(*store.MemoryStore); ok {
			mem.Replace(cfg.Zones)
			if err := syncer.SyncOnce(ctx); err != nil {
				logger.Error("peer sync after reload failed", zap.Error(err))
			}
		}
		update("reload")
	}
}

func signer(c config.API) *auth.Signer {
	if c.JWTSecret == "" {
		return nil
	}
	return auth.NewSigner(c.JWTSecret)
}

func newHTTPServer(c config.API, s *api.Server) (*http.Server, error) {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(s.Logger),
	}
	if c.TLSCert != "" {
		tlsCfg, err := api.ServerTLSConfig(c.TLSCert, c.TLSKey, c.ClientCA)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsCfg
	}
	return srv, nil
}

// Command gateway runs the GitHub Copilot chat proxy: it serves the
// OpenAI, Anthropic, and Ollama wire shapes over one HTTP listener,
// translating each onto a single authenticated upstream connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/copilot-gateway/gateway/internal/authflow"
	"github.com/copilot-gateway/gateway/internal/catalog"
	"github.com/copilot-gateway/gateway/internal/config"
	"github.com/copilot-gateway/gateway/internal/dispatcher"
	"github.com/copilot-gateway/gateway/internal/logging"
	"github.com/copilot-gateway/gateway/internal/profile"
	"github.com/copilot-gateway/gateway/internal/resolver"
	"github.com/copilot-gateway/gateway/internal/selector"
	"github.com/copilot-gateway/gateway/internal/transforms"
	"github.com/copilot-gateway/gateway/internal/upstream"
	"github.com/copilot-gateway/gateway/sdk/api"
)

func main() {
	configDir := flag.String("config-dir", defaultConfigDir(), "directory holding config.json, profiles.json, and the model catalog")
	ossMode := flag.Bool("oss", false, "bind the OSS/Ollama default port (11434) instead of the OpenAI default (3000)")
	flag.Parse()

	if err := os.MkdirAll(*configDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: cannot create config dir %s: %v\n", *configDir, err)
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: loading configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = watcher.Close() }()

	cfg := watcher.Current()
	logging.Configure(cfg.LogFile)
	logging.SetLevel(cfg.Verbose)

	port := cfg.Port
	if *ossMode && port == config.DefaultPort {
		port = config.DefaultOllamaPort
	}

	profiles, err := profile.New(*configDir)
	if err != nil {
		log.Fatalf("gateway: opening profile store: %v", err)
	}

	res := resolver.New(profiles, authflow.NewRefreshFunc(nil))

	upstreamClient := upstream.NewClient()
	cat := catalog.New(*configDir, upstreamClient)

	scheduler := catalog.NewScheduler(cat, refreshInterval(watcher), activeTokenFunc(profiles, res))
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	scheduler.Start(schedulerCtx)
	defer scheduler.Stop()

	reg := transforms.NewRegistry()

	d := &dispatcher.Dispatcher{
		Resolver:     res,
		Catalog:      cat,
		Upstream:     upstreamClient,
		Profiles:     profiles,
		Mapper:       selector.NewMappingOverrides(),
		TransformReg: reg,
		Config:       watcher.Current,
		Manifest:     watcher.Manifest,
		ConfigDir:    *configDir,
	}

	router := api.NewRouter(d)
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Infof("gateway: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway: server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("gateway: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("gateway: graceful shutdown failed: %v", err)
	}
}

// defaultConfigDir mirrors the per-user config root the credential and
// catalog stores expect, falling back to the working directory if the OS
// can't resolve one.
func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".copilot-gateway"
	}
	return filepath.Join(dir, "copilot-gateway")
}

// refreshInterval reads model.refresh_interval_minutes from the current
// config snapshot. It is called once, when the scheduler is built, so a
// later `::config set model.refresh_interval_minutes` changes the
// scheduler's period only after a restart.
func refreshInterval(w *config.Watcher) time.Duration {
	return time.Duration(w.Current().Model.RefreshIntervalMinutes) * time.Minute
}

// activeTokenFunc adapts the profile store + resolver into the
// catalog.ActiveTokenFunc the scheduler needs: the active profile's id
// and a resolvable token for it, or ok=false when there's nothing to
// refresh yet.
func activeTokenFunc(profiles *profile.Store, res *resolver.Resolver) catalog.ActiveTokenFunc {
	return func(ctx context.Context) (profileID, tok string, ok bool) {
		id, found, err := profiles.GetActive()
		if err != nil || !found {
			return "", "", false
		}
		t, _ := res.Resolve(ctx, resolver.Options{RefreshIfMissing: true})
		if t == "" {
			return "", "", false
		}
		return id, t, true
	}
}

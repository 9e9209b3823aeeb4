package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/tpersp/piviewer/api"
	"github.com/tpersp/piviewer/catalog"
	"github.com/tpersp/piviewer/config"
	"github.com/tpersp/piviewer/display"
	"github.com/tpersp/piviewer/mediasync"
	"github.com/tpersp/piviewer/nowplaying"
	"github.com/tpersp/piviewer/peersync"
	"github.com/tpersp/piviewer/render"
	"github.com/tpersp/piviewer/rotation"
	"github.com/tpersp/piviewer/store"
)

func main() {
	cfg, cfgPath, exists, err := config.Load(os.Getenv("PIVIEWER_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if exists {
		slog.Info("loaded config", "path", cfgPath)
	} else {
		slog.Info("no config file found, using defaults", "path", cfgPath)
	}

	if err := os.MkdirAll(cfg.Paths.ImageDir, 0o755); err != nil {
		log.Fatalf("Failed to create image directory: %v", err)
	}

	// one viewer per device; a second instance would fight over the mpv
	// sockets
	lock := flock.New(cfg.Paths.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire lock file: %v", err)
	}
	if !locked {
		log.Fatalf("Another piviewer instance is already running (lock: %s)", cfg.Paths.LockFile)
	}
	defer lock.Unlock()

	database, err := store.NewDatabase(cfg.Paths.ConfigDB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	handles := display.Detect()
	slog.Info("detected monitors", "count", len(handles))
	for _, h := range handles {
		slog.Info("monitor", "name", h.Name, "resolution", h.Resolution, "index", h.Index)
	}

	renderer := render.NewManager(cfg.Viewer.MpvBinary, cfg.Viewer.SocketDir)
	if err := renderer.Launch(handles); err != nil {
		log.Fatalf("Failed to launch mpv: %v", err)
	}
	defer renderer.Stop()

	var feed catalog.Feed
	if cfg.NowPlaying.Enabled {
		npFeed, err := nowplaying.New(cfg.NowPlaying.Player)
		if err != nil {
			slog.Warn("now playing feed unavailable, mode disabled", "error", err)
		} else {
			defer npFeed.Close()
			feed = npFeed
		}
	}

	lister := catalog.NewDirLister(cfg.Paths.ImageDir)
	resolver := catalog.NewResolver(lister)

	scheduler, err := rotation.NewScheduler(database, resolver, feed, renderer, handles, cfg.Viewer.DefaultInterval)
	if err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler.Start(ctx)

	settings, err := database.GetDeviceSettings()
	if err != nil {
		log.Fatalf("Failed to load device settings: %v", err)
	}

	var coordinator *peersync.Coordinator
	if settings.Role == store.RoleMain {
		client := peersync.NewClient(time.Duration(cfg.Peers.RequestTimeoutSeconds) * time.Second)
		coordinator = peersync.NewCoordinator(database, client, time.Duration(cfg.Peers.StaleAfterMinutes)*time.Minute)
	} else {
		slog.Info("running as sub device", "main_addr", settings.MainAddr)
	}

	if cfg.MediaSync.Enabled {
		syncManager, err := mediasync.NewManager(cfg.MediaSync, cfg.Paths.ImageDir, scheduler.RefreshCatalog)
		if err != nil {
			log.Fatalf("Failed to initialize media sync: %v", err)
		}
		go syncManager.Run(ctx)
	}

	webServer := api.NewWebServer(database, scheduler, lister, coordinator, cfg.Paths.ImageDir)
	go webServer.Start(cfg.Paths.ListenBind)

	<-ctx.Done()
	slog.Info("shutting down")
}

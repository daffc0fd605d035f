package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/you/streamops/internal/auth"
	"github.com/you/streamops/internal/bus"
	"github.com/you/streamops/internal/chatcmd"
	"github.com/you/streamops/internal/clock"
	"github.com/you/streamops/internal/config"
	"github.com/you/streamops/internal/cooldown"
	"github.com/you/streamops/internal/core"
	"github.com/you/streamops/internal/display"
	"github.com/you/streamops/internal/factory"
	"github.com/you/streamops/internal/httpapi"
	"github.com/you/streamops/internal/notify"
	"github.com/you/streamops/internal/obsws"
	"github.com/you/streamops/internal/platform"
	"github.com/you/streamops/internal/router"
	"github.com/you/streamops/internal/streamdetect"
	"github.com/you/streamops/internal/twitchchat"
	"github.com/you/streamops/internal/usertrack"
	"github.com/you/streamops/internal/version"
	"github.com/you/streamops/internal/vfx"
	"github.com/you/streamops/internal/ytchat"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag bool
		configPath  string
		tokensPath  string
	)
	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&configPath, "config", "config.ini", "Path to the INI configuration file")
	flag.StringVar(&tokensPath, "tokens", "tokens.json", "Path to the persisted token store")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"streamops version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("streamops: %v", err)
	}

	gen := cfg.General()
	level := slog.LevelInfo
	if gen.DebugEnabled {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	log.Printf("%s", cfg.RedactedJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("streamops: received %s, shutting down", sig)
		cancel()
		// A second signal or a stalled teardown must not wedge the process.
		select {
		case sig = <-sigCh:
			log.Printf("streamops: received %s during shutdown, exiting", sig)
		case <-time.After(10 * time.Second):
			log.Printf("streamops: shutdown timed out, exiting")
		}
		os.Exit(1)
	}()

	sysClock := clock.SystemClock{}

	b := bus.New(bus.Options{BufferSize: 64})
	defer func() {
		if err := b.Close(); err != nil {
			log.Printf("streamops: close bus: %v", err)
		}
	}()

	engineClient := obsws.New(obsws.Config{
		URL:      cfg.Str("obs", "url", "ws://127.0.0.1:4455"),
		Password: cfg.Str("obs", "password", ""),
		Scene:    cfg.Str("obs", "scene", "Stream"),
	})
	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	if err := engineClient.Connect(connectCtx); err != nil {
		log.Printf("streamops: broadcasting engine: %v (overlay updates unavailable)", err)
	}
	cancelConnect()
	defer func() {
		if err := engineClient.Close(); err != nil {
			log.Printf("streamops: close broadcasting engine: %v", err)
		}
	}()

	queue := display.NewQueue(engineClient, cfg, sysClock, display.Options{
		TextSource:   cfg.Str("obs", "textSource", "notification_text"),
		NotifySource: cfg.Str("obs", "notifySource", "notification_overlay"),
		ClearDelay:   cfg.DurationMS("general", "displayClearDelayMs", time.Second),
	})

	ledger := cooldown.NewLedger(sysClock, gen.CmdCooldown, gen.GlobalCmdCooldown)

	vfxSvc := vfx.NewService(nil, obsws.NewEffectsEngine(engineClient), cfg, ledger, b, sysClock, vfx.Options{
		MediaSource: cfg.Str("obs", "mediaSource", "vfx_media"),
		FileDir:     cfg.Str("general", "vfxFileDir", "media"),
	})
	queue.SetEffectRunner(vfxSvc)

	users, err := usertrack.Open(cfg.Str("general", "userDbPath", "streamops.db"))
	if err != nil {
		log.Fatalf("streamops: open user store: %v", err)
	}
	defer func() {
		if err := users.Close(); err != nil {
			log.Printf("streamops: close user store: %v", err)
		}
	}()

	chat := chatcmd.NewRouter(cfg, users, vfxSvc, queue)

	notifier, err := notify.NewManager(cfg, queue, vfxSvc, nil, sysClock)
	if err != nil {
		log.Fatalf("streamops: %v", err)
	}

	tokens, err := auth.OpenStore(tokensPath)
	if err != nil {
		log.Fatalf("streamops: open token store: %v", err)
	}
	unwatch, err := tokens.Watch(func() {
		log.Printf("streamops: token store reloaded from disk")
	})
	if err != nil {
		log.Printf("streamops: watch token store: %v", err)
	} else {
		defer unwatch()
	}

	refresher := &auth.TwitchRefresher{
		ClientID:     cfg.Str("twitch", "clientId", ""),
		ClientSecret: cfg.Str("twitch", "clientSecret", ""),
	}

	detector := streamdetect.NewDetector()
	for _, p := range []core.Platform{core.PlatformTwitch, core.PlatformTikTok, core.PlatformStreamElements, core.PlatformCustom} {
		if strings.TrimSpace(cfg.Str(string(p), "liveUrl", "")) != "" {
			detector.Register(p, streamdetect.NewPageProbe(p, nil))
		}
	}

	platforms := platform.NewService(cfg, detector, sysClock)
	constructors := map[core.Platform]platform.Constructor{
		core.PlatformTwitch: func(cfg *config.Service) (any, error) {
			channel := cfg.Str("twitch", "channel", "")
			if channel == "" {
				return nil, errors.New("twitch: channel is required")
			}
			tcfg := twitchchat.Config{
				Channel: channel,
				Nick:    cfg.Str("twitch", "nick", channel),
				UseTLS:  cfg.Bool("twitch", "tls", true),
				TokenProvider: func() string {
					if creds, ok := tokens.Get(core.PlatformTwitch); ok && creds.AccessToken != "" {
						return auth.NormalizeIRCToken(creds.AccessToken)
					}
					return auth.NormalizeIRCToken(cfg.Str("twitch", "token", ""))
				},
				RefreshNow: func(rctx context.Context) (string, error) {
					creds, err := tokens.Refresh(core.PlatformTwitch, func(cur auth.Credentials) (auth.Credentials, error) {
						return refresher.Refresh(rctx, cur)
					})
					if err != nil {
						return "", err
					}
					return auth.NormalizeIRCToken(creds.AccessToken), nil
				},
			}
			return twitchchat.New(tcfg, factory.New(core.PlatformTwitch), b), nil
		},
		core.PlatformYouTube: func(cfg *config.Service) (any, error) {
			liveURL := cfg.Str("youtube", "liveUrl", "")
			if liveURL == "" {
				return nil, errors.New("youtube: liveUrl is required")
			}
			ycfg := ytchat.Config{LiveURL: liveURL}
			return ytchat.New(ycfg, factory.New(core.PlatformYouTube), b), nil
		},
	}
	dispatch := router.New(b, chat, notifier, &runtimeEvents{platforms: platforms}, cfg)
	// Subscribe before the adapters start so connection and early chat
	// events published during initialization are not dropped.
	if err := dispatch.Subscribe(ctx); err != nil {
		log.Fatalf("streamops: %v", err)
	}

	platforms.InitializeAllPlatforms(ctx, constructors)

	api := httpapi.New(cfg, queue, platforms, &adminReloader{path: configPath, cfg: cfg, tokens: tokens}, httpapi.Options{
		Addr:      cfg.Str("http", "addr", ":8790"),
		RateRPS:   cfg.Int("http", "rateRps", 20),
		RateBurst: cfg.Int("http", "rateBurst", 40),
	})
	go func() {
		if err := api.Start(); err != nil {
			log.Printf("streamops: admin api: %v", err)
			cancel()
		}
	}()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("streamops: %s exited: %v", name, err)
				cancel()
			}
		}()
	}
	run("display queue", queue.Run)
	run("notification manager", notifier.Run)
	run("event router", dispatch.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ledger.Sweep()
			}
		}
	}()

	log.Printf("streamops: running")
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	platforms.DisconnectAll(shutdownCtx)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("streamops: admin api shutdown: %v", err)
	}
	cancelShutdown()

	queue.Close()
	wg.Wait()
	log.Printf("streamops: shutdown complete")
}

// adminReloader backs the admin API's reload endpoints.
type adminReloader struct {
	path   string
	cfg    *config.Service
	tokens *auth.Store
}

func (r *adminReloader) ReloadConfig() error { return r.cfg.Reload(r.path) }
func (r *adminReloader) ReloadTokens() error { return r.tokens.Reload() }

// runtimeEvents receives the lifecycle events coming back over the bus.
// Adapters already drive the registry directly; these handlers exist for
// visibility.
type runtimeEvents struct {
	platforms *platform.Service
}

func (r *runtimeEvents) HandleStreamStatus(_ context.Context, ev *core.StreamStatus) {
	slog.Info("stream status", "platform", ev.Platform, "live", ev.IsLive)
}

func (r *runtimeEvents) HandleConnection(_ context.Context, ev *core.Connection) {
	slog.Info("platform connected", "platform", ev.Platform)
}

func (r *runtimeEvents) HandleDisconnection(_ context.Context, ev *core.Disconnection) {
	slog.Info("platform disconnected", "platform", ev.Platform, "reason", ev.Reason)
}

func (r *runtimeEvents) HandlePlatformError(_ context.Context, ev *core.PlatformError) {
	slog.Error("platform error", "platform", ev.Platform, "message", ev.Message, "recoverable", ev.Recoverable)
	if !ev.Recoverable && r.platforms != nil {
		slog.Warn("platform reported unrecoverable error", "platform", ev.Platform, "available", r.platforms.IsPlatformAvailable(ev.Platform))
	}
}

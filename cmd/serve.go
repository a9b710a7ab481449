package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jobmate/alert-service/internal/api"
	"jobmate/alert-service/internal/bot"
	"jobmate/alert-service/internal/db"
	"jobmate/alert-service/internal/grpcserver"
	"jobmate/alert-service/internal/logger"
	"jobmate/alert-service/internal/scheduler"
	"jobmate/alert-service/internal/session"
	"jobmate/alert-service/internal/subscription"
	"jobmate/alert-service/internal/telegram"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, Telegram bot, gRPC health server and cron scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	log := d.log

	if serveMigrate {
		if _, err := db.Migrate(ctx, d.db, logger.ComponentLogger("migrate")); err != nil {
			return err
		}
	}

	// ── Telegram ─────────────────────────────────────────────────────────────
	tg, err := telegram.New(cfg.TelegramToken, logger.ComponentLogger("telegram"))
	if err != nil {
		return err
	}
	log.Infow("Telegram bot authorized", "username", tg.Username())

	// ── Listeners ────────────────────────────────────────────────────────────
	// Bound before anything runs in the background so a taken port fails
	// startup without leaving goroutines behind.
	httpLis, grpcLis, err := listen(":"+cfg.Port, ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}
	closeListeners := func() {
		httpLis.Close()
		grpcLis.Close()
	}

	if cfg.TelegramWebhookURL != "" {
		if err := tg.RegisterWebhook(cfg.TelegramWebhookURL, cfg.TelegramWebhookSecret); err != nil {
			closeListeners()
			return err
		}
		log.Infow("Telegram webhook registered", "url", cfg.TelegramWebhookURL)
	}

	var sessions session.Store
	switch cfg.SessionBackend {
	case "memory":
		mem := session.NewMemory(cfg.SessionTTL)
		go mem.RunSweeper(ctx, time.Minute)
		sessions = mem
	default:
		sessions = session.NewRedis(d.rdb, cfg.SessionTTL)
	}

	subsvc := subscription.NewService(d.subs, d.events)
	botHandler := bot.NewHandler(sessions, subsvc, tg, logger.ComponentLogger("bot"))

	// ── Runs ─────────────────────────────────────────────────────────────────
	runner := d.runner(tg)
	win := window()

	var sched *scheduler.Scheduler
	if cfg.CronEnabled {
		sched = scheduler.NewScheduler(runner, win, logger.ComponentLogger("cron"))
		if err := sched.Start(ctx); err != nil {
			closeListeners()
			return err
		}
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", api.HealthHandler(serviceName, version))
	api.NewHandler(subsvc, runner, win, cfg.CronSecret, logger.ComponentLogger("api")).RegisterRoutes(mux)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.TelegramWebhookURL != "" {
		mux.Handle("/webhook/telegram", telegram.WebhookHandler(botHandler, cfg.TelegramWebhookSecret, logger.ComponentLogger("webhook")))
	} else {
		poller := telegram.NewPoller(tg, botHandler, logger.ComponentLogger("poller"))
		g.Go(func() error { return poller.Run(gctx) })
		log.Info("Telegram long polling started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Synchronous runs (?wait=true, cron tiers) hold the response open.
		WriteTimeout: cfg.Scrape.RunTimeout + 30*time.Second,
	}
	g.Go(func() error {
		log.Infow("HTTP listening", "version", version, "port", cfg.Port)
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	// ── gRPC health ──────────────────────────────────────────────────────────
	health := grpcserver.New(map[string]grpcserver.Check{
		"postgres": d.db.PingContext,
		"redis":    func(ctx context.Context) error { return d.rdb.Ping(ctx).Err() },
	}, 15*time.Second, logger.ComponentLogger("grpc"))
	g.Go(func() error { return health.Serve(gctx, grpcLis) })

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("HTTP shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if sched != nil {
		sched.Stop()
	}
	// Background runs were detached from request contexts; let them finish.
	runner.Wait()
	log.Info("Stopped.")
	return err
}

// listen binds the HTTP and gRPC addresses. Either both listeners are
// returned or neither is left open.
func listen(httpAddr, grpcAddr string) (net.Listener, net.Listener, error) {
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listen on HTTP address %s", httpAddr)
	}
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLis.Close()
		return nil, nil, errors.Wrapf(err, "listen on gRPC address %s", grpcAddr)
	}
	return httpLis, grpcLis, nil
}

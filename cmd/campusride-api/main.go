// README: Entry point; loads config, wires stores, sinks and services, starts HTTP server and the waitlist sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"campusride/internal/authz"
	"campusride/internal/config"
	httptransport "campusride/internal/http"
	"campusride/internal/infra"
	"campusride/internal/modules/booking"
	"campusride/internal/modules/lifecycle"
	"campusride/internal/modules/review"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/waitlist"
	"campusride/internal/notify"
	"campusride/internal/policy"
	"campusride/internal/scheduler"
	"campusride/internal/store"
	"campusride/internal/store/memory"
	"campusride/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(log)
	gin.SetMode(cfg.HTTP.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("campusride-api exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks := notify.Multi{notify.NewLogSink(log)}
	var feed lifecycle.Feed
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Warn("redis unavailable, ride update feed disabled", slog.Any("error", err))
		} else {
			defer rdb.Close()
			f := notify.NewRedisFeed(rdb)
			sinks = append(sinks, f)
			feed = f
		}
	}
	if cfg.RabbitMQ.URL != "" {
		rb, err := infra.NewRabbit(cfg.RabbitMQ.URL, notify.RideTopicExchange)
		if err != nil {
			return err
		}
		defer rb.Close()
		sinks = append(sinks, notify.NewRabbitSink(rb.Channel))
	}

	az, err := authz.NewPolicy(ctx)
	if err != nil {
		return err
	}
	clock := policy.SystemClock

	wl := waitlist.NewManager(st, clock, sinks, log)
	lc := lifecycle.NewController(st, az, clock, sinks, feed, log)
	srv := httptransport.NewServer(httptransport.ServerDeps{
		Rides:     ride.NewService(st, wl, lc, az, clock, log),
		Lifecycle: lc,
		Bookings:  booking.NewService(st, wl, az, clock, sinks, log),
		Reviews:   review.NewService(st, az, clock, log),
		Verifier:  verifier,
		Log:       log,
	})

	go scheduler.New(wl, cfg.Scheduler.Interval, log).Start(ctx)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTP.Addr), slog.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("http server stopped")
	return nil
}

// newVerifier prefers Firebase when a project is configured and falls back to HS256 tokens.
func newVerifier(ctx context.Context, cfg config.AuthConfig) (infra.TokenVerifier, error) {
	if cfg.FirebaseProjectID != "" {
		return infra.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	}
	return infra.NewJWTVerifier(cfg.JWTSecret)
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.DSN); err != nil {
			return nil, nil, err
		}
	}
	pool, err := infra.NewDB(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(pool), pool.Close, nil
}

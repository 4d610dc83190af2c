package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fjod/go_pos/internal/cart"
	"github.com/fjod/go_pos/internal/cashsession"
	"github.com/fjod/go_pos/internal/catalog"
	"github.com/fjod/go_pos/internal/checkout"
	"github.com/fjod/go_pos/internal/config"
	posgrpc "github.com/fjod/go_pos/internal/grpc"
	poshttp "github.com/fjod/go_pos/internal/http"
	"github.com/fjod/go_pos/internal/metrics"
	"github.com/fjod/go_pos/internal/publisher"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health server and the outbox publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

// cartStore picks Redis when an address is configured, process memory
// otherwise.
func cartStore(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (cart.Store, func(), error) {
	if cfg.Addr == "" {
		log.Warn().Msg("redis.addr not set, carts are kept in process memory")
		return cart.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("connected to redis")

	return cart.NewRedisStore(client, cfg.CartTTL), func() { _ = client.Close() }, nil
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	repo, err := openRepository(cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, closeStore, err := cartStore(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New(nil)
	products := catalog.NewService(repo, log)
	carts := cart.NewService(store, products, log)
	sales := checkout.NewService(repo, carts, m, log)
	sessions := cashsession.NewService(repo, m, log)

	timeout := cfg.HTTP.RequestTimeout
	router := poshttp.NewRouter(poshttp.RouterConfig{
		Log:            log,
		RequestTimeout: timeout,
		DB:             repo,
		Metrics:        m.Handler(),
		Products:       poshttp.NewProductHandler(products, timeout),
		Carts:          poshttp.NewCartHandler(carts, timeout),
		Checkout:       poshttp.NewCheckoutHandler(sales, timeout),
		CashSessions:   poshttp.NewCashSessionHandler(sessions, timeout),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      otelhttp.NewHandler(router, "pos-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	health := posgrpc.NewServer(repo, log)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return health.Serve(lis)
	})

	g.Go(func() error {
		health.Watch(gctx)
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(repo, publisher.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			EventTick:   cfg.Kafka.EventTick,
			CleanupTick: cfg.Kafka.CleanupTick,
			Retention:   cfg.Kafka.Retention,
		}, m, log)
		defer poller.Close()

		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
	} else {
		log.Warn().Msg("kafka.brokers not set, outbox events are kept unpublished")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		health.GracefulStop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-price-api/internal/cache"
	"token-price-api/internal/config"
	"token-price-api/internal/db"
	"token-price-api/internal/handler"
	"token-price-api/internal/job"
	"token-price-api/internal/provider"
	"token-price-api/internal/repository"
	"token-price-api/internal/service"
	"token-price-api/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "token-price-api/docs"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	connectDBFunc    = db.Connect
	connectRedisFunc = cache.New
	initTracerFunc   = tracing.InitTracer
	newProviderFunc  = func(tracer trace.Tracer, url, apiKey string) service.PriceSource {
		return provider.NewSubgraphProvider(tracer, url, apiKey)
	}
	runMigrationsFunc = func(ctx context.Context, tokens *repository.TokenRepository, prices *repository.PriceRepository) error {
		if err := tokens.RunMigrations(ctx); err != nil {
			return err
		}
		return prices.RunMigrations(ctx)
	}
	seedTokensFunc = func(ctx context.Context, ingest *service.IngestService, addresses []string) error {
		return ingest.SeedTokens(ctx, addresses)
	}
	startPollerFunc        = func(p *job.PricePoller, ctx context.Context) { go p.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Token Price API
// @version         1.0
// @description     Hourly OHLC price history for Uniswap V3 tokens, resampled into chart-ready series.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = connectDBFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer pool.Close()
	}

	var rdb *goredis.Client
	{
		var err error
		rdb, err = connectRedisFunc(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
	}

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	tokenRepo := repository.NewTokenRepository(pool, tracer)
	priceRepo := repository.NewPriceRepository(pool, tracer)
	if pool != nil {
		if err := runMigrationsFunc(ctx, tokenRepo, priceRepo); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	source := newProviderFunc(tracer, cfg.SubgraphURL, cfg.SubgraphAPIKey)
	ingest := service.NewIngestService(tracer, source, tokenRepo, priceRepo)
	charts := service.NewChartService(tracer, tokenRepo, priceRepo, rdb)

	// Seeding is best-effort: the poller retries the same work every cycle.
	if err := seedTokensFunc(ctx, ingest, cfg.SeedTokenAddresses); err != nil {
		log.Printf("token seeding failed, poller will retry: %v", err)
	}

	poller := job.NewPricePoller(tracer, ingest, cfg.PollIntervalSecs)
	startPollerFunc(poller, ctx)

	h := handler.New(tracer, charts, cfg.APIKey)

	r := newRouterFunc()
	r.Use(cors.Default())
	r.Use(otelgin.Middleware("token-price-api"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

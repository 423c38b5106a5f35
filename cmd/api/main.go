package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	goredis "github.com/redis/go-redis/v9"

	_ "github.com/jhoicas/stock-deduction/docs"
	"github.com/jhoicas/stock-deduction/internal/application/audit"
	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	"github.com/jhoicas/stock-deduction/internal/application/movement"
	infrakafka "github.com/jhoicas/stock-deduction/internal/infrastructure/kafka"
	"github.com/jhoicas/stock-deduction/internal/infrastructure/ledger"
	"github.com/jhoicas/stock-deduction/internal/infrastructure/metrics"
	"github.com/jhoicas/stock-deduction/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/stock-deduction/internal/infrastructure/redis"
	"github.com/jhoicas/stock-deduction/internal/infrastructure/tracing"
	httpRouter "github.com/jhoicas/stock-deduction/internal/interfaces/http"
	"github.com/jhoicas/stock-deduction/pkg/config"
	"github.com/jhoicas/stock-deduction/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando aplicación")

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		URLPath:     cfg.Tracing.URLPath,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.App.Name,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configuración de trazas")
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	if cfg.DB.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migración del esquema")
		}
		log.Info().Msg("esquema aplicado")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// El límite por hora falla cerrado: sin Redis las deducciones responden STORAGE_FAILURE.
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis no disponible al arrancar")
	}

	// Sin brokers los eventos de conciliación no se publican (el orquestador usa un publicador nulo).
	var publisher deduction.EventPublisher
	if cfg.Kafka.Enabled() {
		kp := infrakafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	promMetrics := metrics.New("stock")
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)

	auditRepo := postgres.NewAuditRepository(pool)
	movementRepo := postgres.NewMovementRepository(pool)

	orchestrator := deduction.NewOrchestrator(deduction.Deps{
		TxRunner:    postgres.NewTxRunner(pool),
		Ledger:      ledgerClient,
		Payments:    postgres.NewPaymentRepository(pool),
		Orders:      postgres.NewOrderRepository(pool),
		OTPs:        postgres.NewOTPRepository(pool),
		Bins:        postgres.NewBinRepository(pool),
		Audit:       auditRepo,
		RateCounter: infraredis.NewRateCounter(rdb),
		Publisher:   publisher,
		Metrics:     promMetrics,
	}, deduction.Policy{
		PaymentFreshness:  cfg.Deduction.PaymentFreshness,
		RateLimitPerHour:  cfg.Deduction.RateLimitPerHour,
		MaxQuantity:       cfg.Deduction.MaxQuantity,
		StockCacheTTL:     cfg.Deduction.StockCacheTTL,
		RemoteTimeout:     cfg.Ledger.Timeout,
		UnitOfWorkTimeout: cfg.Deduction.UnitOfWorkTimeout,
	}, log.Component("deduction"))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.Deduction.UnitOfWorkTimeout + 5*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Stock Deduction API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "service": cfg.App.Name})
		}
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Orchestrator:   orchestrator,
		Trail:          audit.NewTrail(auditRepo),
		Movements:      movement.NewLedgerService(movementRepo, nil),
		MetricsHandler: promMetrics.Handler(),
		JWTSecret:      cfg.JWT.Secret,
		Log:            log.Component("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	// Las deducciones en curso terminan su unidad de trabajo antes de cerrar el pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Deduction.UnitOfWorkTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("flush de trazas")
	}

	log.Info().Msg("aplicación detenida")
}

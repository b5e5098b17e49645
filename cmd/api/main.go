package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/application/usecase"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/kafka"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	infrapdf "github.com/jhoicas/stock-ledger/internal/infrastructure/pdf"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	infraredis "github.com/jhoicas/stock-ledger/internal/infrastructure/redis"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/tracing"
	httpRouter "github.com/jhoicas/stock-ledger/internal/interfaces/http"
	"github.com/jhoicas/stock-ledger/internal/worker"
	"github.com/jhoicas/stock-ledger/pkg/config"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// stores repositorios del backend elegido con LEDGER_STORE.
type stores struct {
	tx        ledger.TxRunner
	movements repository.MovementRepository
	balances  repository.BalanceRepository
	products  repository.ProductRepository
	locations repository.LocationRepository
	audits    repository.AuditRepository
	// solo memory: idempotencia sin Redis
	idempotency ledger.IdempotencyStore
	close       func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.Observability.LogLevel,
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.Ledger.Store).
		Str("consistency", cfg.Ledger.Consistency).
		Msg("iniciando aplicación")

	ctx := context.Background()

	tp, err := tracing.Init(cfg.App.Name, cfg.Observability.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar tracing")
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("abrir almacenamiento")
	}
	defer st.close()

	idempotency := st.idempotency
	var locker worker.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := infraredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
		idempotency = infraredis.NewIdempotencyStore(rdb)
		locker = infraredis.NewLocker(rdb)
	}
	if idempotency == nil {
		log.Warn().Msg("sin REDIS_ADDR: se ignora el header Idempotency-Key")
	}

	var publisher ledger.EventPublisher = kafka.NewLogPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kp.Close()
		publisher = kp
	}

	reconciler := ledger.NewReconciler(ledger.ReconcilerConfig{
		Consistency:  cfg.Ledger.Consistency,
		MaxRetries:   cfg.Ledger.MaxRetries,
		ClaimLease:   cfg.Ledger.ClaimLease,
		ApplyTimeout: cfg.Ledger.ApplyTimeout,
	}, st.tx, st.movements, st.balances, st.products, publisher, log)

	ledgerUC := ledger.NewLedgerUseCase(ledger.Config{
		BackorderEnabled: cfg.Ledger.BackorderEnabled,
		IdempotencyTTL:   cfg.Redis.IdempotencyTTL,
	}, st.movements, st.balances, st.products, st.locations, reconciler, idempotency, log)

	auditUC := audit.NewAuditUseCase(st.audits, infrapdf.NewMarotoAuditReport(), log)

	app := httpRouter.NewApp(httpRouter.RouterDeps{
		AppName:        cfg.App.Name,
		LedgerUC:       ledgerUC,
		ProductUC:      usecase.NewProductUseCase(st.products),
		LocationUC:     usecase.NewLocationUseCase(st.locations),
		AuditUC:        auditUC,
		JWTSecret:      cfg.JWT.Secret,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
		SwaggerFile:    swaggerFile(),
		Log:            log,
	})

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	auditJob := worker.NewAuditJob(auditUC, locker, cfg.Ledger.AuditInterval, cfg.Ledger.AuditConcurrency, log)
	retrier := worker.NewPendingRetrier(st.movements, reconciler, cfg.Ledger.RetryInterval, cfg.Ledger.RetryMinAge, log)
	workers.Add(2)
	go func() { defer workers.Done(); auditJob.Start(workerCtx) }()
	go func() { defer workers.Done(); retrier.Start(workerCtx) }()

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	stopWorkers()
	workers.Wait()

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("apagado del tracer")
		}
	}

	log.Info().Msg("aplicación detenida")
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Ledger.Store == config.StoreMemory {
		log.Warn().Msg("LEDGER_STORE=memory: los datos se pierden al reiniciar")
		store, err := memory.NewStore()
		if err != nil {
			return nil, err
		}
		return &stores{
			tx:          memory.NewTxRunner(store),
			movements:   store.Movements(),
			balances:    store.Balances(),
			products:    store.Products(),
			locations:   store.Locations(),
			audits:      store.Audits(),
			idempotency: store.Idempotency(),
			close:       func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Strs("migrations", applied).Msg("migraciones aplicadas")
	}
	return &stores{
		tx:        postgres.NewTxRunner(pool),
		movements: postgres.NewMovementRepository(pool),
		balances:  postgres.NewBalanceRepository(pool),
		products:  postgres.NewProductRepository(pool),
		locations: postgres.NewLocationRepository(pool),
		audits:    postgres.NewAuditRepository(pool),
		close:     pool.Close,
	}, nil
}

// swaggerFile devuelve la ruta de la especificación OpenAPI si existe en el directorio de trabajo.
func swaggerFile() string {
	const path = "./docs/swagger.json"
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

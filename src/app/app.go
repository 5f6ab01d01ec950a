package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ethaccount/aawallet/src/entrypoint"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/handler"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/paymaster"
	"github.com/ethaccount/aawallet/src/repository"
	"github.com/ethaccount/aawallet/src/service"
	"github.com/ethaccount/aawallet/src/wallet"
)

const receiptKeyPrefix = "receipt"

type Application struct {
	config       AppConfig
	database     *gorm.DB
	redis        *redis.Client
	receiptCache *repository.ReceiptCache
	Services     *service.Application
}

func NewApplication(ctx context.Context, config AppConfig) (*Application, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	app := &Application{config: config}

	engine := fee.NewEngine(fee.NewStaticOracle(*config.TokenRates))
	st := ledger.New(wallet.NewFactory(*config.EntryPoint, config.ChainID, engine))
	ep, err := entrypoint.New(entrypoint.Config{
		Address: *config.EntryPoint,
		ChainID: config.ChainID,
		BaseFee: config.BaseFee,
	}, st, engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry point: %w", err)
	}
	if err := registerPaymasters(ctx, config, ep, engine); err != nil {
		return nil, err
	}

	var receipts service.ReceiptStore = repository.NewMemoryReceiptStore()
	if *config.RedisURL != "" {
		redisOpts, err := redis.ParseURL(*config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		app.redis = redis.NewClient(redisOpts)

		if err := app.redis.Ping(ctx).Err(); err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to redis failed: %w", err)
		}
		logger.Info().Msg("Redis connection established")

		app.receiptCache = repository.NewReceiptCache(app.redis, receiptKeyPrefix, *config.ReceiptTTL)
		receipts = app.receiptCache
	} else {
		logger.Warn().Msg("REDIS_URL not set, receipts are kept in memory")
	}

	var batches service.BatchStore
	if *config.DSN != "" {
		app.database, err = gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to database failed: %w", err)
		}

		db, err := app.database.DB()
		if err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("failed to get underlying database connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			app.Shutdown(ctx)
			return nil, fmt.Errorf("connection to database failed: %w", err)
		}
		logger.Info().Msg("Database connection established")

		if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
			app.Shutdown(ctx)
			return nil, err
		}
		batches = repository.NewBatchRepository(app.database)
	} else {
		logger.Warn().Msg("DB_URL not set, batch history is disabled")
	}

	bundler := service.NewBundlerService(ep, st, *config.Beneficiary, receipts, batches)
	app.Services, err = service.NewApplication(bundler)
	if err != nil {
		app.Shutdown(ctx)
		return nil, err
	}

	logger.Info().
		Str("entryPoint", config.EntryPoint.Hex()).
		Str("chainId", config.ChainID.String()).
		Str("beneficiary", config.Beneficiary.Hex()).
		Msg("Entry point ready")
	return app, nil
}

// registerPaymasters registers the paymasters named in the configuration.
// The deposit paymaster accepts every token with a configured rate.
func registerPaymasters(ctx context.Context, config AppConfig, ep *entrypoint.EntryPoint, engine *fee.Engine) error {
	logger := zerolog.Ctx(ctx).With().Str("function", "registerPaymasters").Logger()

	if config.DepositPaymaster != nil {
		dp := paymaster.NewDepositPaymaster(*config.DepositPaymaster)
		for token := range *config.TokenRates {
			if err := dp.AddToken(token, engine.Oracle()); err != nil {
				return fmt.Errorf("failed to add token %s: %w", token.Hex(), err)
			}
		}
		if err := ep.RegisterPaymaster(dp); err != nil {
			return err
		}
		logger.Info().
			Str("paymaster", dp.Address().Hex()).
			Int("tokens", len(*config.TokenRates)).
			Msg("Deposit paymaster registered")
	}

	if config.VerifyingPaymaster != nil {
		vp := paymaster.NewVerifyingPaymaster(*config.VerifyingPaymaster, *config.VerifyingSigner, ep.Address(), ep.ChainID(), config.MinPaymasterStake)
		if err := ep.RegisterPaymaster(vp); err != nil {
			return err
		}
		logger.Info().
			Str("paymaster", vp.Address().Hex()).
			Str("signer", vp.Signer().Hex()).
			Msg("Verifying paymaster registered")
	}
	return nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	// Close database connection
	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	// Close Redis connection
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

// Router builds the gin engine serving the REST API and JSON-RPC.
func (app *Application) Router(ctx context.Context) *gin.Engine {
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret"}
	config.AllowCredentials = true
	ginRouter.Use(cors.New(config))

	handler.RegisterRoutes(ctx, ginRouter, app.Services, *app.config.APISecret)
	return ginRouter
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: app.Router(ctx),
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

// RunReceiptStatsLogger periodically logs cached receipts per status. It
// returns at once when receipts are not cached in Redis.
func (app *Application) RunReceiptStatsLogger(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunReceiptStatsLogger").Logger()
	if app.receiptCache == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Receipt stats logger shutting down")
			return
		case <-ticker.C:
			counts, err := app.receiptCache.CountByStatus(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to count receipts")
				continue
			}
			event := logger.Info()
			for status, n := range counts {
				event = event.Int(string(status), n)
			}
			event.Msg("Receipt stats")
		}
	}
}

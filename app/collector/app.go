package collector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tellor-io/supplyx/app/collector/types"
	collect "github.com/tellor-io/supplyx/pkg/collector"
	"github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"github.com/tellor-io/supplyx/pkg/logging"
	"github.com/tellor-io/supplyx/pkg/redis"
	"github.com/tellor-io/supplyx/pkg/rpc"
	"github.com/tellor-io/supplyx/pkg/utils"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	db, dbErr := timeline.New(ctx, logger)
	if dbErr != nil {
		logger.Fatal("Unable to initialize timeline database", zap.Error(dbErr))
	}
	if err := db.InitializeDB(ctx); err != nil {
		logger.Fatal("Unable to initialize timeline tables", zap.Error(err))
	}

	settlement, evmErr := evm.New(ctx, logger, evm.Opts{
		URL:           utils.Env("SETTLEMENT_RPC_URL", "http://localhost:8545"),
		TokenContract: utils.Env("TOKEN_CONTRACT", ""),
		BridgeAddress: utils.Env("BRIDGE_CONTRACT", ""),
		Decimals:      utils.EnvInt("TOKEN_DECIMALS", 18),
	})
	if evmErr != nil {
		logger.Fatal("Unable to initialize settlement chain client", zap.Error(evmErr))
	}

	ledger := rpc.NewClient(rpc.ClientOpts{
		RPCEndpoints: strings.Split(utils.Env("LEDGER_RPC_URL", "http://localhost:26657"), ","),
		APIEndpoints: strings.Split(utils.Env("LEDGER_API_URL", "http://localhost:1317"), ","),
		Denom:        utils.Env("LEDGER_DENOM", "loya"),
		Decimals:     utils.EnvInt("LEDGER_DECIMALS", 6),
		Logger:       logger,
	})

	coll := collect.New(logger, db, settlement, ledger, collect.ConfigFromEnv())

	// Redis is optional; without it events and cross-process locks are disabled.
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - events and run locks will be process-local",
				zap.Error(err))
			redisClient = nil
		} else {
			coll.Publisher = redisClient
			coll.Lock = redisClient
		}
	}

	app := &types.App{
		DB:          db,
		Collector:   coll,
		RedisClient: redisClient,
		Logger:      logger,
	}

	if err := schedule(ctx, app); err != nil {
		logger.Fatal("Unable to schedule collection jobs", zap.Error(err))
	}

	return app
}

// schedule registers the collect and backfill jobs on the cron scheduler.
func schedule(ctx context.Context, app *types.App) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.VerbosePrintfLogger(zap.NewStdLog(app.Logger))),
	))

	cfg := app.Collector.Config()

	collectSpec := utils.Env("COLLECT_CRON", "0 */15 * * * *")
	if _, err := c.AddFunc(collectSpec, func() {
		res, err := app.Collector.Collect(ctx, cfg.Window, cfg.MaxPoints)
		if err != nil {
			if errors.Is(err, collect.ErrAlreadyRunning) {
				app.Logger.Info("Skipping collection run, previous run still active")
				return
			}
			app.Logger.Error("Collection run failed", zap.Error(err))
			return
		}
		app.Logger.Info("Scheduled collection finished",
			zap.Int("collected", res.Collected),
			zap.Int("skipped", res.SkippedExisting),
			zap.Int("partial", res.Partial))
	}); err != nil {
		return err
	}

	backfillSpec := utils.Env("BACKFILL_CRON", "0 5 * * * *")
	if _, err := c.AddFunc(backfillSpec, func() {
		res, err := app.Collector.Backfill(ctx, cfg.BackfillLimit)
		if err != nil {
			if errors.Is(err, collect.ErrAlreadyRunning) {
				return
			}
			app.Logger.Error("Backfill run failed", zap.Error(err))
			return
		}
		app.Logger.Info("Backfill run finished",
			zap.Int("examined", res.Examined),
			zap.Int("improved", res.Improved))
	}); err != nil {
		return err
	}

	app.Cron = c
	return nil
}

// NewServer builds the small health server for the collector daemon.
func NewServer(app *types.App) {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := app.DB.Db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "database connection error"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"running": app.Collector.Running(),
		})
	}).Methods(http.MethodGet)

	addr := utils.Env("ADDR", ":3002")
	app.Server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting health server", zap.String("addr", addr))
}

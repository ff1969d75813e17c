package query

import (
	"context"
	"strings"

	"github.com/tellor-io/supplyx/app/query/types"
	collect "github.com/tellor-io/supplyx/pkg/collector"
	"github.com/tellor-io/supplyx/pkg/db/timeline"
	"github.com/tellor-io/supplyx/pkg/evm"
	"github.com/tellor-io/supplyx/pkg/logging"
	"github.com/tellor-io/supplyx/pkg/redis"
	"github.com/tellor-io/supplyx/pkg/rpc"
	supplytimeline "github.com/tellor-io/supplyx/pkg/timeline"
	"github.com/tellor-io/supplyx/pkg/utils"
	"go.uber.org/zap"
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

	// The admin trigger endpoints need their own chain clients.
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

	// Initialize Redis client for real-time WebSocket events (optional)
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket real-time events will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			coll.Publisher = redisClient
			coll.Lock = redisClient
			logger.Info("Redis client initialized for WebSocket real-time events")
		}
	} else {
		logger.Info("Redis disabled - WebSocket real-time events will not be available")
	}

	return &types.App{
		DB:          db,
		Svc:         supplytimeline.NewService(logger, db),
		Collector:   coll,
		RedisClient: redisClient,
		Logger:      logger,
	}
}

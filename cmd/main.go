package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzap "github.com/hertz-contrib/logger/zap"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"cex-core/biz/dal"
	"cex-core/biz/dal/kafka"
	"cex-core/biz/dal/pg"
	redisDal "cex-core/biz/dal/redis"
	"cex-core/biz/handler"
	"cex-core/biz/service"
	"cex-core/conf"
	"cex-core/server"
)

func main() {
	_ = godotenv.Load()
	cfg := conf.GetConf()
	initLogger(cfg)

	dal.Init()
	defer kafka.CloseAllWriters()

	store := pg.NewStore(pg.GormDB)
	ledger := service.NewLedger(store)
	tracker := service.NewPortfolioTracker(store)

	oracleCfg := cfg.Oracle
	var oracle service.PriceOracle = service.NewHTTPOracle(
		oracleCfg.BaseURL,
		time.Duration(oracleCfg.TimeoutSeconds)*time.Second,
	)
	oracle = service.NewCachedOracle(oracle, redisDal.Client, time.Duration(oracleCfg.CacheTTLMillis)*time.Millisecond)

	emitter := service.NewKafkaEmitter(cfg.Kafka.EventTopic, server.Unicast)

	orderSvc := service.NewOrderService(store, ledger, tracker, oracle, emitter, service.TradingConfigFromConf())
	handler.Init(orderSvc, ledger, tracker)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := service.NewMatchWorker(store, orderSvc, oracle, time.Duration(cfg.Trading.MatchInterval)*time.Second)
	go worker.Run(workerCtx)

	h := server.New()

	if cfg.Registry.Enable {
		registry, err := service.NewConsulRegistry(cfg.Registry.RegistryAddress, cfg.Registry.NodeID)
		if err != nil {
			hlog.Fatalf("consul connect failed: %v", err)
		}
		port := addressPort(cfg.Hertz.Address)
		quoteAssets := service.TradingConfigFromConf().QuoteAssets
		if err := registry.Register(cfg.Hertz.Service, port, quoteAssets); err != nil {
			hlog.Fatalf("consul register failed: %v", err)
		}
		h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
			if err := registry.Deregister(); err != nil {
				hlog.Warnf("consul deregister failed: %v", err)
			}
		})
	}

	h.OnShutdown = append(h.OnShutdown, func(ctx context.Context) {
		stopWorker()
	})

	h.Spin()
}

func initLogger(cfg *conf.Config) {
	logger := hertzzap.NewLogger(hertzzap.WithZapOptions(zap.AddCaller()))
	if cfg.Hertz.LogFileName != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Hertz.LogFileName), 0o755); err != nil {
			panic(err)
		}
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Hertz.LogFileName,
			MaxSize:    cfg.Hertz.LogMaxSize,
			MaxBackups: cfg.Hertz.LogMaxBackups,
			MaxAge:     cfg.Hertz.LogMaxAge,
		})
	}
	hlog.SetLogger(logger)
	hlog.SetLevel(conf.LogLevel())
}

func addressPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arcgis-bridge/internal/arcgis"
	"arcgis-bridge/internal/config"
	"arcgis-bridge/internal/domain"
	httpapi "arcgis-bridge/internal/http"
	"arcgis-bridge/internal/logger"
	"arcgis-bridge/internal/mqtt"
	"arcgis-bridge/internal/service"
	"arcgis-bridge/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "arcgis-bridge")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 配置不完整直接拒绝启动，而不是等到第一次远端调用才失败
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	// 可选：跨 worker 共享的 Token 缓存
	var tokenCache store.KV
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tokenCache = store.NewRedisKV(redisClient)
		log.Info("Shared token cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// 会话对象显式构造、按引用传入各处，进程生命周期内复用
	tokens := arcgis.NewTokenManager(
		cfg.ArcGIS.OrgURL,
		cfg.ArcGIS.Username,
		cfg.ArcGIS.Password,
		cfg.ArcGIS.TokenValidity,
		cfg.ArcGIS.RequestTimeout,
		tokenCache,
		log,
	)
	storeClient := arcgis.NewClient(
		cfg.ArcGIS.FeatureServiceURL,
		cfg.ArcGIS.LayerIndex,
		tokens,
		cfg.ArcGIS.RequestTimeout,
		log,
	)

	mapper := domain.NewMapper()
	ingestSvc := service.NewIngestService(storeClient, mapper, log)
	querySvc := service.NewQueryService(storeClient, mapper, log)

	router := httpapi.NewRouter(log)
	router.RegisterSensorRoutes(httpapi.NewSensorHandler(ingestSvc, querySvc, log))
	hasCreds := cfg.ArcGIS.Username != "" && cfg.ArcGIS.Password != ""
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(tokens, hasCreds, log))

	// 可选：MQTT 触发的单条读数接入
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		c, err := mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		mqttClient = c
		broker := mqtt.NewIngestBroker(ingestSvc, cfg.MQTT.Topic, log)
		if err := broker.Start(mqttClient); err != nil {
			log.Fatal("Failed to start MQTT ingest broker", zap.Error(err))
		}
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server exited", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

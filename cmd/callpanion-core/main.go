package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callpanion-core/internal/auth"
	"callpanion-core/internal/common/database"
	"callpanion-core/internal/common/logger"
	mqttcommon "callpanion-core/internal/common/mqtt"
	rediscommon "callpanion-core/internal/common/redis"
	"callpanion-core/internal/config"
	"callpanion-core/internal/guard"
	httpapi "callpanion-core/internal/http"
	"callpanion-core/internal/metrics"
	callmqtt "callpanion-core/internal/mqtt"
	"callpanion-core/internal/notify"
	"callpanion-core/internal/repository"
	"callpanion-core/internal/service"
	"callpanion-core/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "callpanion-core")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// 限流放行、去重降级，服务仍可启动
		log.Warn("Redis unavailable at startup", zap.Error(err))
	}
	kv := store.NewRedisKV(redisClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// MQTT：设备配对通道、应用内通知、呼叫事件接入
	var mqttClient *mqttcommon.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mqttClient.Disconnect()
	}

	var dispatchers notify.MultiDispatcher
	if cfg.Push.GatewayURL != "" {
		dispatchers = append(dispatchers, notify.NewPushGatewayDispatcher(cfg.Push.GatewayURL, cfg.Push.APIKey, cfg.Push.Timeout, cfg.Push.RetryCount, log))
	}
	var devices notify.DeviceChannel = notify.NopDeviceChannel{}
	if mqttClient != nil {
		dispatchers = append(dispatchers, notify.NewMQTTDispatcher(mqttClient, cfg.MQTT.QoS))
		devices = notify.NewMQTTDeviceChannel(mqttClient, cfg.MQTT.QoS)
	}
	var dispatcher notify.Dispatcher = dispatchers
	if len(dispatchers) == 0 {
		log.Warn("No notification channel configured, notifications will only be logged")
		dispatcher = notify.NopDispatcher{Logger: log}
	}
	sender := notify.NewBestEffort(dispatcher, m, log)

	households := repository.NewPostgresHouseholdRepository(db)
	pairings := repository.NewPostgresPairingRepository(db)
	sessions := repository.NewPostgresCallSessionRepository(db)
	rules := repository.NewPostgresAlertRuleRepository(db, log)
	notifications := repository.NewPostgresNotificationRepository(db)

	pairingSvc := service.NewPairingService(pairings, households, devices, log,
		service.WithPairingTTL(cfg.Pairing.TTL),
		service.WithPairingMetrics(m),
	)
	claimSvc := service.NewClaimService(pairings, m, log)
	alertSvc := service.NewAlertRuleService(rules, notifications, households, sender, kv, cfg.Alerts.EventDedupTTL, m, log)
	callSvc := service.NewCallSessionService(sessions, households, sender, kv, alertSvc, m, log)

	g := guard.New(
		guard.NewOriginGuard(cfg.HTTP.AllowedOrigins),
		guard.NewRateLimiter(redisClient),
		cfg.RateLimits,
		guard.NewStreamAuditor(redisClient),
		m,
		log,
	)
	verifier := auth.NewJWTVerifier(cfg.JWT.SigningKey, cfg.JWT.Issuer)
	if cfg.JWT.SigningKey == "" {
		log.Warn("JWT_SIGNING_KEY not set, authenticated endpoints will reject all requests")
	}

	router := httpapi.NewRouter(log, cfg.HTTP.AllowedOrigins, m)
	if err := router.TrustProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid TRUSTED_PROXIES", zap.Error(err))
	}
	router.RegisterFamilyRoutes(
		httpapi.NewPairingHandler(pairingSvc, claimSvc, verifier, g, log),
		httpapi.NewCallStatusHandler(callSvc, cfg.HTTP.WebhookSecret, g, log),
		httpapi.NewAlertEventHandler(alertSvc, verifier, cfg.HTTP.WebhookSecret, g, log),
	)
	router.RegisterOpsRoutes(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	var broker *callmqtt.CallEventBroker
	if mqttClient != nil {
		broker = callmqtt.NewCallEventBroker(mqttClient, callSvc, cfg.MQTT.QoS, log)
		if err := broker.Start(ctx); err != nil {
			log.Fatal("Failed to start call event broker", zap.Error(err))
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
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}
	cancel()

	if broker != nil {
		broker.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}
}

package config

import (
	"time"

	commoncfg "callpanion-core/internal/common/config"

	"github.com/joho/godotenv"
)

// Quota 限流配额：window 内最多 MaxRequests 次
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

// Config callpanion-core（HTTP API）配置
type Config struct {
	HTTP struct {
		Addr           string
		AllowedOrigins []string
		WebhookSecret  string
		// TrustedProxies 反向代理地址（IP 或 CIDR），只信任它们转发的 X-Forwarded-For
		TrustedProxies []string
	}
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig
	Log      struct {
		Level  string
		Format string
	}
	JWT struct {
		SigningKey string
		Issuer     string
	}
	Push struct {
		GatewayURL string
		APIKey     string
		Timeout    time.Duration
		RetryCount int
	}
	Pairing struct {
		TTL time.Duration
	}
	Alerts struct {
		EventDedupTTL time.Duration
	}
	// 按 endpoint 名称配置的限流配额
	RateLimits map[string]Quota
}

// 限流使用的 endpoint 名称
const (
	EndpointInitiatePairing = "initiate_pairing"
	EndpointLookupPairing   = "lookup_pairing"
	EndpointClaimAccess     = "claim_access"
	EndpointCallStatus      = "update_call_status"
	EndpointProcessEvent    = "process_event"
)

// Load 加载配置：先尝试读取 .env（可选），再从环境变量加载
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = commoncfg.Getenv("HTTP_ADDR", ":8080")
	cfg.HTTP.AllowedOrigins = commoncfg.GetenvList("ALLOWED_ORIGINS", nil)
	cfg.HTTP.WebhookSecret = commoncfg.Getenv("WEBHOOK_SECRET", "")
	cfg.HTTP.TrustedProxies = commoncfg.GetenvList("TRUSTED_PROXIES", nil)

	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "callpanion",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "callpanion-core",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = commoncfg.Getenv("LOG_LEVEL", "info")
	cfg.Log.Format = commoncfg.Getenv("LOG_FORMAT", "json")

	cfg.JWT.SigningKey = commoncfg.Getenv("JWT_SIGNING_KEY", "")
	cfg.JWT.Issuer = commoncfg.Getenv("JWT_ISSUER", "")

	cfg.Push.GatewayURL = commoncfg.Getenv("PUSH_GATEWAY_URL", "")
	cfg.Push.APIKey = commoncfg.Getenv("PUSH_GATEWAY_KEY", "")
	cfg.Push.Timeout = commoncfg.GetenvDuration("PUSH_GATEWAY_TIMEOUT", 10*time.Second)
	cfg.Push.RetryCount = commoncfg.GetenvInt("PUSH_GATEWAY_RETRIES", 2)

	cfg.Pairing.TTL = commoncfg.GetenvDuration("PAIRING_TTL", 10*time.Minute)
	cfg.Alerts.EventDedupTTL = commoncfg.GetenvDuration("ALERT_EVENT_DEDUP_TTL", 24*time.Hour)

	cfg.RateLimits = map[string]Quota{
		EndpointInitiatePairing: loadQuota("RATE_LIMIT_INITIATE_PAIRING", 20, 5*time.Minute),
		EndpointLookupPairing:   loadQuota("RATE_LIMIT_LOOKUP_PAIRING", 10, time.Minute),
		EndpointClaimAccess:     loadQuota("RATE_LIMIT_CLAIM_ACCESS", 10, time.Minute),
		EndpointCallStatus:      loadQuota("RATE_LIMIT_CALL_STATUS", 120, time.Minute),
		EndpointProcessEvent:    loadQuota("RATE_LIMIT_PROCESS_EVENT", 60, time.Minute),
	}

	return cfg
}

// loadQuota 读取 <prefix>_MAX 和 <prefix>_WINDOW
func loadQuota(prefix string, max int, window time.Duration) Quota {
	return Quota{
		MaxRequests: commoncfg.GetenvInt(prefix+"_MAX", max),
		Window:      commoncfg.GetenvDuration(prefix+"_WINDOW", window),
	}
}

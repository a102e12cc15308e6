package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 配置（限流计数、审计流、事件去重共用）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置（设备通道 + 呼叫事件接入）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载数据库配置，未设置的字段保持原值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = Getenv(prefix+"_HOST", c.Host)
	c.Port = GetenvInt(prefix+"_PORT", c.Port)
	c.User = Getenv(prefix+"_USER", c.User)
	c.Password = Getenv(prefix+"_PASSWORD", c.Password)
	c.Database = Getenv(prefix+"_NAME", c.Database)
	c.SSLMode = Getenv(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = GetenvInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = GetenvInt(prefix+"_MAX_IDLE", c.MaxIdle)
	c.ConnMaxLifetime = GetenvDuration(prefix+"_CONN_MAX_LIFETIME", c.ConnMaxLifetime)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = Getenv(prefix+"_ADDR", c.Addr)
	c.Password = Getenv(prefix+"_PASSWORD", c.Password)
	c.DB = GetenvInt(prefix+"_DB", c.DB)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Enabled = GetenvBool(prefix+"_ENABLED", c.Enabled)
	c.Broker = Getenv(prefix+"_BROKER", c.Broker)
	c.ClientID = Getenv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = Getenv(prefix+"_USERNAME", c.Username)
	c.Password = Getenv(prefix+"_PASSWORD", c.Password)
	c.QoS = byte(GetenvInt(prefix+"_QOS", int(c.QoS)))
}

// Getenv 读取环境变量，为空时返回默认值
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

func GetenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetenvDuration 支持 "10m"、"30s" 等 time.ParseDuration 格式
func GetenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// GetenvList 读取逗号分隔的列表，忽略空项
func GetenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config arcgis-bridge（传感器数据接入服务）配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Log struct {
		Level  string
		Format string
	}
	ArcGIS ArcGISConfig `yaml:"arcgis"`
	Redis  RedisConfig  `yaml:"redis"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// ArcGISConfig ArcGIS Online 连接配置
type ArcGISConfig struct {
	OrgURL            string        `yaml:"org_url"`             // 组织门户地址（如 https://www.arcgis.com）
	Username          string        `yaml:"username"`            // 账号
	Password          string        `yaml:"password"`            // 密码
	FeatureServiceURL string        `yaml:"feature_service_url"` // Hosted Feature Service 地址
	LayerIndex        int           `yaml:"layer_index"`         // 目标表的 Layer 序号
	RequestTimeout    time.Duration `yaml:"request_timeout"`     // 单次调用超时
	TokenValidity     time.Duration `yaml:"token_validity"`      // 申请的 Token 有效期
}

// RedisConfig 可选的跨进程 Token 缓存
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT 配置（用于消息触发的单条读数接入，默认禁用）
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`    // MQTT Broker 地址（如 "tcp://localhost:1883"）
	ClientID string `yaml:"client_id"` // 客户端 ID
	Username string `yaml:"username"`  // 用户名（可选）
	Password string `yaml:"password"`  // 密码（可选）
	Topic    string `yaml:"topic"`     // 订阅的主题（如 "sensors/readings"）
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.ArcGIS.OrgURL = strings.TrimRight(getEnv("ARCGIS_URL", "https://www.arcgis.com"), "/")
	cfg.ArcGIS.Username = getEnv("ARCGIS_USERNAME", "")
	cfg.ArcGIS.Password = getEnv("ARCGIS_PASSWORD", "")
	cfg.ArcGIS.FeatureServiceURL = strings.TrimRight(getEnv("FEATURE_SERVICE_URL", ""), "/")
	cfg.ArcGIS.LayerIndex = parseInt(getEnv("FEATURE_LAYER_INDEX", ""), -1)
	cfg.ArcGIS.RequestTimeout = time.Duration(parseInt(getEnv("ARCGIS_TIMEOUT_SECONDS", "10"), 10)) * time.Second
	cfg.ArcGIS.TokenValidity = 60 * time.Minute

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "arcgis-bridge")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "sensors/readings")

	return cfg
}

// Validate 启动期校验：缺少任一必填项直接拒绝启动，而不是等到第一次远端调用才失败。
// 返回的错误一次性列出所有缺失项。
func (c *Config) Validate() error {
	var missing []string
	if c.ArcGIS.OrgURL == "" {
		missing = append(missing, "ARCGIS_URL")
	}
	if c.ArcGIS.Username == "" {
		missing = append(missing, "ARCGIS_USERNAME")
	}
	if c.ArcGIS.Password == "" {
		missing = append(missing, "ARCGIS_PASSWORD")
	}
	if c.ArcGIS.FeatureServiceURL == "" {
		missing = append(missing, "FEATURE_SERVICE_URL")
	}
	if c.ArcGIS.LayerIndex < 0 {
		missing = append(missing, "FEATURE_LAYER_INDEX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

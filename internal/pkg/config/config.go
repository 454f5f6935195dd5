package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 汇总了所有部署单元共享的配置。
// 加载顺序：默认值 -> 可选的 YAML 文件 -> 环境变量，后者覆盖前者。
type Config struct {
	App struct {
		HTTPPort int `yaml:"httpPort"`
	} `yaml:"app"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Kafka struct {
			Brokers string `yaml:"brokers"` // 逗号分隔
		} `yaml:"kafka"`
		Redis struct {
			Addrs string `yaml:"addrs"` // 逗号分隔
		} `yaml:"redis"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
	} `yaml:"infra"`

	Fulfillment struct {
		Topic                string `yaml:"topic"`
		GroupID              string `yaml:"groupId"`
		DLTTopic             string `yaml:"dltTopic"`
		MaxAttempts          int    `yaml:"maxAttempts"`
		BackoffSeconds       []int  `yaml:"backoffSeconds"`
		DispatchDelaySeconds int    `yaml:"dispatchDelaySeconds"`
	} `yaml:"fulfillment"`
}

// Load 加载配置。path 为空或文件不存在时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.HTTPPort = 8080
	cfg.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/shopflow?charset=utf8mb4&parseTime=True&loc=UTC"
	cfg.Infra.Kafka.Brokers = "localhost:9092"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Fulfillment.Topic = "order-fulfillment-topic"
	cfg.Fulfillment.GroupID = "fulfillment-worker-group"
	cfg.Fulfillment.DLTTopic = "order-fulfillment-dlt"
	cfg.Fulfillment.MaxAttempts = 3
	cfg.Fulfillment.BackoffSeconds = []int{5, 10, 15}
	cfg.Fulfillment.DispatchDelaySeconds = 2
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if port, err := strconv.Atoi(getEnv("HTTP_PORT", "")); err == nil && port > 0 {
		cfg.App.HTTPPort = port
	}
}

// KafkaBrokers 返回拆分后的 broker 地址列表
func (c *Config) KafkaBrokers() []string {
	return strings.Split(c.Infra.Kafka.Brokers, ",")
}

// getEnv 从环境变量中读取配置，缺省时返回 fallback
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Beacon   BeaconConfig   `yaml:"beacon"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	EmailSeenTopicName string `yaml:"email_seen_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type BeaconConfig struct {
	APIAddr   string `yaml:"api_addr"`
	PixelAddr string `yaml:"pixel_addr"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// База URL, по которой снаружи доступен pixel-сервис; из неё собираются
	// ссылки на картинку в письмах.
	PixelBaseURL string `yaml:"pixel_base_url"`

	StatsTTLSeconds int `yaml:"stats_ttl_seconds"`

	// seen_at только первого открытия вместо сдвига на каждый фетч.
	FirstOpenOnly bool `yaml:"first_open_only"`

	// Отдавать настоящую 1x1 картинку вместо JSON на /update.
	PixelResponse bool `yaml:"pixel_response"`

	CreateRateLimitPerMinute  int `yaml:"create_rate_limit_per_minute"`
	PublishRateLimitPerMinute int `yaml:"publish_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

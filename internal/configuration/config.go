package configuration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "config.json"

type MongoConfig struct {
	Uri         string `json:"uri"`
	Database    string `json:"database"`
	SocketRoute string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RedisConfig struct {
	Url               string `json:"url"`
	SendLimit         int64  `json:"send_limit"`
	SendWindowSeconds int    `json:"send_window_seconds"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type TaskConfig struct {
	Concurrency    int `json:"concurrency"`
	LocalQueueSize int `json:"local_queue_size"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Server       ServerConfig `json:"server"`
	Redis        RedisConfig  `json:"redis"`
	Kafka        KafkaConfig  `json:"kafka"`
	Tasks        TaskConfig   `json:"tasks"`
	Debug        bool         `json:"debug"`
}

// Load reads .env, then the JSON file named by CONFIG_PATH, then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	required := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	config, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		config, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)
	return config, nil
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", config_path, err)
	}

	return &config, nil
}

func applyEnv(c *Config) error {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.ChatDatabase.Uri = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		c.ChatDatabase.Database = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.Url = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("APP_PORT: %w", err)
		}
		c.Server.AppPort = port
	}
	if v := os.Getenv("SOCKET_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SOCKET_PORT: %w", err)
		}
		c.Server.SocketPort = port
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.ChatDatabase.Uri == "" {
		c.ChatDatabase.Uri = "mongodb://localhost:27017"
	}
	if c.ChatDatabase.Database == "" {
		c.ChatDatabase.Database = "parley"
	}
	if c.ChatDatabase.SocketRoute == "" {
		c.ChatDatabase.SocketRoute = "ws"
	}
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.SocketPort == 0 {
		c.Server.SocketPort = 8081
	}
	if c.Redis.SendLimit == 0 {
		c.Redis.SendLimit = 20
	}
	if c.Redis.SendWindowSeconds == 0 {
		c.Redis.SendWindowSeconds = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "parley.messages"
	}
	if c.Tasks.Concurrency == 0 {
		c.Tasks.Concurrency = 2
	}
	if c.Tasks.LocalQueueSize == 0 {
		c.Tasks.LocalQueueSize = 256
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

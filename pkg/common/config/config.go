package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Remote classification service
	APIHost      string        `yaml:"api_host"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	AppVersion   string        `yaml:"app_version"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	// Upload / acquisition behaviour
	MaxWorkers               int           `yaml:"max_workers"`
	GetTimeout               time.Duration `yaml:"get_timeout"`
	RetryInterval            time.Duration `yaml:"retry_interval"`
	ForceAccessionEqualStudy bool          `yaml:"force_accession_equal_study"`
	OutputDir                string        `yaml:"output_dir"`

	// Server (result worker)
	ServerPort   string        `yaml:"server_port"`
	ServerHost   string        `yaml:"server_host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Database
	PostgresEnabled  bool   `yaml:"postgres_enabled"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Redis
	RedisEnabled   bool          `yaml:"redis_enabled"`
	RedisHost      string        `yaml:"redis_host"`
	RedisPort      string        `yaml:"redis_port"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`

	// Kafka
	KafkaEnabled        bool     `yaml:"kafka_enabled"`
	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaGroupID        string   `yaml:"kafka_group_id"`
	UploadedTopic       string   `yaml:"uploaded_topic"`
	ResultAcquiredTopic string   `yaml:"result_acquired_topic"`
}

func Load() *Config {
	return &Config{
		APIHost:      getEnv("VISION_API_HOST", ""),
		ClientID:     getEnv("VISION_CLIENT_ID", ""),
		ClientSecret: getEnv("VISION_CLIENT_SECRET", ""),
		AppVersion:   getEnv("VISION_APP_VERSION", "0.0.0.not-specified"),
		HTTPTimeout:  getDuration("VISION_HTTP_TIMEOUT", 300*time.Second),

		MaxWorkers:               getIntEnv("VISION_MAX_WORKERS", 4),
		GetTimeout:               getDuration("VISION_GET_TIMEOUT", 300*time.Second),
		RetryInterval:            getDuration("VISION_RETRY_INTERVAL", time.Second),
		ForceAccessionEqualStudy: getBoolEnv("VISION_FORCE_ACCESSION_EQUAL_STUDY", false),
		OutputDir:                getEnv("VISION_OUTPUT_DIR", "output"),

		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresEnabled:  getBoolEnv("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "vision"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "vision"),
		PostgresDB:       getEnv("POSTGRES_DB", "vision"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisEnabled:   getBoolEnv("REDIS_ENABLED", false),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		ResultCacheTTL: getDuration("RESULT_CACHE_TTL", 24*time.Hour),

		KafkaEnabled:        getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "vision-result-worker"),
		UploadedTopic:       getEnv("KAFKA_UPLOADED_TOPIC", "vision.study.uploaded"),
		ResultAcquiredTopic: getEnv("KAFKA_RESULT_TOPIC", "vision.result.acquired"),
	}
}

// LoadFile overlays a YAML file on top of the environment defaults. Keys absent
// from the file keep their Load value. An empty path is the same as Load.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports missing credentials for the remote service.
func (c *Config) Validate() error {
	var missing []string
	if c.APIHost == "" {
		missing = append(missing, "api host")
	}
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

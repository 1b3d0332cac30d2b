package config

import (
	"os"
	"strconv"
	"time"
)

type LeakServiceConfig struct {
	Port             string
	LogDir           string
	DetectionCfgPath string
	PatternsFile     string
	MatchLogFile     string
	ExportFolder     string
	NumWorkers       int
	CleanupInterval  time.Duration
	PostgresCfg      PostgresConfig
	RabbitMQCfg      RabbitMQConfig
	RedisCfg         RedisConfig
	MinioCfg         MinioConfig
}

type MinioConfig struct {
	MinioURL       string
	MinioAccessKey string
	MinioSecretKey string
	MinioLocation  string
	MinioSecure    string
	Enabled        bool
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string
	Enabled  bool
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	Enabled  bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

func New() *LeakServiceConfig {
	return &LeakServiceConfig{
		Port:             getEnvOrDefault("PORT", "8090"),
		LogDir:           getEnvOrDefault("LOG_DIR", "/tafe/log/leak_service"),
		DetectionCfgPath: getEnvOrDefault("DETECTION_CONFIG_PATH", "config_leak_detection.yml"),
		PatternsFile:     getEnvOrDefault("PATTERNS_FILE", "False_Alarm_Patterns.csv"),
		MatchLogFile:     getEnvOrDefault("PATTERN_MATCHES_LOG", "Pattern_Matches_Log.csv"),
		ExportFolder:     getEnvOrDefault("EXPORT_FOLDER", "exports"),
		NumWorkers:       getEnvIntOrDefault("NUM_WORKERS", 0),
		CleanupInterval:  getEnvDurationOrDefault("PATTERN_CLEANUP_INTERVAL", 24*time.Hour),
		PostgresCfg: PostgresConfig{
			DBname:   getEnvOrDefault("POSTGRES_DB", "leak_detection"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
			Enabled:  getEnvBoolOrDefault("POSTGRES_ENABLED", false),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
			Host:     getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
			Enabled:  getEnvBoolOrDefault("RABBITMQ_ENABLED", false),
		},
		RedisCfg: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			Enabled:  getEnvBoolOrDefault("REDIS_ENABLED", false),
		},
		MinioCfg: MinioConfig{
			MinioURL:       getEnvOrDefault("MINIO_ENDPOINT", "http://localhost:9407"),
			MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minio"),
			MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minio123"),
			MinioLocation:  getEnvOrDefault("MINIO_LOCATION", "us-east-1"),
			MinioSecure:    getEnvOrDefault("MINIO_SECURE", "false"),
			Enabled:        getEnvBoolOrDefault("MINIO_ENABLED", false),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

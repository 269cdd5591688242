package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DataSourceSynthetic = "synthetic"
	DataSourcePostgres  = "postgres"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaGroupID     string
	AlertTopic       string
	TransfusionTopic string

	// Model lifecycle
	ArtifactDir     string
	ModelConfigPath string
	TrainOnStart    bool

	// Training data
	DataSource        string
	SyntheticPatients int
	SyntheticDonors   int
	SyntheticSeed     int64

	// Alerts
	AlertWorkers int
	AlertLimit   int

	// Feature cache
	FeatureCacheEnabled bool
	FeatureCacheTTL     time.Duration

	PredictionLogEnabled bool
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8090"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 2*time.Minute),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "thalcare"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "thalcare123"),
		PostgresDB:       getEnv("POSTGRES_DB", "thalcare"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "thal-ml-service"),
		AlertTopic:       getEnv("THAL_ALERT_TOPIC", ""),
		TransfusionTopic: getEnv("THAL_TRANSFUSION_TOPIC", ""),

		ArtifactDir:     getEnv("THAL_ARTIFACT_DIR", "./saved_models"),
		ModelConfigPath: getEnv("THAL_MODEL_CONFIG", ""),
		TrainOnStart:    getBoolEnv("THAL_TRAIN_ON_START", true),

		DataSource:        getEnv("THAL_DATA_SOURCE", DataSourceSynthetic),
		SyntheticPatients: getIntEnv("THAL_SYNTHETIC_PATIENTS", 80),
		SyntheticDonors:   getIntEnv("THAL_SYNTHETIC_DONORS", 300),
		SyntheticSeed:     int64(getIntEnv("THAL_SYNTHETIC_SEED", 42)),

		AlertWorkers: getIntEnv("THAL_ALERT_WORKERS", 4),
		AlertLimit:   getIntEnv("THAL_ALERT_LIMIT", 20),

		FeatureCacheEnabled: getBoolEnv("THAL_FEATURE_CACHE", false),
		FeatureCacheTTL:     getDuration("THAL_FEATURE_CACHE_TTL", 10*time.Minute),

		PredictionLogEnabled: getBoolEnv("THAL_PREDICTION_LOG", false),
	}
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
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the services consume. It is built once in main
// and handed to constructors by value; nothing mutates it afterwards.
type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Remote SFTP endpoint
	SFTPHost       string
	SFTPPort       int
	SFTPUser       string
	SFTPPassword   string
	SFTPBaseDir    string
	ConnectTimeout time.Duration

	// Remote layout
	LedgerFileName string
	ECGSubdir      string

	// Local working set
	LocalDataDir string

	// Transfer policy
	MaxRetries int
	RetryDelay time.Duration

	// Redis (viewer read-cache, optional)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Kafka (alert notification transport, optional)
	KafkaBrokers []string
	AlertTopic   string

	// Alerting
	AlertRulesFile string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 60*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		SFTPHost:       getEnv("SFTP_HOST", ""),
		SFTPPort:       getIntEnv("SFTP_PORT", 22),
		SFTPUser:       getEnv("SFTP_USER", ""),
		SFTPPassword:   getEnv("SFTP_PASSWORD", ""),
		SFTPBaseDir:    getEnv("SFTP_BASE_DIR", ""),
		ConnectTimeout: getDuration("SFTP_CONNECT_TIMEOUT", 30*time.Second),

		LedgerFileName: getEnv("LEDGER_FILE", "signos_vitales.csv"),
		ECGSubdir:      getEnv("ECG_SUBDIR", "ecgs"),

		LocalDataDir: getEnv("LOCAL_DATA_DIR", "data"),

		MaxRetries: getIntEnv("TRANSFER_MAX_RETRIES", 3),
		RetryDelay: getDuration("TRANSFER_RETRY_DELAY", 5*time.Second),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", 2*time.Minute),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", nil),
		AlertTopic:   getEnv("ALERT_TOPIC", "vitaledger.alerts"),

		AlertRulesFile: getEnv("ALERT_RULES_FILE", ""),
	}
}

// Validate reports the remote-endpoint keys that have no usable value. Absence
// of any of them is a fatal startup condition for every deployable.
func (c *Config) Validate() error {
	var missing []string
	if c.SFTPHost == "" {
		missing = append(missing, "SFTP_HOST")
	}
	if c.SFTPUser == "" {
		missing = append(missing, "SFTP_USER")
	}
	if c.SFTPPassword == "" {
		missing = append(missing, "SFTP_PASSWORD")
	}
	if c.SFTPBaseDir == "" {
		missing = append(missing, "SFTP_BASE_DIR")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
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

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
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

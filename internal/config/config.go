package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	BusNone  = "none"
	BusLog   = "log"
	BusKafka = "kafka"
	BusNATS  = "nats"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel             string
	RingSize             int
	IdempotencyCacheSize int
	StoreDriver          string
	PGDSN                string
	BusDriver            string
	KafkaBrokers         []string
	KafkaInputTopic      string
	KafkaGroupID         string
	NATSURL              string
	NATSSubjectRoot      string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RedisTTL             time.Duration
	PublishWorkers       int
	PublishRetries       int
	RetryBackoff         time.Duration
	StorageBatchSize     int
	JournalPath          string
	CheckpointPath       string
	MetricsAddr          string
	In                   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("ring-size", 1024)
	v.SetDefault("idempotency-cache-size", 100_000)
	v.SetDefault("store", StoreMemory)
	v.SetDefault("bus", BusLog)
	v.SetDefault("kafka-group-id", "exchange-core")
	v.SetDefault("nats-subject-root", "exchange")
	v.SetDefault("redis-ttl", 24*time.Hour)
	v.SetDefault("publish-workers", 4)
	v.SetDefault("publish-retries", 2)
	v.SetDefault("retry-backoff", 100*time.Millisecond)
	v.SetDefault("storage-batch-size", 256)
	v.SetDefault("checkpoint", "./data/checkpoint.json")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:             v.GetString("log-level"),
		RingSize:             v.GetInt("ring-size"),
		IdempotencyCacheSize: v.GetInt("idempotency-cache-size"),
		StoreDriver:          strings.ToLower(v.GetString("store")),
		PGDSN:                v.GetString("pg-dsn"),
		BusDriver:            strings.ToLower(v.GetString("bus")),
		KafkaBrokers:         getStringSlice(v, "kafka-brokers"),
		KafkaInputTopic:      v.GetString("kafka-input-topic"),
		KafkaGroupID:         v.GetString("kafka-group-id"),
		NATSURL:              v.GetString("nats-url"),
		NATSSubjectRoot:      v.GetString("nats-subject-root"),
		RedisAddr:            v.GetString("redis-addr"),
		RedisPassword:        v.GetString("redis-password"),
		RedisDB:              v.GetInt("redis-db"),
		RedisTTL:             v.GetDuration("redis-ttl"),
		PublishWorkers:       v.GetInt("publish-workers"),
		PublishRetries:       v.GetInt("publish-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		StorageBatchSize:     v.GetInt("storage-batch-size"),
		JournalPath:          v.GetString("journal"),
		CheckpointPath:       v.GetString("checkpoint"),
		MetricsAddr:          v.GetString("metrics-addr"),
		In:                   v.GetString("in"),
	}

	return cfg, nil
}

// Validate checks driver names and the settings each driver needs.
func (c Config) Validate() error {
	var errs []error
	if c.RingSize <= 0 {
		errs = append(errs, fmt.Errorf("ring size must be positive, got %d", c.RingSize))
	}
	if c.PublishWorkers <= 0 {
		errs = append(errs, fmt.Errorf("publish workers must be positive, got %d", c.PublishWorkers))
	}
	if c.PublishRetries < 0 {
		errs = append(errs, fmt.Errorf("publish retries cannot be negative"))
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("pg-dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.StoreDriver))
	}

	switch c.BusDriver {
	case BusNone, BusLog:
	case BusKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka-brokers is required for the kafka bus"))
		}
	case BusNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("nats-url is required for the nats bus"))
		}
		if c.NATSSubjectRoot == "" {
			errs = append(errs, errors.New("nats-subject-root cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus %q", c.BusDriver))
	}

	return errors.Join(errs...)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

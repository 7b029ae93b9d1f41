package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/temcen/fusionrec/pkg/models"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Security   SecurityConfig   `mapstructure:"security"`
	Index      IndexConfig      `mapstructure:"index"`
	CF         CFConfig         `mapstructure:"cf"`
	Content    ContentConfig    `mapstructure:"content"`
	Popularity PopularityConfig `mapstructure:"popularity"`
	Candidates CandidateConfig  `mapstructure:"candidates"`
	Fusion     FusionConfig     `mapstructure:"fusion"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig separates the recommendation cache from the shared index
// generations so they can be sized and evicted independently.
type RedisConfig struct {
	Cache RedisInstanceConfig `mapstructure:"cache"`
	Index RedisInstanceConfig `mapstructure:"index"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		GenerationEvents string `mapstructure:"generation_events"`
		RebuildRequests  string `mapstructure:"rebuild_requests"`
		RebuildDLQ       string `mapstructure:"rebuild_dlq"`
	} `mapstructure:"topics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type IndexConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Retain    int    `mapstructure:"retain"`
}

type CFConfig struct {
	Window           time.Duration `mapstructure:"window"`
	MinCoUsers       int           `mapstructure:"min_co_users"`
	MinItemPurchases int           `mapstructure:"min_item_purchases"`
	MinSimilarity    float64       `mapstructure:"min_similarity"`
	TopK             int           `mapstructure:"top_k"`
	Workers          int           `mapstructure:"workers"`
}

type ContentConfig struct {
	TagWeight         float64 `mapstructure:"tag_weight"`
	CategoricalWeight float64 `mapstructure:"categorical_weight"`
	NumericWeight     float64 `mapstructure:"numeric_weight"`
	MinDF             int     `mapstructure:"min_df"`
	MaxDF             float64 `mapstructure:"max_df"`
	MaxFeatures       int     `mapstructure:"max_features"`
	MinSimilarity     float64 `mapstructure:"min_similarity"`
	TopK              int     `mapstructure:"top_k"`
	Workers           int     `mapstructure:"workers"`
}

type PopularityConfig struct {
	Window time.Duration `mapstructure:"window"`
	// Mode is "amount" (sum of purchase amount) or "count" (sum of quantity).
	Mode string `mapstructure:"mode"`
}

type CandidateConfig struct {
	RecentPurchases int           `mapstructure:"recent_purchases"`
	DecayFactor     float64       `mapstructure:"decay_factor"`
	CFMinHistory    int           `mapstructure:"cf_min_history"`
	NeighborK       int           `mapstructure:"neighbor_k"`
	CFLimit         int           `mapstructure:"cf_limit"`
	ContentLimit    int           `mapstructure:"content_limit"`
	PopularityLimit int           `mapstructure:"popularity_limit"`
	CategoryBoost   float64       `mapstructure:"category_boost"`
	SourceTimeout   time.Duration `mapstructure:"source_timeout"`
}

type FusionConfig struct {
	Weights          models.Weights `mapstructure:"weights"`
	DiversityStep    float64        `mapstructure:"diversity_step"`
	DiversityCap     float64        `mapstructure:"diversity_cap"`
	MaxK             int            `mapstructure:"max_k"`
	AlgorithmVersion string         `mapstructure:"algorithm_version"`
	RequestTimeout   time.Duration  `mapstructure:"request_timeout"`
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "redis" or "memory".
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type JobsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	BuildOnStart       bool          `mapstructure:"build_on_start"`
	CFInterval         time.Duration `mapstructure:"cf_interval"`
	ContentInterval    time.Duration `mapstructure:"content_interval"`
	PopularityInterval time.Duration `mapstructure:"popularity_interval"`
	BuildTimeout       time.Duration `mapstructure:"build_timeout"`
	RecordTTL          time.Duration `mapstructure:"record_ttl"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the built-in defaults without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.url", "postgres://localhost:5432/fusionrec")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.cache.url", "localhost:6379")
	v.SetDefault("redis.cache.max_retries", 3)
	v.SetDefault("redis.cache.pool_size", 10)
	v.SetDefault("redis.cache.timeout", "2s")
	v.SetDefault("redis.index.url", "localhost:6379")
	v.SetDefault("redis.index.max_retries", 2)
	v.SetDefault("redis.index.pool_size", 20)
	v.SetDefault("redis.index.timeout", "1s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "fusionrec-jobs")
	v.SetDefault("kafka.topics.generation_events", "index.generation.built")
	v.SetDefault("kafka.topics.rebuild_requests", "index.rebuild.requests")
	v.SetDefault("kafka.topics.rebuild_dlq", "index.rebuild.requests.dlq")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})

	// Index defaults
	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.key_prefix", "fusionrec")
	v.SetDefault("index.retain", 3)

	// Collaborative filtering defaults
	v.SetDefault("cf.window", "4320h")
	v.SetDefault("cf.min_co_users", 5)
	v.SetDefault("cf.min_item_purchases", 5)
	v.SetDefault("cf.min_similarity", 0.01)
	v.SetDefault("cf.top_k", 50)
	v.SetDefault("cf.workers", 4)

	// Content similarity defaults
	v.SetDefault("content.tag_weight", 0.4)
	v.SetDefault("content.categorical_weight", 0.3)
	v.SetDefault("content.numeric_weight", 0.3)
	v.SetDefault("content.min_df", 2)
	v.SetDefault("content.max_df", 0.8)
	v.SetDefault("content.max_features", 500)
	v.SetDefault("content.min_similarity", 0.1)
	v.SetDefault("content.top_k", 50)
	v.SetDefault("content.workers", 4)

	// Popularity defaults
	v.SetDefault("popularity.window", "720h")
	v.SetDefault("popularity.mode", "amount")

	// Candidate generation defaults
	v.SetDefault("candidates.recent_purchases", 5)
	v.SetDefault("candidates.decay_factor", 0.9)
	v.SetDefault("candidates.cf_min_history", 2)
	v.SetDefault("candidates.neighbor_k", 50)
	v.SetDefault("candidates.cf_limit", 100)
	v.SetDefault("candidates.content_limit", 100)
	v.SetDefault("candidates.popularity_limit", 100)
	v.SetDefault("candidates.category_boost", 1.5)
	v.SetDefault("candidates.source_timeout", "800ms")

	// Fusion defaults
	weights := models.DefaultWeights()
	v.SetDefault("fusion.weights.cf", weights.CF)
	v.SetDefault("fusion.weights.content", weights.Content)
	v.SetDefault("fusion.weights.popularity", weights.Popularity)
	v.SetDefault("fusion.weights.novelty", weights.Novelty)
	v.SetDefault("fusion.weights.price_gap", weights.PriceGap)
	v.SetDefault("fusion.diversity_step", 0.1)
	v.SetDefault("fusion.diversity_cap", 0.5)
	v.SetDefault("fusion.max_k", 100)
	v.SetDefault("fusion.algorithm_version", "hybrid-v1")
	v.SetDefault("fusion.request_timeout", "2s")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ttl", "15m")

	// Job defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.build_on_start", true)
	v.SetDefault("jobs.cf_interval", "24h")
	v.SetDefault("jobs.content_interval", "24h")
	v.SetDefault("jobs.popularity_interval", "1h")
	v.SetDefault("jobs.build_timeout", "30m")
	v.SetDefault("jobs.record_ttl", "168h")

	// Circuit breaker defaults
	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", "1m")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.min_requests", 10)
	v.SetDefault("breaker.failure_ratio", 0.6)
}

package config

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string          `mapstructure:"env"`
	LogLevel       string          `mapstructure:"log_level"`
	LogType        string          `mapstructure:"log_type"`
	ServiceName    string          `mapstructure:"service_name"`
	Version        string          `mapstructure:"version"`
	SearchSettings *SearchConfig   `mapstructure:"search"`
	PortalSettings *PortalConfig   `mapstructure:"portal"`
	FetchSettings  *FetchConfig    `mapstructure:"fetch"`
	ProxySettings  *ProxyConfig    `mapstructure:"proxy"`
	CacheSettings  *CacheConfig    `mapstructure:"cache"`
	DbSettings     *DatabaseConfig `mapstructure:"database"`
	KafkaSettings  *KafkaConfig    `mapstructure:"kafka"`
	S3Settings     *S3Config       `mapstructure:"s3"`
}

type SearchConfig struct {
	Location       string   `mapstructure:"location"`
	Category       string   `mapstructure:"category"`
	PropertyType   string   `mapstructure:"property_type"`
	MinBedrooms    int      `mapstructure:"min_bedrooms"`
	MaxBedrooms    int      `mapstructure:"max_bedrooms"`
	MinPrice       int      `mapstructure:"min_price"`
	MaxPrice       int      `mapstructure:"max_price"`
	Radius         float64  `mapstructure:"radius"`
	IncludeDetails bool     `mapstructure:"include_details"`
	ResultsWanted  int      `mapstructure:"results_wanted"`
	MaxPages       int      `mapstructure:"max_pages"`
	StartURLs      []string `mapstructure:"start_urls"`
}

type PortalConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	SearchPaths    map[string]string `mapstructure:"search_paths"` // category -> path
	PageParam      string            `mapstructure:"page_param"`
	DetailDataPath string            `mapstructure:"detail_data_path"` // printf template taking the listing id
}

type FetchConfig struct {
	Transport           string        `mapstructure:"transport"` // "browser" or "http"
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	DetailRetryAttempts int           `mapstructure:"detail_retry_attempts"`
	ChallengePoll       time.Duration `mapstructure:"challenge_poll"`
	ChallengeWait       time.Duration `mapstructure:"challenge_wait"`
	PolitenessMin       time.Duration `mapstructure:"politeness_min"`
	PolitenessMax       time.Duration `mapstructure:"politeness_max"`
	DetailDelay         time.Duration `mapstructure:"detail_delay"`
}

type ProxyConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Servers    string        `mapstructure:"servers"`
	TtlForSeen time.Duration `mapstructure:"ttl_for_seen"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type S3Config struct {
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

// Validate covers the single fatal startup case: a run needs either a search
// location or at least one explicit start url. Everything else degrades at
// runtime instead of aborting.
func (c *Config) Validate() error {
	if c.SearchSettings == nil || (c.SearchSettings.Location == "" && len(c.SearchSettings.StartURLs) == 0) {
		return errors.New("a search location or at least one start url is required")
	}
	return nil
}

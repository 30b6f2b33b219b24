// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Database connections
	Store     *StoreConfig     `yaml:"store"`
	Snowflake *SnowflakeConfig `yaml:"snowflake"`

	// Files and artifacts (local paths or s3:// URIs)
	Paths PathsConfig `yaml:"paths"`

	// Cleaning settings
	Cleaning CleaningConfig `yaml:"cleaning"`

	// Training and scoring settings
	Model ModelConfig `yaml:"model"`

	// Notification settings
	Notify NotifyConfig `yaml:"notify"`

	// Run lock settings
	Lock LockConfig `yaml:"lock"`

	// Cron spec for scheduled runs
	Schedule string `yaml:"schedule"`

	// Worker pool used for feature encoding, 0 means runtime.NumCPU()
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// PathsConfig holds the location of every file the pipeline reads or writes
type PathsConfig struct {
	RawSource    string `yaml:"raw_source"` // csv or snowflake
	RawData      string `yaml:"raw_data"`
	CleanedData  string `yaml:"cleaned_data"`
	Model        string `yaml:"model"`
	Encoding     string `yaml:"encoding"`
	CSVDelimiter string `yaml:"csv_delimiter"`
	AWSRegion    string `yaml:"aws_region"`
}

// CleaningConfig controls how raw columns are recognised and identified
type CleaningConfig struct {
	EngagementColumns []string `yaml:"engagement_columns"`
	DateColumnTokens  []string `yaml:"date_column_tokens"`
	RecordIDStrategy  string   `yaml:"record_id_strategy"` // sequential or hash
	NaturalKeyColumns []string `yaml:"natural_key_columns"`
}

// ModelConfig controls the optional training stage and scoring
type ModelConfig struct {
	TrainOnRun      bool     `yaml:"train_on_run"`
	TargetColumns   []string `yaml:"target_columns"`
	TargetThreshold float64  `yaml:"target_threshold"`
	FeatureExclude  []string `yaml:"feature_exclude"`
	Version         string   `yaml:"version"`
}

// NotifyConfig holds the notification channel and its credentials
type NotifyConfig struct {
	Channel      string `yaml:"channel"` // log, smtp or ses
	Sender       string `yaml:"sender"`
	Receiver     string `yaml:"receiver"`
	Password     string `yaml:"password"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SESRegion    string `yaml:"ses_region"`
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
}

// LockConfig selects the backend preventing concurrent runs
type LockConfig struct {
	Backend  string        `yaml:"backend"` // none, postgres or redis
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns the configuration used before any file or environment overlay
func Default() *Config {
	return &Config{
		Store: DefaultStoreConfig(),
		Paths: PathsConfig{
			RawSource:    "csv",
			RawData:      "data/social_media_engagement.csv",
			CleanedData:  "data/cleaned_social_media_data.csv",
			Model:        "artifacts/engagement_model.json",
			Encoding:     "artifacts/category_encoding.json",
			CSVDelimiter: ",",
			AWSRegion:    "us-east-1",
		},
		Cleaning: CleaningConfig{
			EngagementColumns: []string{"likes", "shares", "comments", "impressions", "reach", "followers"},
			DateColumnTokens:  []string{"date"},
			RecordIDStrategy:  "sequential",
		},
		Model: ModelConfig{
			TargetColumns:   []string{"likes_count", "shares_count", "comments_count"},
			TargetThreshold: 500,
			Version:         "v1",
		},
		Notify: NotifyConfig{
			Channel:   "log",
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  465,
			SESRegion: "us-east-1",
		},
		Lock: LockConfig{
			TTL: time.Hour,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// LoadEnvFile loads variables from a .env file into the process environment.
// An empty path loads ./.env when present; a named file must exist.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (environment wins)
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration
func (c *Config) applyEnv() {
	if c.Store == nil {
		c.Store = DefaultStoreConfig()
	}
	c.Store.applyEnv()

	if c.Paths.RawSource = getEnv("RAW_SOURCE", c.Paths.RawSource); c.Paths.RawSource == "snowflake" || c.Snowflake != nil {
		if c.Snowflake == nil {
			c.Snowflake = DefaultSnowflakeConfig()
		}
		c.Snowflake.applyEnv()
	}

	c.Paths.RawData = getEnv("RAW_DATA_PATH", c.Paths.RawData)
	c.Paths.CleanedData = getEnv("CLEANED_DATA_PATH", c.Paths.CleanedData)
	c.Paths.Model = getEnv("MODEL_PATH", c.Paths.Model)
	c.Paths.Encoding = getEnv("ENCODING_PATH", c.Paths.Encoding)
	c.Paths.CSVDelimiter = getEnv("CSV_DELIMITER", c.Paths.CSVDelimiter)
	c.Paths.AWSRegion = getEnv("AWS_REGION", c.Paths.AWSRegion)

	c.Cleaning.EngagementColumns = getEnvAsStringSlice("ENGAGEMENT_COLUMNS", c.Cleaning.EngagementColumns)
	c.Cleaning.DateColumnTokens = getEnvAsStringSlice("DATE_COLUMN_TOKENS", c.Cleaning.DateColumnTokens)
	c.Cleaning.RecordIDStrategy = getEnv("RECORD_ID_STRATEGY", c.Cleaning.RecordIDStrategy)
	c.Cleaning.NaturalKeyColumns = getEnvAsStringSlice("NATURAL_KEY_COLUMNS", c.Cleaning.NaturalKeyColumns)

	c.Model.TrainOnRun = getEnvAsBool("TRAIN_ON_RUN", c.Model.TrainOnRun)
	c.Model.TargetColumns = getEnvAsStringSlice("TARGET_COLUMNS", c.Model.TargetColumns)
	c.Model.TargetThreshold = getEnvAsFloat("TARGET_THRESHOLD", c.Model.TargetThreshold)
	c.Model.FeatureExclude = getEnvAsStringSlice("FEATURE_EXCLUDE", c.Model.FeatureExclude)
	c.Model.Version = getEnv("MODEL_VERSION", c.Model.Version)

	c.Notify.Channel = getEnv("NOTIFY_CHANNEL", c.Notify.Channel)
	c.Notify.Sender = getEnv("EMAIL_SENDER", c.Notify.Sender)
	c.Notify.Receiver = getEnv("EMAIL_RECEIVER", c.Notify.Receiver)
	c.Notify.Password = getEnv("EMAIL_PASSWORD", c.Notify.Password)
	c.Notify.SMTPHost = getEnv("SMTP_HOST", c.Notify.SMTPHost)
	c.Notify.SMTPPort = getEnvAsInt("SMTP_PORT", c.Notify.SMTPPort)
	c.Notify.SESRegion = getEnv("AWS_SES_REGION", c.Notify.SESRegion)
	c.Notify.SESAccessKey = getEnv("AWS_SES_ACCESS_KEY", c.Notify.SESAccessKey)
	c.Notify.SESSecretKey = getEnv("AWS_SES_SECRET_KEY", c.Notify.SESSecretKey)

	c.Lock.Backend = getEnv("RUN_LOCK", c.Lock.Backend)
	if c.Lock.Backend == "" {
		// Postgres sessions can hold an advisory lock; sqlite runs are local
		if c.Store.Driver == DriverPostgres {
			c.Lock.Backend = "postgres"
		} else {
			c.Lock.Backend = "none"
		}
	}
	c.Lock.RedisURL = getEnv("REDIS_URL", c.Lock.RedisURL)
	c.Lock.TTL = time.Duration(getEnvAsInt("LOCK_TTL_SECONDS", int(c.Lock.TTL.Seconds()))) * time.Second

	c.Schedule = getEnv("PIPELINE_SCHEDULE", c.Schedule)
	c.WorkerPoolSize = getEnvAsInt("WORKER_POOL_SIZE", c.WorkerPoolSize)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store configuration is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}

	switch c.Paths.RawSource {
	case "csv":
		if c.Paths.RawData == "" {
			return errors.New("RAW_DATA_PATH is required for the csv raw source")
		}
	case "snowflake":
		if c.Snowflake == nil {
			return errors.New("snowflake configuration is required for the snowflake raw source")
		}
		if err := c.Snowflake.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown raw source %q", c.Paths.RawSource)
	}

	if c.Paths.CleanedData == "" || c.Paths.Model == "" || c.Paths.Encoding == "" {
		return errors.New("cleaned data, model and encoding paths are required")
	}

	if len([]rune(c.Paths.CSVDelimiter)) != 1 {
		return errors.New("csv delimiter must be a single character")
	}

	switch c.Cleaning.RecordIDStrategy {
	case "sequential", "hash":
	default:
		return fmt.Errorf("unknown record id strategy %q", c.Cleaning.RecordIDStrategy)
	}

	switch c.Notify.Channel {
	case "log", "smtp", "ses":
	default:
		return fmt.Errorf("unknown notification channel %q", c.Notify.Channel)
	}

	switch c.Lock.Backend {
	case "none", "postgres":
	case "redis":
		if c.Lock.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis run lock")
		}
	default:
		return fmt.Errorf("unknown run lock backend %q", c.Lock.Backend)
	}

	if c.Lock.Backend == "postgres" && c.Store.Driver != DriverPostgres {
		return errors.New("the postgres run lock requires the postgres store driver")
	}

	if c.WorkerPoolSize < 0 {
		return errors.New("worker pool size cannot be negative")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice parses a comma-separated list, trimming whitespace and quotes
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(value, ",") {
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if v != "" {
			result = append(result, v)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

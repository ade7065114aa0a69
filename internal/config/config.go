package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration. Values come from defaults,
// then an optional YAML file, then the environment.
type Config struct {
	Environment   string              `yaml:"environment"`
	LogLevel      string              `yaml:"log_level"`
	Server        ServerConfig        `yaml:"server"`
	AWS           AWSConfig           `yaml:"aws"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Rules         RulesConfig         `yaml:"rules"`
	LLM           LLMConfig           `yaml:"llm"`
	Store         StoreConfig         `yaml:"store"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Agent         AgentConfig         `yaml:"agent"`
	Features      FeaturesConfig      `yaml:"features"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type AWSConfig struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	KeyPrefix    string `yaml:"key_prefix"`
	CreateBucket bool   `yaml:"create_bucket"`
}

type TranscriptionConfig struct {
	Language       string        `yaml:"language"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxWait        time.Duration `yaml:"max_wait"`
	SubmitRetries  int           `yaml:"submit_retries"`
	MaxPollErrors  int           `yaml:"max_poll_errors"`
	DefaultSpeaker string        `yaml:"default_speaker"`
}

type ClassifierConfig struct {
	// ModelPath is a local file or an s3://bucket/key URI.
	ModelPath string `yaml:"model_path"`
}

type RulesConfig struct {
	// Path to a YAML rules file; empty uses the built-in rule set.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Driver          string `yaml:"driver"` // mongo | badger | none
	MongoURI        string `yaml:"mongo_uri"`
	MongoDB         string `yaml:"mongo_db"`
	MongoCollection string `yaml:"mongo_collection"`
	BadgerDir       string `yaml:"badger_dir"`
}

type PersistenceConfig struct {
	Policy string `yaml:"policy"` // best-effort | strict
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AgentConfig struct {
	DefaultName string `yaml:"default_name"`
}

type FeaturesConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
}

func Default() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		Server:      ServerConfig{Port: "8080"},
		AWS: AWSConfig{
			Region: "us-east-1",
			Bucket: "call-audit-temp-bucket",
		},
		Transcription: TranscriptionConfig{
			Language:       "en-US",
			PollInterval:   5 * time.Second,
			MaxWait:        15 * time.Minute,
			SubmitRetries:  3,
			MaxPollErrors:  3,
			DefaultSpeaker: "agent",
		},
		Classifier: ClassifierConfig{ModelPath: "call_classifier.json"},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 45 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "mongo",
			MongoURI:        "mongodb://localhost:27017",
			MongoDB:         "call_audit_db",
			MongoCollection: "call_reports",
			BadgerDir:       "data/reports",
		},
		Persistence: PersistenceConfig{Policy: "best-effort"},
		Kafka:       KafkaConfig{Topic: "call-audit.completed"},
		Agent:       AgentConfig{DefaultName: "test_agent"},
		Features:    FeaturesConfig{FFmpegPath: "ffmpeg"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Environment = envOr("ENVIRONMENT", c.Environment)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.Server.Port = envOr("PORT", c.Server.Port)

	c.AWS.Region = envOr("AWS_REGION", c.AWS.Region)
	c.AWS.Bucket = envOr("S3_BUCKET_NAME", c.AWS.Bucket)
	c.AWS.KeyPrefix = envOr("S3_KEY_PREFIX", c.AWS.KeyPrefix)

	c.Transcription.Language = envOr("TRANSCRIBE_LANGUAGE", c.Transcription.Language)
	c.Transcription.DefaultSpeaker = envOr("DEFAULT_SPEAKER", c.Transcription.DefaultSpeaker)

	c.Classifier.ModelPath = envOr("MODEL_PATH", c.Classifier.ModelPath)
	c.Rules.Path = envOr("RULES_PATH", c.Rules.Path)

	c.LLM.BaseURL = envOr("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = envOr("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = envOr("LLM_MODEL", c.LLM.Model)

	c.Store.Driver = envOr("STORE_DRIVER", c.Store.Driver)
	c.Store.MongoURI = envOr("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDB = envOr("MONGO_DB_NAME", c.Store.MongoDB)
	c.Store.MongoCollection = envOr("MONGO_COLLECTION", c.Store.MongoCollection)
	c.Store.BadgerDir = envOr("BADGER_DIR", c.Store.BadgerDir)

	c.Persistence.Policy = envOr("PERSISTENCE_POLICY", c.Persistence.Policy)
	c.Agent.DefaultName = envOr("DEFAULT_AGENT_NAME", c.Agent.DefaultName)
	c.Kafka.Topic = envOr("KAFKA_TOPIC", c.Kafka.Topic)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Features.FFmpegPath = envOr("FFMPEG_PATH", c.Features.FFmpegPath)

	var errs []error
	var err error
	if c.AWS.CreateBucket, err = envBool("S3_CREATE_BUCKET", c.AWS.CreateBucket); err != nil {
		errs = append(errs, err)
	}
	if c.LLM.Enabled, err = envBool("LLM_ENABLED", c.LLM.Enabled); err != nil {
		errs = append(errs, err)
	}
	if c.Kafka.Enabled, err = envBool("KAFKA_ENABLED", c.Kafka.Enabled); err != nil {
		errs = append(errs, err)
	}
	if c.Transcription.PollInterval, err = envDuration("POLL_INTERVAL", c.Transcription.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if c.Transcription.MaxWait, err = envDuration("JOB_MAX_WAIT", c.Transcription.MaxWait); err != nil {
		errs = append(errs, err)
	}
	if c.Transcription.SubmitRetries, err = envInt("SUBMIT_RETRIES", c.Transcription.SubmitRetries); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.Transcription.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("transcription.poll_interval must be positive, got %s", c.Transcription.PollInterval))
	}
	if c.Transcription.MaxWait < c.Transcription.PollInterval {
		errs = append(errs, fmt.Errorf("transcription.max_wait (%s) must be at least poll_interval (%s)", c.Transcription.MaxWait, c.Transcription.PollInterval))
	}
	if c.Transcription.SubmitRetries < 0 {
		errs = append(errs, fmt.Errorf("transcription.submit_retries cannot be negative"))
	}
	if c.Transcription.Language == "" {
		errs = append(errs, fmt.Errorf("transcription.language cannot be empty"))
	}
	if c.AWS.Bucket == "" {
		errs = append(errs, fmt.Errorf("aws.bucket cannot be empty"))
	}
	switch c.Persistence.Policy {
	case "best-effort", "strict":
	default:
		errs = append(errs, fmt.Errorf("persistence.policy must be best-effort or strict, got %q", c.Persistence.Policy))
	}
	switch c.Store.Driver {
	case "mongo":
		if c.Store.MongoURI == "" || c.Store.MongoDB == "" || c.Store.MongoCollection == "" {
			errs = append(errs, fmt.Errorf("store: mongo_uri, mongo_db and mongo_collection are required for the mongo driver"))
		}
	case "badger":
		if c.Store.BadgerDir == "" {
			errs = append(errs, fmt.Errorf("store.badger_dir is required for the badger driver"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be mongo, badger or none, got %q", c.Store.Driver))
	}
	if c.LLM.Enabled && (c.LLM.APIKey == "" || c.LLM.Model == "") {
		errs = append(errs, fmt.Errorf("llm: api_key and model are required when enabled"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, fmt.Errorf("kafka: brokers and topic are required when enabled"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return b, nil
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

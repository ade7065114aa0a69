package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENVIRONMENT", "LOG_LEVEL", "PORT", "AWS_REGION", "S3_BUCKET_NAME", "S3_KEY_PREFIX",
		"S3_CREATE_BUCKET", "TRANSCRIBE_LANGUAGE", "POLL_INTERVAL", "JOB_MAX_WAIT", "SUBMIT_RETRIES",
		"DEFAULT_SPEAKER", "MODEL_PATH", "RULES_PATH", "LLM_ENABLED", "LLM_BASE_URL", "LLM_API_KEY",
		"LLM_MODEL", "STORE_DRIVER", "MONGO_URI", "MONGO_DB_NAME", "MONGO_COLLECTION", "BADGER_DIR",
		"PERSISTENCE_POLICY", "DEFAULT_AGENT_NAME", "KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"FFMPEG_PATH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AWS.Region != "us-east-1" || cfg.AWS.Bucket != "call-audit-temp-bucket" {
		t.Errorf("aws defaults = %+v", cfg.AWS)
	}
	if cfg.Store.MongoDB != "call_audit_db" || cfg.Store.MongoCollection != "call_reports" {
		t.Errorf("store defaults = %+v", cfg.Store)
	}
	if cfg.Agent.DefaultName != "test_agent" {
		t.Errorf("agent default = %q", cfg.Agent.DefaultName)
	}
	if cfg.Persistence.Policy != "best-effort" {
		t.Errorf("policy default = %q", cfg.Persistence.Policy)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
aws:
  region: eu-west-1
  bucket: from-file
transcription:
  poll_interval: 2s
  max_wait: 1m
store:
  driver: badger
  badger_dir: /tmp/reports
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	clearEnv(t)
	t.Setenv("S3_BUCKET_NAME", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("region = %q, want file value", cfg.AWS.Region)
	}
	if cfg.AWS.Bucket != "from-env" {
		t.Errorf("bucket = %q, want env override", cfg.AWS.Bucket)
	}
	if cfg.Transcription.PollInterval != 2*time.Second || cfg.Transcription.MaxWait != time.Minute {
		t.Errorf("durations = %s / %s", cfg.Transcription.PollInterval, cfg.Transcription.MaxWait)
	}
	if cfg.Store.Driver != "badger" {
		t.Errorf("driver = %q", cfg.Store.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"zero poll interval", func(c *Config) { c.Transcription.PollInterval = 0 }, "poll_interval"},
		{"max wait below interval", func(c *Config) { c.Transcription.MaxWait = time.Second }, "max_wait"},
		{"bad policy", func(c *Config) { c.Persistence.Policy = "sometimes" }, "persistence.policy"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"badger without dir", func(c *Config) { c.Store.Driver = "badger"; c.Store.BadgerDir = "" }, "badger_dir"},
		{"llm without key", func(c *Config) { c.LLM.Enabled = true }, "llm"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLL_INTERVAL", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "POLL_INTERVAL") {
		t.Fatalf("expected POLL_INTERVAL error, got %v", err)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	envutil "github.com/moonwalker/searchindex/pkg/env"
)

type Config struct {
	Clusters      []ClusterConfig     `yaml:"clusters"`
	Indices       IndicesConfig       `yaml:"indices"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Worker        WorkerConfig        `yaml:"worker"`
	Nats          NatsConfig          `yaml:"nats"`
	Publishing    PublishingConfig    `yaml:"publishing"`
	Boosting      map[string]BoostSet `yaml:"boosting"`
	Spelling      SpellingConfig      `yaml:"spelling"`
	Services      ServicesConfig      `yaml:"services"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ClusterConfig describes one search cluster. A cluster without a URI is
// configured but inactive in the current environment.
type ClusterConfig struct {
	Key     string `yaml:"key"`
	URI     string `yaml:"uri"`
	Schema  string `yaml:"schema"`
	Default bool   `yaml:"default"`
}

type IndicesConfig struct {
	Govuk               string   `yaml:"govuk"`
	Metasearch          string   `yaml:"metasearch"`
	SpecialistDocuments string   `yaml:"specialist_documents"`
	SpecialistFinder    string   `yaml:"specialist_finder"`
	Government          string   `yaml:"government"`
	PageTraffic         string   `yaml:"page_traffic"`
	Content             []string `yaml:"content"`
	Spelling            []string `yaml:"spelling"`
}

type ElasticsearchConfig struct {
	TimeoutSec       int     `yaml:"timeout_sec"`
	MaxRetries       int     `yaml:"max_retries"`
	PopularityOffset float64 `yaml:"popularity_offset"`
}

type WorkerConfig struct {
	RedisURL     string `yaml:"redis_url"`
	Namespace    string `yaml:"namespace"`
	MaxWorkers   int    `yaml:"max_workers"`
	LockDelaySec int    `yaml:"lock_delay_sec"`
	MaxAttempts  int    `yaml:"max_attempts"`
	JobRetries   int64  `yaml:"job_retries"`
	MetadataCron string `yaml:"metadata_cron"`
}

type NatsConfig struct {
	URL             string `yaml:"url"`
	Stream          string `yaml:"stream"`
	Subject         string `yaml:"subject"`
	Durable         string `yaml:"durable"`
	NkeyUser        string `yaml:"nkey_user"`
	NkeySeed        string `yaml:"nkey_seed"`
	CredentialsPath string `yaml:"credentials_path"`
	FinderSubject   string `yaml:"finder_subject"`
	FinderDurable   string `yaml:"finder_durable"`
}

// PublishingConfig decides which published formats reach the govuk index.
// A format listed in neither list is logged as unknown and skipped.
type PublishingConfig struct {
	IndexableFormats    []string `yaml:"indexable_formats"`
	NonIndexableFormats []string `yaml:"non_indexable_formats"`
	MaxDeliveries       int      `yaml:"max_deliveries"`
	RetryDelaySec       int      `yaml:"retry_delay_sec"`
}

// BoostSet maps a property value to its score multiplier.
type BoostSet map[string]float64

type SpellingConfig struct {
	Ignore               []string `yaml:"ignore"`
	OrganisationAcronyms []string `yaml:"organisation_acronyms"`
}

type ServicesConfig struct {
	PublishingAPI      string `yaml:"publishing_api"`
	PublishingAPIToken string `yaml:"publishing_api_token"`
	EmailAlertAPI      string `yaml:"email_alert_api"`
	EmailAlertAPIToken string `yaml:"email_alert_api_token"`
}

type SMTPConfig struct {
	Host string   `yaml:"host"`
	Port int      `yaml:"port"`
	User string   `yaml:"user"`
	Pass string   `yaml:"pass"`
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads config/<env>.yaml, expands ${VAR} references, applies defaults
// and validates the result.
func Load(env string) (Config, error) {
	path := filepath.Join(envutil.Get("CONFIG_DIR", "config"), fmt.Sprintf("%s.yaml", env))

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Elasticsearch.TimeoutSec <= 0 {
		c.Elasticsearch.TimeoutSec = 5
	}
	if c.Elasticsearch.MaxRetries <= 0 {
		c.Elasticsearch.MaxRetries = 3
	}
	if c.Elasticsearch.PopularityOffset <= 0 {
		c.Elasticsearch.PopularityOffset = 0.001
	}
	if c.Worker.Namespace == "" {
		c.Worker.Namespace = "searchindex"
	}
	if c.Worker.MaxWorkers <= 0 {
		c.Worker.MaxWorkers = 10
	}
	if c.Worker.LockDelaySec <= 0 {
		c.Worker.LockDelaySec = 60
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.JobRetries <= 0 {
		c.Worker.JobRetries = 25
	}
	if c.Nats.Stream == "" {
		c.Nats.Stream = "PUBLISHING"
	}
	if c.Nats.Subject == "" {
		c.Nats.Subject = "published_documents.>"
	}
	if c.Nats.Durable == "" {
		c.Nats.Durable = "searchindex"
	}
	if c.Nats.FinderSubject == "" {
		c.Nats.FinderSubject = "published_specialist_finders.>"
	}
	if c.Nats.FinderDurable == "" {
		c.Nats.FinderDurable = c.Nats.Durable + "-finders"
	}
	if c.Publishing.MaxDeliveries <= 0 {
		c.Publishing.MaxDeliveries = 5
	}
	if c.Publishing.RetryDelaySec <= 0 {
		c.Publishing.RetryDelaySec = 30
	}
	if c.Worker.MetadataCron == "" {
		c.Worker.MetadataCron = "@daily"
	}
	if c.Indices.Metasearch == "" {
		c.Indices.Metasearch = "metasearch"
	}
	if c.Indices.Govuk == "" {
		c.Indices.Govuk = "govuk"
	}
	if c.Indices.Government == "" {
		c.Indices.Government = "government"
	}
	if c.Indices.SpecialistFinder == "" {
		c.Indices.SpecialistFinder = "specialist-finder"
	}
	if c.Indices.PageTraffic == "" {
		c.Indices.PageTraffic = "page-traffic"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9394"
	}
}

func (c *Config) Validate() error {
	if len(c.Clusters) == 0 {
		return errors.New("at least one cluster is required")
	}
	seen := make(map[string]bool, len(c.Clusters))
	for _, cl := range c.Clusters {
		if cl.Key == "" {
			return errors.New("clusters: key is required")
		}
		if seen[cl.Key] {
			return fmt.Errorf("clusters: duplicate key %q", cl.Key)
		}
		seen[cl.Key] = true
	}
	if len(c.Indices.Content) == 0 {
		return errors.New("indices.content is required")
	}
	return nil
}

// LockDelay is how long a job waits before retrying against a locked index.
func (w WorkerConfig) LockDelay() time.Duration {
	return time.Duration(w.LockDelaySec) * time.Second
}

// RetryDelay is how long a failed delivery waits before redelivery.
func (p PublishingConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySec) * time.Second
}

// Timeout is the per-request timeout for search engine calls.
func (e ElasticsearchConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSec) * time.Second
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = fallback
		}
		return []byte(val)
	})
}

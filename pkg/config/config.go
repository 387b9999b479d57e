package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"harvester/pkg/models"
)

// Config holds all configuration options for the harvester
type Config struct {
	// Ordered topic catalogue. Order is scan order.
	Topics []TopicConfig `yaml:"topics" json:"topics" validate:"dive"`

	// Global run budget
	Run RunConfig `yaml:"run" json:"run"`

	// Account pool tuning
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Page fetching behaviour
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Persistent store
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Search gateway
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Credential sources
	Accounts AccountsConfig `yaml:"accounts" json:"accounts"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TopicConfig is one catalogue entry. A bare string in YAML is shorthand
// for a topic whose id and query are the same.
type TopicConfig struct {
	ID       string        `yaml:"id" json:"id" validate:"required"`
	Query    string        `yaml:"query,omitempty" json:"query,omitempty"`
	Limit    int           `yaml:"limit,omitempty" json:"limit,omitempty" validate:"gte=0"`
	Cooldown time.Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty" validate:"gte=0"`
}

// UnmarshalYAML accepts either a scalar topic name or a mapping
func (t *TopicConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.ID = strings.TrimSpace(node.Value)
		return nil
	}
	type plain TopicConfig
	return node.Decode((*plain)(t))
}

// RunConfig bounds a single pipeline execution. Zero means unbounded.
type RunConfig struct {
	MaxItems    int           `yaml:"max_items" json:"max_items" validate:"gte=0"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration" validate:"gte=0"`
}

// PoolConfig holds account rotation settings
type PoolConfig struct {
	BaseCooldown           time.Duration `yaml:"base_cooldown" json:"base_cooldown" validate:"gte=0"`
	MaxCooldown            time.Duration `yaml:"max_cooldown" json:"max_cooldown" validate:"gtefield=BaseCooldown"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures" validate:"gte=1"`
	AccountWait            time.Duration `yaml:"account_wait" json:"account_wait" validate:"gte=0"`
}

// ScrapeConfig holds page fetching settings
type ScrapeConfig struct {
	PageSize             int           `yaml:"page_size" json:"page_size" validate:"gte=1,lte=100"`
	DefaultLimit         int           `yaml:"default_limit" json:"default_limit" validate:"gte=1"`
	DefaultTopicCooldown time.Duration `yaml:"default_topic_cooldown" json:"default_topic_cooldown" validate:"gte=0"`
	EmptyPageThreshold   int           `yaml:"empty_page_threshold" json:"empty_page_threshold" validate:"gte=1"`
	MaxPageAttempts      int           `yaml:"max_page_attempts" json:"max_page_attempts" validate:"gte=1"`
	RetryBaseDelay       time.Duration `yaml:"retry_base_delay" json:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay        time.Duration `yaml:"retry_max_delay" json:"retry_max_delay" validate:"gte=0"`
	MaxConcurrency       int           `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=1,lte=64"`
	RequestsPerMinute    int           `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gte=1"`
	StartJitter          time.Duration `yaml:"start_jitter" json:"start_jitter" validate:"gte=0"`
	// TopicTimeout caps one topic scan; zero disables it
	TopicTimeout         time.Duration `yaml:"topic_timeout" json:"topic_timeout" validate:"gte=0"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver" validate:"oneof=postgres sqlite memory"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// TransportConfig holds search gateway settings
type TransportConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Lang      string        `yaml:"lang" json:"lang"`
}

// AccountsConfig locates scraping identities
type AccountsConfig struct {
	CredentialsFile string   `yaml:"credentials_file" json:"credentials_file"`
	Proxies         []string `yaml:"proxies" json:"proxies"`
	UseKeyring      bool     `yaml:"use_keyring" json:"use_keyring"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{},
		Pool: PoolConfig{
			BaseCooldown:           15 * time.Second,
			MaxCooldown:            15 * time.Minute,
			MaxConsecutiveFailures: 3,
			AccountWait:            30 * time.Second,
		},
		Scrape: ScrapeConfig{
			PageSize:             20,
			DefaultLimit:         50,
			DefaultTopicCooldown: 30 * time.Minute,
			EmptyPageThreshold:   2,
			MaxPageAttempts:      3,
			RetryBaseDelay:       2 * time.Second,
			RetryMaxDelay:        30 * time.Second,
			MaxConcurrency:       4,
			RequestsPerMinute:    5,
			StartJitter:          5 * time.Second,
			TopicTimeout:         10 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "harvester.db",
		},
		Transport: TransportConfig{
			BaseURL:   "http://127.0.0.1:8080",
			Timeout:   30 * time.Second,
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Lang:      "en",
		},
		Accounts: AccountsConfig{
			UseKeyring: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ResolvedTopics returns the catalogue with defaults filled in
func (c *Config) ResolvedTopics() []models.Topic {
	topics := make([]models.Topic, 0, len(c.Topics))
	for _, t := range c.Topics {
		topic := models.Topic{
			ID:       t.ID,
			Query:    t.Query,
			Limit:    t.Limit,
			Cooldown: t.Cooldown,
		}
		if topic.Query == "" {
			topic.Query = topic.ID
		}
		if topic.Limit == 0 {
			topic.Limit = c.Scrape.DefaultLimit
		}
		if topic.Cooldown == 0 {
			topic.Cooldown = c.Scrape.DefaultTopicCooldown
		}
		topics = append(topics, topic)
	}
	return topics
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if topics := os.Getenv("HARVESTER_TOPICS"); topics != "" {
		c.Topics = c.Topics[:0]
		for _, id := range splitList(topics) {
			c.Topics = append(c.Topics, TopicConfig{ID: id})
		}
	}

	if v := os.Getenv("HARVESTER_MAX_ITEMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_MAX_ITEMS: %w", err))
		} else {
			c.Run.MaxItems = n
		}
	}
	if v := os.Getenv("HARVESTER_MAX_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_MAX_DURATION: %w", err))
		} else {
			c.Run.MaxDuration = d
		}
	}
	if v := os.Getenv("HARVESTER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_CONCURRENCY: %w", err))
		} else if n > 0 {
			c.Scrape.MaxConcurrency = n
		}
	}
	if v := os.Getenv("HARVESTER_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_REQUESTS_PER_MINUTE: %w", err))
		} else if n > 0 {
			c.Scrape.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("HARVESTER_TOPIC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HARVESTER_TOPIC_TIMEOUT: %w", err))
		} else {
			c.Scrape.TopicTimeout = d
		}
	}

	if driver := os.Getenv("HARVESTER_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	// DATABASE_URL is the conventional name; the prefixed form wins.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		if os.Getenv("HARVESTER_STORAGE_DRIVER") == "" && isPostgresURL(dsn) {
			c.Storage.Driver = "postgres"
		}
	}
	if dsn := os.Getenv("HARVESTER_DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
	}

	if baseURL := os.Getenv("HARVESTER_BASE_URL"); baseURL != "" {
		c.Transport.BaseURL = baseURL
	}
	if userAgent := os.Getenv("HARVESTER_USER_AGENT"); userAgent != "" {
		c.Transport.UserAgent = userAgent
	}
	if lang := os.Getenv("HARVESTER_LANG"); lang != "" {
		c.Transport.Lang = lang
	}

	if proxies := os.Getenv("HARVESTER_PROXIES"); proxies != "" {
		c.Accounts.Proxies = splitList(proxies)
	}
	if file := os.Getenv("HARVESTER_CREDENTIALS_FILE"); file != "" {
		c.Accounts.CredentialsFile = file
	}

	if logLevel := os.Getenv("HARVESTER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("HARVESTER_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"harvester.yaml",
		"harvester.yml",
		"topics.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "harvester", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "harvester", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

var validate = validator.New()

// Validate checks if the configuration is valid for a run
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireTopics bool) error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if requireTopics && len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	seen := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("duplicate topic %q", t.ID))
		}
		seen[t.ID] = true
	}

	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage DSN is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["max-items"].(int); ok && v > 0 {
		c.Run.MaxItems = v
	}
	if v, ok := flags["max-duration"].(time.Duration); ok && v > 0 {
		c.Run.MaxDuration = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Scrape.MaxConcurrency = v
	}
	if v, ok := flags["storage-driver"].(string); ok && v != "" {
		c.Storage.Driver = v
	}
	if v, ok := flags["dsn"].(string); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.Transport.BaseURL = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if ids, ok := flags["topics"].([]string); ok && len(ids) > 0 {
		c.Topics = filterTopics(c.Topics, ids)
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	return load(configPath, flags, true)
}

// LoadWithoutTopics is Load for commands that manage state rather than run
// a harvest, so an empty topic catalogue is accepted
func LoadWithoutTopics(configPath string, flags map[string]interface{}) (*Config, error) {
	return load(configPath, flags, false)
}

func load(configPath string, flags map[string]interface{}, requireTopics bool) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".harvester.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.validate(requireTopics); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// filterTopics keeps configured topics named in ids, preserving config order.
// Unknown ids are added as bare topics.
func filterTopics(topics []TopicConfig, ids []string) []TopicConfig {
	byID := make(map[string]TopicConfig, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []TopicConfig
	for _, t := range topics {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			out = append(out, TopicConfig{ID: id})
			byID[id] = TopicConfig{ID: id}
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	TraceTrigger TraceTriggerConfig `yaml:"tracetrigger"`
}

// TraceTriggerConfig is the project configuration.
type TraceTriggerConfig struct {
	Input    InputConfig     `yaml:"input"`
	Counters CountersConfig  `yaml:"counters"`
	Triggers []TriggerConfig `yaml:"triggers"`
	Output   OutputConfig    `yaml:"output"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Status   StatusConfig    `yaml:"status"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// InputConfig controls where live trace events come from.
type InputConfig struct {
	Mode  string      `yaml:"mode"` // redis|nats
	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
}

// RedisConfig controls Redis list input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// NATSConfig controls NATS subject input.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// CountersConfig selects the counter backend for counter triggers.
type CountersConfig struct {
	Mode          string             `yaml:"mode"` // prometheus|redis
	InstanceLabel string             `yaml:"instance_label"`
	// ScrapeURL reads counters from a remote exporter; empty uses this
	// process's own registry.
	ScrapeURL     string             `yaml:"scrape_url"`
	ScrapeTimeout time.Duration      `yaml:"scrape_timeout"`
	Redis         CounterRedisConfig `yaml:"redis"`
}

// CounterRedisConfig controls the Redis hash counter backend.
type CounterRedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TriggerConfig is one trigger. Exactly one of Event and Counter is set.
type TriggerConfig struct {
	Name    string `yaml:"name"`
	Event   string `yaml:"event"`
	Counter string `yaml:"counter"`
	// PredicateRule is a Sigma rule file or directory the firing event must
	// match.
	PredicateRule    string        `yaml:"predicate_rule"`
	PredicateFilters []string      `yaml:"predicate_filters"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	// RequireUntriggered nil means true.
	RequireUntriggered *bool `yaml:"require_untriggered"`
}

// OutputConfig controls where fire records go.
type OutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|clickhouse|none
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL        string            `yaml:"url"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
	Retries    int               `yaml:"retries"`
	RetryDelay time.Duration     `yaml:"retry_delay"`
}

// ClickHouseOutputConfig config for the ClickHouse HTTP interface.
type ClickHouseOutputConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Table    string        `yaml:"table"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StatusConfig controls periodic trigger status logging.
type StatusConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// ArmImmediately reports whether the counter may fire without first seeing
// untriggered samples.
func (t TriggerConfig) ArmImmediately() bool {
	return t.RequireUntriggered != nil && !*t.RequireUntriggered
}

// DisplayName returns the configured name or the trigger text.
func (t TriggerConfig) DisplayName() string {
	switch {
	case t.Name != "":
		return t.Name
	case t.Event != "":
		return t.Event
	default:
		return t.Counter
	}
}

// Validate checks structural constraints that YAML cannot express.
func (c *TraceTriggerConfig) Validate() error {
	if len(c.Triggers) == 0 {
		return fmt.Errorf("no triggers configured")
	}
	seen := make(map[string]bool, len(c.Triggers))
	for i, t := range c.Triggers {
		if (t.Event == "") == (t.Counter == "") {
			return fmt.Errorf("trigger %d: exactly one of event or counter is required", i)
		}
		name := t.DisplayName()
		if seen[name] {
			return fmt.Errorf("trigger %d: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

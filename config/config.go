package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "TELEMETRY"

	BeaconAMQP   = "amqp"
	BeaconMemory = "memory"
	BeaconNone   = "none"
)

// Config is the fully resolved agent configuration.
type Config struct {
	ClientToken   string         `mapstructure:"client_token"`
	Service       string         `mapstructure:"service"`
	ApplicationID string         `mapstructure:"application_id"`
	Env           string         `mapstructure:"env"`
	Version       string         `mapstructure:"version"`
	Endpoints     Endpoints      `mapstructure:"endpoints"`
	Batch         Batch          `mapstructure:"batch"`
	Transport     Transport      `mapstructure:"transport"`
	Session       Session        `mapstructure:"session"`
	HTTP          HTTP           `mapstructure:"http"`
	Log           Log            `mapstructure:"log"`
	Tracing       Tracing        `mapstructure:"tracing"`
	GlobalContext map[string]any `mapstructure:"global_context"`

	v *viper.Viper
}

type Endpoints struct {
	Primary string   `mapstructure:"primary"`
	Replica *Replica `mapstructure:"replica"`
}

// Replica is an optional second destination fed with the same events.
type Replica struct {
	URL           string `mapstructure:"url"`
	ClientToken   string `mapstructure:"client_token"`
	ApplicationID string `mapstructure:"application_id"`
}

type Batch struct {
	MaxSize        int           `mapstructure:"max_size"`
	BytesLimit     int           `mapstructure:"bytes_limit"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

type Transport struct {
	Beacon           string        `mapstructure:"beacon"`
	AMQPURL          string        `mapstructure:"amqp_url"`
	OutboxTopic      string        `mapstructure:"outbox_topic"`
	Relay            bool          `mapstructure:"relay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
}

type Session struct {
	SampleRate         float64 `mapstructure:"sample_rate"`
	ResourceSampleRate float64 `mapstructure:"resource_sample_rate"`
	ViewHistorySize    int     `mapstructure:"view_history_size"`
}

type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type Tracing struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	// [ENV_BINDING] Keys need a default to be resolvable from TELEMETRY_* variables.
	v.SetDefault("client_token", "")
	v.SetDefault("application_id", "")
	v.SetDefault("endpoints.primary", "")
	v.SetDefault("transport.amqp_url", "")
	v.SetDefault("service", "browser")
	v.SetDefault("env", "production")
	v.SetDefault("batch.max_size", 50)
	v.SetDefault("batch.bytes_limit", 16*1024)
	v.SetDefault("batch.max_message_size", 0)
	v.SetDefault("batch.flush_interval", 30*time.Second)
	v.SetDefault("transport.beacon", BeaconMemory)
	v.SetDefault("transport.outbox_topic", "telemetry.outbox")
	v.SetDefault("transport.relay", true)
	v.SetDefault("transport.request_timeout", 10*time.Second)
	v.SetDefault("transport.breaker_threshold", 5)
	v.SetDefault("session.sample_rate", 100)
	v.SetDefault("session.resource_sample_rate", 100)
	v.SetDefault("session.view_history_size", 64)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", true)
}

// Flags returns the server flag set bound into viper by LoadConfig.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("client_token", "", "Collector client token")
	fs.String("endpoints.primary", "", "Primary collector endpoint URL")
	fs.String("http.addr", ":8080", "HTTP ingress listen address")
	fs.String("transport.beacon", BeaconMemory, "Beacon backend: amqp|memory|none")
	fs.String("transport.amqp_url", "", "AMQP broker URL for the beacon outbox")
	fs.String("log.level", "info", "Log level: debug|info|warn|error")
	fs.Int("batch.max_size", 50, "Records per batch before a flush")
	fs.Int("batch.bytes_limit", 16*1024, "Accumulated batch bytes that force a flush")
	return fs
}

// LoadConfig resolves defaults, the optional config file, TELEMETRY_* environment
// variables and command line overrides (highest precedence), then validates the result.
func LoadConfig(configFile string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	// [PRECEDENCE] Only flags the operator actually set override file/env values.
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("config: bind flags: %w", bindErr)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if path := v.ConfigFileUsed(); path != "" {
		gc, err := readGlobalContext(path)
		if err != nil {
			return nil, err
		}
		if gc != nil {
			cfg.GlobalContext = gc
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WatchGlobalContext calls fn with the new global_context section whenever the config
// file changes on disk. It is a no-op when no file was loaded. A file that cannot be
// re-read is reported through fn with a nil section.
func (c *Config) WatchGlobalContext(fn func(map[string]any, error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		gc, err := readGlobalContext(c.v.ConfigFileUsed())
		if err != nil {
			fn(nil, err)
			return
		}
		if gc == nil {
			gc = map[string]any{}
		}
		fn(gc, nil)
	})
	c.v.WatchConfig()
}

// readGlobalContext decodes the global_context section straight from the file.
//
// [CASE_PRESERVATION] viper folds keys to lower case; record keys must reach the collector
// exactly as written. Formats other than YAML and JSON return nil and keep viper's view.
func readGlobalContext(path string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read global_context: %w", err)
	}

	var section struct {
		GlobalContext map[string]any `yaml:"global_context" json:"global_context"`
	}
	if ext == ".json" {
		err = json.Unmarshal(raw, &section)
	} else {
		err = yaml.Unmarshal(raw, &section)
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode global_context: %w", err)
	}
	return section.GlobalContext, nil
}

// Validate rejects configurations that must block initialization entirely.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ClientToken) == "" {
		errs = append(errs, errors.New("client_token is required"))
	}
	if err := validateEndpoint(c.Endpoints.Primary); err != nil {
		errs = append(errs, fmt.Errorf("endpoints.primary: %w", err))
	}
	if r := c.Endpoints.Replica; r != nil && r.URL != "" {
		if err := validateEndpoint(r.URL); err != nil {
			errs = append(errs, fmt.Errorf("endpoints.replica.url: %w", err))
		}
		if strings.TrimSpace(r.ClientToken) == "" {
			errs = append(errs, errors.New("endpoints.replica.client_token is required"))
		}
	}
	if c.Batch.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_size must be positive, got %d", c.Batch.MaxSize))
	}
	if c.Batch.BytesLimit <= 0 {
		errs = append(errs, fmt.Errorf("batch.bytes_limit must be positive, got %d", c.Batch.BytesLimit))
	}
	if c.Batch.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("batch.max_message_size must not be negative, got %d", c.Batch.MaxMessageSize))
	}
	if !inPercentRange(c.Session.SampleRate) {
		errs = append(errs, fmt.Errorf("session.sample_rate must be within [0,100], got %v", c.Session.SampleRate))
	}
	if !inPercentRange(c.Session.ResourceSampleRate) {
		errs = append(errs, fmt.Errorf("session.resource_sample_rate must be within [0,100], got %v", c.Session.ResourceSampleRate))
	}
	switch c.Transport.Beacon {
	case BeaconNone:
	case BeaconMemory:
		// The in-memory outbox has no other consumer.
		if !c.Transport.Relay {
			errs = append(errs, errors.New("transport.relay must be enabled for the memory beacon"))
		}
	case BeaconAMQP:
		if c.Transport.AMQPURL == "" {
			errs = append(errs, errors.New("transport.amqp_url is required for the amqp beacon"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.beacon: unknown backend %q", c.Transport.Beacon))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: rejected: %w", errors.Join(errs...))
	}
	return nil
}

// PrimaryURL is the primary endpoint with the client token attached.
func (c *Config) PrimaryURL() string {
	return withToken(c.Endpoints.Primary, c.ClientToken)
}

// ReplicaURL is the replica endpoint with its token attached, or "" when no replica
// is configured.
func (c *Config) ReplicaURL() string {
	r := c.Endpoints.Replica
	if r == nil || r.URL == "" {
		return ""
	}
	return withToken(r.URL, r.ClientToken)
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func withToken(raw, token string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("client_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}

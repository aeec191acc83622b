package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for work-queue processes.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Master  MasterConfig  `yaml:"master"`
	Worker  WorkerConfig  `yaml:"worker"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the master's HTTP server configuration.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"WQ_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"WQ_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WQ_SERVER_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"WQ_SERVER_ENABLE_CORS"`
}

// MasterConfig holds master loop configuration.
type MasterConfig struct {
	ID               string        `yaml:"id" env:"WQ_MASTER_ID"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"WQ_MASTER_HEARTBEAT_TIMEOUT"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"WQ_MASTER_POLL_INTERVAL"`
	RetryLimit       int           `yaml:"retry_limit" env:"WQ_MASTER_RETRY_LIMIT"`
	RetryBackoff     string        `yaml:"retry_backoff" env:"WQ_MASTER_RETRY_BACKOFF"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" env:"WQ_MASTER_RETRY_BACKOFF_BASE"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max" env:"WQ_MASTER_RETRY_BACKOFF_MAX"`
	ExitWhenDrained  bool          `yaml:"exit_when_drained" env:"WQ_MASTER_EXIT_WHEN_DRAINED"`
	StatusInterval   time.Duration `yaml:"status_interval" env:"WQ_MASTER_STATUS_INTERVAL"`
}

// WorkerConfig holds worker process configuration.
type WorkerConfig struct {
	ID                string            `yaml:"id" env:"WQ_WORKER_ID"`
	MasterURL         string            `yaml:"master_url" env:"WQ_WORKER_MASTER_URL"`
	Cores             int               `yaml:"cores" env:"WQ_WORKER_CORES"`
	MemoryMB          int64             `yaml:"memory_mb" env:"WQ_WORKER_MEMORY_MB"`
	DiskMB            int64             `yaml:"disk_mb" env:"WQ_WORKER_DISK_MB"`
	Features          []string          `yaml:"features" env:"WQ_WORKER_FEATURES"`
	Labels            map[string]string `yaml:"labels" env:"WQ_WORKER_LABELS"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval" env:"WQ_WORKER_HEARTBEAT_INTERVAL"`
	ReconnectInterval time.Duration     `yaml:"reconnect_interval" env:"WQ_WORKER_RECONNECT_INTERVAL"`
	OutputLimit       int               `yaml:"output_limit" env:"WQ_WORKER_OUTPUT_LIMIT"`
}

// JournalConfig selects where task transitions are recorded.
type JournalConfig struct {
	Driver string      `yaml:"driver" env:"WQ_JOURNAL_DRIVER"` // memory, redis, mysql, postgres
	DSN    string      `yaml:"dsn" env:"WQ_JOURNAL_DSN"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds the redis journal connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"WQ_JOURNAL_REDIS_ADDR"`
	Password string `yaml:"password" env:"WQ_JOURNAL_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"WQ_JOURNAL_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"WQ_JOURNAL_REDIS_PREFIX"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"WQ_LOG_LEVEL"`
	Format     string `yaml:"format" env:"WQ_LOG_FORMAT"`
	Output     string `yaml:"output" env:"WQ_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"WQ_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"WQ_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"WQ_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"WQ_LOG_MAX_AGE"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":9123",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   false,
		},
		Master: MasterConfig{
			HeartbeatTimeout: 30 * time.Second,
			PollInterval:     time.Second,
			RetryLimit:       2,
			RetryBackoff:     "none",
			RetryBackoffBase: time.Second,
			RetryBackoffMax:  time.Minute,
			ExitWhenDrained:  false,
			StatusInterval:   time.Minute,
		},
		Worker: WorkerConfig{
			MasterURL:         "ws://localhost:9123",
			Cores:             1,
			MemoryMB:          1024,
			DiskMB:            1024,
			Features:          []string{},
			Labels:            make(map[string]string),
			HeartbeatInterval: 5 * time.Second,
			ReconnectInterval: 3 * time.Second,
			OutputLimit:       64 * 1024,
		},
		Journal: JournalConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "wq",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs: make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets dot-notation overrides, e.g. "master.retry_limit" -> "3".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("env %s -> %s: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// setConfigValue sets a configuration value by dot-notation path matched
// against the yaml tags, e.g. "worker.memory_mb".
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a struct, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map type")
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

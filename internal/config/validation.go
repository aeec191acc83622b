package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateServerConfig(&cfg.Server)
	v.validateMasterConfig(&cfg.Master)
	v.validateWorkerConfig(&cfg.Worker)
	v.validateJournalConfig(&cfg.Journal)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Validate is a shorthand for NewValidator().Validate(c).
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

func (v *Validator) validateServerConfig(cfg *ServerConfig) {
	if cfg.Address == "" {
		v.addError("server.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("server.address", "invalid address format, expected host:port or :port")
	}

	if cfg.ReadTimeout < 0 {
		v.addError("server.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("server.write_timeout", "write timeout must be non-negative")
	}
}

func (v *Validator) validateMasterConfig(cfg *MasterConfig) {
	if cfg.HeartbeatTimeout <= 0 {
		v.addError("master.heartbeat_timeout", "heartbeat timeout must be positive")
	}
	if cfg.PollInterval <= 0 {
		v.addError("master.poll_interval", "poll interval must be positive")
	}
	if cfg.RetryLimit < 0 {
		v.addError("master.retry_limit", "retry limit must be non-negative")
	}

	validBackoff := map[string]bool{
		"":            true,
		"none":        true,
		"fixed":       true,
		"linear":      true,
		"exponential": true,
	}
	if !validBackoff[strings.ToLower(cfg.RetryBackoff)] {
		v.addError("master.retry_backoff", fmt.Sprintf("invalid retry backoff '%s', must be one of: none, fixed, linear, exponential", cfg.RetryBackoff))
	}
	if cfg.RetryBackoffBase < 0 {
		v.addError("master.retry_backoff_base", "retry backoff base must be non-negative")
	}
	if cfg.RetryBackoffMax > 0 && cfg.RetryBackoffMax < cfg.RetryBackoffBase {
		v.addError("master.retry_backoff_max", "retry backoff max must not be below the base")
	}
	if cfg.StatusInterval < 0 {
		v.addError("master.status_interval", "status interval must be non-negative")
	}
}

func (v *Validator) validateWorkerConfig(cfg *WorkerConfig) {
	if cfg.Cores <= 0 {
		v.addError("worker.cores", "cores must be positive")
	}
	if cfg.MemoryMB < 0 {
		v.addError("worker.memory_mb", "memory must be non-negative")
	}
	if cfg.DiskMB < 0 {
		v.addError("worker.disk_mb", "disk must be non-negative")
	}
	if cfg.HeartbeatInterval <= 0 {
		v.addError("worker.heartbeat_interval", "heartbeat interval must be positive")
	}
	if cfg.MasterURL != "" {
		u, err := url.Parse(cfg.MasterURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError("worker.master_url", "invalid master url, expected ws://host:port")
		}
	}
}

func (v *Validator) validateJournalConfig(cfg *JournalConfig) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("journal.redis.addr", "redis address is required for the redis journal")
		}
	case "mysql", "postgres":
		if cfg.DSN == "" {
			v.addError("journal.dsn", "dsn is required for sql journals")
		}
	default:
		v.addError("journal.driver", fmt.Sprintf("invalid journal driver '%s', must be one of: memory, redis, mysql, postgres", cfg.Driver))
	}
}

func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if cfg.Format != "" && !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	switch cfg.Output {
	case "", "stdout", "stderr":
	case "file", "both":
		if cfg.FilePath == "" {
			v.addError("logging.file_path", "file path is required when logging to a file")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, stderr, file, both", cfg.Output))
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " /") {
		return false
	}
	return true
}

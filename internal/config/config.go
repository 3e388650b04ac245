package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// InterpreterConfig describes the external executable that runs submissions.
type InterpreterConfig struct {
	Path       string   `mapstructure:"path" yaml:"path"`
	SourceName string   `mapstructure:"source_name" yaml:"source_name"`
	Env        []string `mapstructure:"env" yaml:"env"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// LimitsConfig holds every process-wide ceiling the service enforces.
type LimitsConfig struct {
	MaxSourceBytes int64         `mapstructure:"max_source_bytes" yaml:"max_source_bytes"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout" yaml:"queue_timeout"`
	MaxOutputBytes int64         `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
	CPUSeconds     uint64        `mapstructure:"cpu_seconds" yaml:"cpu_seconds"`
	MemoryBytes    uint64        `mapstructure:"memory_bytes" yaml:"memory_bytes"`
	FileSizeBytes  uint64        `mapstructure:"file_size_bytes" yaml:"file_size_bytes"`
	OpenFiles      uint64        `mapstructure:"open_files" yaml:"open_files"`
	// Processes caps how many processes one run may have alive at once,
	// the interpreter included.
	Processes uint64 `mapstructure:"processes" yaml:"processes"`
}

// IsolationConfig controls filesystem confinement of the interpreter.
// Mode is "auto" (confine when the kernel supports Landlock), "required"
// or "off". ReadPaths are extra read-only locations beyond the system
// directories, for interpreters installed somewhere unusual.
type IsolationConfig struct {
	Mode      string   `mapstructure:"mode" yaml:"mode"`
	ReadPaths []string `mapstructure:"read_paths" yaml:"read_paths"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is built once at startup and passed by pointer to every component.
// Nothing mutates it after Load returns.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Interpreter InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace" yaml:"workspace"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Isolation   IsolationConfig   `mapstructure:"isolation" yaml:"isolation"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("interpreter.path", filepath.Join("interpreter", "lsbasi_exec"))
	v.SetDefault("interpreter.source_name", "input.txt")
	v.SetDefault("interpreter.env", []string{})

	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), "sandboxd"))

	v.SetDefault("limits.max_source_bytes", 64*1024)
	v.SetDefault("limits.default_timeout", 5*time.Second)
	v.SetDefault("limits.max_timeout", 15*time.Second)
	v.SetDefault("limits.max_concurrent", 4)
	v.SetDefault("limits.queue_timeout", 2*time.Second)
	v.SetDefault("limits.max_output_bytes", 1024*1024)
	v.SetDefault("limits.cpu_seconds", 10)
	v.SetDefault("limits.memory_bytes", 256*1024*1024)
	v.SetDefault("limits.file_size_bytes", 1024*1024)
	v.SetDefault("limits.open_files", 64)
	v.SetDefault("limits.processes", 64)

	v.SetDefault("isolation.mode", "auto")
	v.SetDefault("isolation.read_paths", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, an optional YAML file and the
// environment. An explicit path must exist; the default search locations
// are allowed to be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sandboxd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is honoured for compatibility with the usual PaaS convention.
	if err := v.BindEnv("server.port", "SANDBOXD_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sandboxd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sandboxd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that limits are usable together.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Interpreter.Path) == "" {
		errs = append(errs, errors.New("interpreter.path is required"))
	}
	if c.Interpreter.SourceName == "" || filepath.Base(c.Interpreter.SourceName) != c.Interpreter.SourceName {
		errs = append(errs, fmt.Errorf("interpreter.source_name %q must be a bare file name", c.Interpreter.SourceName))
	}
	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}

	l := c.Limits
	if l.MaxSourceBytes <= 0 {
		errs = append(errs, errors.New("limits.max_source_bytes must be positive"))
	}
	if l.DefaultTimeout <= 0 || l.MaxTimeout <= 0 {
		errs = append(errs, errors.New("limits.default_timeout and limits.max_timeout must be positive"))
	} else if l.DefaultTimeout > l.MaxTimeout {
		errs = append(errs, fmt.Errorf("limits.default_timeout %s exceeds limits.max_timeout %s", l.DefaultTimeout, l.MaxTimeout))
	}
	if l.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("limits.max_concurrent must be positive"))
	}
	if l.QueueTimeout < 0 {
		errs = append(errs, errors.New("limits.queue_timeout must not be negative"))
	}
	if l.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("limits.max_output_bytes must be positive"))
	}

	switch c.Isolation.Mode {
	case "", "auto", "required", "off":
	default:
		errs = append(errs, fmt.Errorf("isolation.mode %q must be auto, required or off", c.Isolation.Mode))
	}
	for _, p := range c.Isolation.ReadPaths {
		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("isolation.read_paths entry %q must be absolute", p))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

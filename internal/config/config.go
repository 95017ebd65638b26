package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/menta2k/object-cropper/pkg/geometry"
)

// Supported detection backends
const (
	BackendGCV      = "gcv"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Cropper   CropperConfig   `yaml:"cropper" json:"cropper"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Run       RunConfig       `yaml:"run" json:"run"`
}

// PathsConfig holds input/output locations
type PathsConfig struct {
	InputDir    string   `yaml:"input_dir" json:"input_dir" env:"CROPPER_INPUT_DIR" env-default:"inputs"`
	OutputDir   string   `yaml:"output_dir" json:"output_dir" env:"CROPPER_OUTPUT_DIR" env-default:"outputs"`
	Credentials string   `yaml:"credentials" json:"credentials" env:"GOOGLE_APPLICATION_CREDENTIALS" env-default:"key.json"`
	Extensions  []string `yaml:"extensions" json:"extensions" env:"CROPPER_EXTENSIONS" env-default:"jpg,jpeg,png"`
}

// DetectionConfig selects and tunes the detection backend
type DetectionConfig struct {
	Backend  string   `yaml:"backend" json:"backend" env:"CROPPER_BACKEND" env-default:"gcv"`
	URL      string   `yaml:"url" json:"url" env:"CROPPER_BACKEND_URL"`
	Model    string   `yaml:"model" json:"model" env:"CROPPER_MODEL" env-default:"openbmb/minicpm-v4.5"`
	Labels   []string `yaml:"labels" json:"labels" env:"CROPPER_LABELS" env-default:"glasses,sunglasses,goggles"`
	SendFmt  string   `yaml:"send_format" json:"send_format" env:"CROPPER_SEND_FORMAT" env-default:"jpg"`
	SendSize int      `yaml:"send_size" json:"send_size" env:"CROPPER_SEND_SIZE" env-default:"1536"`
	SendQ    int      `yaml:"send_quality" json:"send_quality" env:"CROPPER_SEND_QUALITY" env-default:"85"`
}

// CropperConfig holds the geometry knobs
type CropperConfig struct {
	ObjectRatio int `yaml:"object_ratio" json:"object_ratio" env:"CROPPER_OBJECT_RATIO" env-default:"80"`
	MinSize     int `yaml:"min_size" json:"min_size" env:"CROPPER_MIN_SIZE" env-default:"400"`
}

// OutputConfig holds encoder settings
type OutputConfig struct {
	Quality  int  `yaml:"quality" json:"quality" env:"CROPPER_QUALITY" env-default:"90"`
	Lossless bool `yaml:"lossless" json:"lossless" env:"CROPPER_LOSSLESS"`
	Debug    bool `yaml:"debug_overlay" json:"debug_overlay" env:"CROPPER_DEBUG_OVERLAY"`
}

// RunConfig holds batch behaviour
type RunConfig struct {
	Workers  int    `yaml:"workers" json:"workers" env:"CROPPER_WORKERS" env-default:"2"`
	Journal  string `yaml:"journal" json:"journal" env:"CROPPER_JOURNAL"`
	Resume   bool   `yaml:"resume" json:"resume" env:"CROPPER_RESUME"`
	DryRun   bool   `yaml:"dry_run" json:"dry_run" env:"CROPPER_DRY_RUN"`
	LogDebug bool   `yaml:"log_debug" json:"log_debug" env:"CROPPER_LOG_DEBUG"`
}

// ConfigurationError is fatal: the process must stop before touching any image
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Default returns a configuration with default values.
// It mirrors the env-default tags.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			InputDir:    "inputs",
			OutputDir:   "outputs",
			Credentials: "key.json",
			Extensions:  []string{"jpg", "jpeg", "png"},
		},
		Detection: DetectionConfig{
			Backend:  BackendGCV,
			Model:    "openbmb/minicpm-v4.5",
			Labels:   []string{"glasses", "sunglasses", "goggles"},
			SendFmt:  "jpg",
			SendSize: 1536,
			SendQ:    85,
		},
		Cropper: CropperConfig{
			ObjectRatio: 80,
			MinSize:     400,
		},
		Output: OutputConfig{
			Quality: 90,
		},
		Run: RunConfig{
			Workers: 2,
		},
	}
}

// Load reads configuration from path (YAML, JSON, TOML or .env, by extension)
// and then from the environment. An empty path reads the environment only.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigurationError{Field: ".env", Reason: "failed to load", Err: err}
	}

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, &ConfigurationError{Field: "env", Reason: "failed to read environment", Err: err}
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: "failed to read config file", Err: err}
	}

	cfg.Normalize()
	return &cfg, nil
}

// Geometry returns the crop geometry configuration
func (c *Config) Geometry() geometry.Config {
	return geometry.Config{
		ObjectRatioPercent: c.Cropper.ObjectRatio,
		MinimumOutputSize:  c.Cropper.MinSize,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return &ConfigurationError{Field: "cropper", Reason: err.Error()}
	}

	if c.Paths.InputDir == "" {
		return &ConfigurationError{Field: "paths.input_dir", Reason: "must not be empty"}
	}
	if c.Paths.OutputDir == "" {
		return &ConfigurationError{Field: "paths.output_dir", Reason: "must not be empty"}
	}
	if len(c.Paths.Extensions) == 0 {
		return &ConfigurationError{Field: "paths.extensions", Reason: "cannot be empty"}
	}

	switch c.Detection.Backend {
	case BackendGCV, BackendOllama, BackendLlamaCpp:
	default:
		return &ConfigurationError{
			Field:  "detection.backend",
			Reason: fmt.Sprintf("unknown backend %q (use gcv, ollama or llamacpp)", c.Detection.Backend),
		}
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return &ConfigurationError{Field: "output.quality", Reason: "must be between 1 and 100"}
	}
	if c.Detection.SendQ < 1 || c.Detection.SendQ > 100 {
		return &ConfigurationError{Field: "detection.send_quality", Reason: "must be between 1 and 100"}
	}
	if c.Detection.SendSize < 0 {
		return &ConfigurationError{Field: "detection.send_size", Reason: "must not be negative"}
	}
	if c.Run.Workers < 1 {
		return &ConfigurationError{Field: "run.workers", Reason: "must be positive"}
	}
	if c.Run.Resume && c.Run.Journal == "" {
		return &ConfigurationError{Field: "run.resume", Reason: "requires a journal path"}
	}

	return nil
}

// ValidateCredentials checks that the service-account key file exists.
// Only the gcv backend needs credentials.
func (c *Config) ValidateCredentials() error {
	if c.Detection.Backend != BackendGCV {
		return nil
	}
	return ValidateCredentials(c.Paths.Credentials)
}

// ValidateCredentials checks that a credential file exists and is a regular file
func ValidateCredentials(path string) error {
	if path == "" {
		return &ConfigurationError{Field: "paths.credentials", Reason: "no credential file configured"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &ConfigurationError{Field: "paths.credentials", Reason: fmt.Sprintf("credential file %s not found", path), Err: err}
	}
	if info.IsDir() {
		return &ConfigurationError{Field: "paths.credentials", Reason: fmt.Sprintf("%s is a directory", path)}
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "object-cropper", "config.yaml")
}

// Normalize lowercases enumerations and strips leading dots from extensions
func (c *Config) Normalize() {
	c.Detection.Backend = strings.ToLower(strings.TrimSpace(c.Detection.Backend))

	exts := make([]string, 0, len(c.Paths.Extensions))
	for _, e := range c.Paths.Extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.Paths.Extensions = exts

	labels := make([]string, 0, len(c.Detection.Labels))
	for _, l := range c.Detection.Labels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	c.Detection.Labels = labels
}

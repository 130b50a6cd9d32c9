package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration. It is resolved once
// by Load and handed to every component at construction; nothing mutates it
// afterwards.
type Config struct {
	Watch    WatchConfig    `yaml:"watch" json:"watch"`
	Output   OutputConfig   `yaml:"output" json:"output"`
	Sampling SamplingConfig `yaml:"sampling" json:"sampling"`
	Preview  PreviewConfig  `yaml:"preview" json:"preview"`
	Ingest   IngestConfig   `yaml:"ingest" json:"ingest"`
	Media    MediaConfig    `yaml:"media" json:"media"`
	Poison   PoisonConfig   `yaml:"poison" json:"poison"`
	Status   StatusConfig   `yaml:"status" json:"status"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// WatchConfig holds directory monitoring configuration
type WatchConfig struct {
	Root        string        `yaml:"root" json:"root" env:"FRAMEGRAB_WATCH_ROOT"`
	Recursive   bool          `yaml:"recursive" json:"recursive" env:"FRAMEGRAB_WATCH_RECURSIVE"`
	Extensions  []string      `yaml:"extensions" json:"extensions" env:"FRAMEGRAB_EXTENSIONS"`
	Debounce    time.Duration `yaml:"debounce" json:"debounce" env:"FRAMEGRAB_DEBOUNCE"`
	ScanOnStart bool          `yaml:"scan_on_start" json:"scan_on_start" env:"FRAMEGRAB_SCAN_ON_START"`
}

// Variant is one still resolution written under its own output root.
type Variant struct {
	Name   string `yaml:"name" json:"name"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// OutputConfig holds artifact output configuration
type OutputConfig struct {
	Root         string  `yaml:"root" json:"root" env:"FRAMEGRAB_OUTPUT_ROOT"`
	ImageFormat  string  `yaml:"image_format" json:"image_format" env:"FRAMEGRAB_IMAGE_FORMAT"`
	JPEGQuality  int     `yaml:"jpeg_quality" json:"jpeg_quality" env:"FRAMEGRAB_JPEG_QUALITY"`
	Default      Variant `yaml:"default" json:"default"`
	Dual         Variant `yaml:"dual" json:"dual"`
	DualEnabled  bool    `yaml:"dual_enabled" json:"dual_enabled" env:"FRAMEGRAB_DUAL_ENABLED"`
	MinFreeBytes uint64  `yaml:"min_free_bytes" json:"min_free_bytes" env:"FRAMEGRAB_MIN_FREE_BYTES"`
}

// SamplingConfig controls which frames are pulled from each source
type SamplingConfig struct {
	Count       int           `yaml:"count" json:"count" env:"FRAMEGRAB_SAMPLE_COUNT"`
	StartOffset time.Duration `yaml:"start_offset" json:"start_offset" env:"FRAMEGRAB_START_OFFSET"`
}

// PreviewConfig controls the animated preview
type PreviewConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled" env:"FRAMEGRAB_PREVIEW_ENABLED"`
	FrameCount int  `yaml:"frame_count" json:"frame_count" env:"FRAMEGRAB_PREVIEW_FRAMES"`
	FrameDelay int  `yaml:"frame_delay_ms" json:"frame_delay_ms" env:"FRAMEGRAB_PREVIEW_DELAY_MS"`
}

// IngestConfig holds queue, worker and retry configuration
type IngestConfig struct {
	Workers         int           `yaml:"workers" json:"workers" env:"FRAMEGRAB_WORKERS"`
	StabilityWait   time.Duration `yaml:"stability_wait" json:"stability_wait" env:"FRAMEGRAB_STABILITY_WAIT"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries" env:"FRAMEGRAB_MAX_RETRIES"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff" env:"FRAMEGRAB_RETRY_BACKOFF"`
	DeleteSource    bool          `yaml:"delete_source" json:"delete_source" env:"FRAMEGRAB_DELETE_SOURCE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"FRAMEGRAB_SHUTDOWN_TIMEOUT"`
}

// MediaConfig locates the external decoding tools
type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FRAMEGRAB_FFMPEG"`
	FFprobePath string `yaml:"ffprobe_path" json:"ffprobe_path" env:"FRAMEGRAB_FFPROBE"`
}

// PoisonConfig holds the exhausted-file store configuration
type PoisonConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled" env:"FRAMEGRAB_POISON_ENABLED"`
	Type         string `yaml:"type" json:"type" env:"FRAMEGRAB_POISON_DB_TYPE"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"FRAMEGRAB_POISON_DB_PATH"`
	DSN          string `yaml:"dsn" json:"-" env:"FRAMEGRAB_POISON_DSN"`
}

// StatusConfig controls the diagnostics HTTP endpoint
type StatusConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"FRAMEGRAB_STATUS_ENABLED"`
	Listen  string `yaml:"listen" json:"listen" env:"FRAMEGRAB_STATUS_LISTEN"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"FRAMEGRAB_LOG_LEVEL"`
	Format       string `yaml:"format" json:"format" env:"FRAMEGRAB_LOG_FORMAT"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"FRAMEGRAB_LOG_COLORS"`
}

// DefaultConfig returns the default application configuration
func DefaultConfig() Config {
	return Config{
		Watch: WatchConfig{
			Root:       "Videos",
			Recursive:  true,
			Extensions: []string{".mp4", ".avi", ".mov"},
			Debounce:   2 * time.Second,
		},
		Output: OutputConfig{
			Root:         "screenshots",
			ImageFormat:  "jpg",
			JPEGQuality:  90,
			Default:      Variant{Name: "Default", Width: 420, Height: 560},
			Dual:         Variant{Name: "STB", Width: 1280, Height: 720},
			MinFreeBytes: 100 * 1024 * 1024, // 100MB
		},
		Sampling: SamplingConfig{
			Count:       20,
			StartOffset: 300 * time.Second, // skip the first five minutes
		},
		Preview: PreviewConfig{
			Enabled:    true,
			FrameCount: 10,
			FrameDelay: 100,
		},
		Ingest: IngestConfig{
			Workers:       0, // Auto-detect
			StabilityWait: 1 * time.Second,
			MaxRetries:    3,
			RetryBackoff:  10 * time.Second,
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Poison: PoisonConfig{
			Enabled: true,
			Type:    "sqlite",
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:8089",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			EnableColors: true,
		},
	}
}

// Load builds the configuration: DefaultConfig, then the file at path (when
// non-empty and present), then environment overrides. The result is
// validated and derived values are filled in. Durations are strings such as
// "2s" in yaml, json and the environment alike.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" && fileExists(path) {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(&cfg).Elem()); err != nil {
		return Config{}, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := applyDerivedConfig(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Variants returns the enabled still variants, default first.
func (c Config) Variants() []Variant {
	if c.Output.DualEnabled {
		return []Variant{c.Output.Default, c.Output.Dual}
	}
	return []Variant{c.Output.Default}
}

// ExtensionSet returns the supported extensions as a lookup set.
func (c Config) ExtensionSet() map[string]bool {
	set := make(map[string]bool, len(c.Watch.Extensions))
	for _, ext := range c.Watch.Extensions {
		set[ext] = true
	}
	return set
}

// Validate checks if the configuration is usable
func (c Config) Validate() error {
	if c.Watch.Root == "" {
		return &ValidationError{Field: "watch.root", Message: "must be set"}
	}
	if c.Output.Root == "" {
		return &ValidationError{Field: "output.root", Message: "must be set"}
	}
	if isWithin(c.Output.Root, c.Watch.Root) {
		return &ValidationError{Field: "output.root", Message: "must not be inside watch.root"}
	}
	if len(c.Watch.Extensions) == 0 {
		return &ValidationError{Field: "watch.extensions", Message: "at least one extension is required"}
	}
	if c.Watch.Debounce < 0 {
		return &ValidationError{Field: "watch.debounce", Message: "must not be negative"}
	}
	if c.Output.ImageFormat != "jpg" && c.Output.ImageFormat != "webp" {
		return &ValidationError{Field: "output.image_format", Message: "must be jpg or webp"}
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return &ValidationError{Field: "output.jpeg_quality", Message: "must be between 1 and 100"}
	}
	for _, v := range c.Variants() {
		if v.Name == "" || strings.ContainsAny(v.Name, `/\`) {
			return &ValidationError{Field: "output.variant.name", Message: fmt.Sprintf("invalid variant name %q", v.Name)}
		}
		if v.Width <= 0 || v.Height <= 0 {
			return &ValidationError{Field: "output.variant." + v.Name, Message: "width and height must be positive"}
		}
	}
	if c.Output.DualEnabled && c.Output.Default.Name == c.Output.Dual.Name {
		return &ValidationError{Field: "output.dual.name", Message: "must differ from output.default.name"}
	}
	if c.Sampling.Count < 1 {
		return &ValidationError{Field: "sampling.count", Message: "must be at least 1"}
	}
	if c.Sampling.StartOffset < 0 {
		return &ValidationError{Field: "sampling.start_offset", Message: "must not be negative"}
	}
	if c.Preview.Enabled {
		if c.Preview.FrameCount < 1 {
			return &ValidationError{Field: "preview.frame_count", Message: "must be at least 1"}
		}
		if c.Preview.FrameDelay < 10 {
			return &ValidationError{Field: "preview.frame_delay_ms", Message: "must be at least 10"}
		}
	}
	if c.Ingest.Workers < 1 {
		return &ValidationError{Field: "ingest.workers", Message: "must be at least 1"}
	}
	if c.Ingest.MaxRetries < 1 {
		return &ValidationError{Field: "ingest.max_retries", Message: "must be at least 1"}
	}
	if c.Ingest.StabilityWait < 0 || c.Ingest.RetryBackoff < 0 || c.Ingest.ShutdownTimeout < 0 {
		return &ValidationError{Field: "ingest", Message: "durations must not be negative"}
	}
	if c.Poison.Enabled && c.Poison.Type != "sqlite" && c.Poison.Type != "postgres" {
		return &ValidationError{Field: "poison.type", Message: "must be sqlite or postgres"}
	}
	if c.Poison.Enabled && c.Poison.Type == "postgres" && c.Poison.DSN == "" {
		return &ValidationError{Field: "poison.dsn", Message: "required for postgres"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json":
		// JSON is decoded as YAML so durations read as "2s" in both formats.
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadStructFromEnv applies environment overrides. Only variables that are
// set and non-empty are applied; defaults come from DefaultConfig.
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(uintVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(cfg *Config) error {
	for _, p := range []*string{&cfg.Watch.Root, &cfg.Output.Root} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}

	exts := make([]string, 0, len(cfg.Watch.Extensions))
	for _, ext := range cfg.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	cfg.Watch.Extensions = exts

	cfg.Output.ImageFormat = strings.TrimPrefix(strings.ToLower(cfg.Output.ImageFormat), ".")
	if cfg.Output.ImageFormat == "jpeg" {
		cfg.Output.ImageFormat = "jpg"
	}

	if cfg.Poison.DatabasePath == "" {
		cfg.Poison.DatabasePath = filepath.Join(cfg.Output.Root, ".framegrab", "poison.db")
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = min(max(1, getCPUCount()), 16)
	}

	return nil
}

func getCPUCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

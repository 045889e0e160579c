package vmem

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures a Runtime. It is usually loaded from a TOML file:
//
//	page_size = 4096
//	alignment = 16
//	track_memory = true
//	track_call_sites = true
//	log_level = "debug"
type Config struct {
	// PageSize and Alignment set the temporary arena's page geometry.
	PageSize  int `toml:"page_size"`
	Alignment int `toml:"alignment"`

	// MaxAlloc caps a single heap request in bytes; 0 means no cap.
	MaxAlloc int `toml:"max_alloc"`

	// TrackMemory wraps the default allocator in a Tracker.
	TrackMemory bool `toml:"track_memory"`
	// TrackCallSites records the call-site of every tracked allocation.
	TrackCallSites bool `toml:"track_call_sites"`
	// TraceAllocations logs every allocator call at debug level.
	TraceAllocations bool `toml:"trace_allocations"`
	// AnalyzeTempMemory warns when a temporary block cannot be reclaimed.
	AnalyzeTempMemory bool `toml:"analyze_temp_memory"`

	// Debug makes fatal errors panic instead of exiting the process.
	Debug bool `toml:"debug"`
	// LogLevel is a zap level name.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		PageSize:  DefaultPageSize,
		Alignment: DefaultAlignment,
		LogLevel:  "info",
	}
}

// LoadConfig reads a TOML configuration file. Keys missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config file")
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config file %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes TOML on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the page geometry, limits and log level.
func (c Config) Validate() error {
	if err := c.arenaConfig().withDefaults().validate(); err != nil {
		return err
	}
	if c.MaxAlloc < 0 {
		return errors.Newf("max_alloc %d is negative", c.MaxAlloc)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

// Marshal encodes the configuration as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c Config) arenaConfig() ArenaConfig {
	return ArenaConfig{
		PageSize:  c.PageSize,
		Alignment: c.Alignment,
		Analyze:   c.AnalyzeTempMemory,
		Trace:     c.TraceAllocations,
	}
}

func (c Config) level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	return l, nil
}

// NewLogger builds the logger described by c: zap's development setup in
// debug mode, the production setup otherwise.
func NewLogger(c Config) (*zap.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

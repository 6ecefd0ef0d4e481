package kvbrowse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the engine tunables. Zero values are not usable; start from
// DefaultConfig or LoadConfig.
type Config struct {
	// Delimiter splits key names into tree path components.
	Delimiter string
	// ScanPageSize is the COUNT hint passed to keyspace scans.
	ScanPageSize int64
	// Workers is the number of background execution threads. Store
	// operations are I/O-bound, so a small fixed count suffices.
	Workers int
	// QueueDepth caps how many submitted-but-not-started operations the
	// worker pool tracks before spilling to its overflow list.
	QueueDepth int
	// OpTimeout is the per-operation deadline.
	OpTimeout time.Duration
	// ShutdownGrace bounds how long Close waits for in-flight operations.
	ShutdownGrace time.Duration
	// ProgressEvery coalesces pagination progress signals to one per this
	// many newly observed keys, in addition to the per-page signal.
	ProgressEvery int
}

// DefaultConfig returns the engine defaults. Page size and worker count match
// the interactive-browse workload this engine was built for.
func DefaultConfig() Config {
	return Config{
		Delimiter:     ":",
		ScanPageSize:  200,
		Workers:       4,
		QueueDepth:    256,
		OpTimeout:     30 * time.Second,
		ShutdownGrace: 5 * time.Second,
		ProgressEvery: 500,
	}
}

// LoadConfig reads configuration from file and env. Env var overrides use
// prefix KVBROWSE_, e.g. KVBROWSE_ENGINE_WORKERS=8. The config file location
// can be forced with KVBROWSE_CONFIG; otherwise ~/.config/kvbrowse/config.toml
// is consulted when present.
func LoadConfig() (Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("engine.delimiter", def.Delimiter)
	v.SetDefault("engine.scan_page_size", def.ScanPageSize)
	v.SetDefault("engine.workers", def.Workers)
	v.SetDefault("engine.queue_depth", def.QueueDepth)
	v.SetDefault("engine.op_timeout", def.OpTimeout.String())
	v.SetDefault("engine.shutdown_grace", def.ShutdownGrace.String())
	v.SetDefault("engine.progress_every", def.ProgressEvery)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("KVBROWSE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "kvbrowse"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("KVBROWSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	c := Config{
		Delimiter:     v.GetString("engine.delimiter"),
		ScanPageSize:  v.GetInt64("engine.scan_page_size"),
		Workers:       v.GetInt("engine.workers"),
		QueueDepth:    v.GetInt("engine.queue_depth"),
		OpTimeout:     v.GetDuration("engine.op_timeout"),
		ShutdownGrace: v.GetDuration("engine.shutdown_grace"),
		ProgressEvery: v.GetInt("engine.progress_every"),
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Delimiter == "" {
		return fmt.Errorf("delimiter cannot be empty")
	}
	if c.ScanPageSize <= 0 {
		return fmt.Errorf("scan page size must be positive, got %d", c.ScanPageSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("op timeout must be positive, got %v", c.OpTimeout)
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress cadence must be positive, got %d", c.ProgressEvery)
	}
	return nil
}

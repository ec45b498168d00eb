package cfg

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type EngineConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT"`
	DataDir     string      `mapstructure:"DATA_DIR"`

	LogBufferSize     int    `mapstructure:"LOG_BUFFER_SIZE"`
	LogRecentSlots    int    `mapstructure:"LOG_RECENT_SLOTS"`
	LogRecentSlotSize int    `mapstructure:"LOG_RECENT_SLOT_SIZE"`
	LogWriteEvents    int    `mapstructure:"LOG_WRITE_EVENTS"`
	LogFlushEvents    int    `mapstructure:"LOG_FLUSH_EVENTS"`
	LogNotifyGranule  uint64 `mapstructure:"LOG_NOTIFY_GRANULE"`

	LogWriterSpin      int           `mapstructure:"LOG_WRITER_SPIN"`
	LogWriterTimeout   time.Duration `mapstructure:"LOG_WRITER_TIMEOUT"`
	LogFlusherSpin     int           `mapstructure:"LOG_FLUSHER_SPIN"`
	LogFlusherTimeout  time.Duration `mapstructure:"LOG_FLUSHER_TIMEOUT"`
	LogNotifierSpin    int           `mapstructure:"LOG_NOTIFIER_SPIN"`
	LogNotifierTimeout time.Duration `mapstructure:"LOG_NOTIFIER_TIMEOUT"`
	LogCloserSpin      int           `mapstructure:"LOG_CLOSER_SPIN"`
	LogCloserTimeout   time.Duration `mapstructure:"LOG_CLOSER_TIMEOUT"`
	LogWaitSpin        int           `mapstructure:"LOG_WAIT_SPIN"`
	LogWaitTimeout     time.Duration `mapstructure:"LOG_WAIT_TIMEOUT"`
	CheckpointEvery    time.Duration `mapstructure:"CHECKPOINT_EVERY"`

	PurgeThreads     int `mapstructure:"PURGE_THREADS"`
	PurgeBatchSize   int `mapstructure:"PURGE_BATCH_SIZE"`
	PageCleaners     int `mapstructure:"PAGE_CLEANERS"`
	PageCleanerBatch int `mapstructure:"PAGE_CLEANER_BATCH"`
	LRUManagers      int `mapstructure:"LRU_MANAGERS"`
	LRUBatch         int `mapstructure:"LRU_BATCH"`
	LRUFreeTarget    int `mapstructure:"LRU_FREE_TARGET"`
	BufferPoolSize   int `mapstructure:"BUFFER_POOL_SIZE"`

	WaitSlots            int           `mapstructure:"WAIT_SLOTS"`
	LockWaitTimeout      time.Duration `mapstructure:"LOCK_WAIT_TIMEOUT"`
	LockWaitScanInterval time.Duration `mapstructure:"LOCK_WAIT_SCAN_INTERVAL"`
	PoolIdleTimeout      time.Duration `mapstructure:"POOL_IDLE_TIMEOUT"`

	MasterInterval  time.Duration `mapstructure:"MASTER_INTERVAL"`
	MonitorInterval time.Duration `mapstructure:"MONITOR_INTERVAL"`
	LongWaitWarning time.Duration `mapstructure:"LONG_WAIT_WARNING"`
	ShutdownGrace   time.Duration `mapstructure:"SHUTDOWN_GRACE"`
}

var defaults = map[string]any{
	"ENVIRONMENT": DefaultEnv,
	"DATA_DIR":    "./data",

	"LOG_BUFFER_SIZE":      16 << 20,
	"LOG_RECENT_SLOTS":     1024,
	"LOG_RECENT_SLOT_SIZE": 1024,
	"LOG_WRITE_EVENTS":     2048,
	"LOG_FLUSH_EVENTS":     2048,
	"LOG_NOTIFY_GRANULE":   512,

	"LOG_WRITER_SPIN":      64,
	"LOG_WRITER_TIMEOUT":   "10ms",
	"LOG_FLUSHER_SPIN":     64,
	"LOG_FLUSHER_TIMEOUT":  "10ms",
	"LOG_NOTIFIER_SPIN":    32,
	"LOG_NOTIFIER_TIMEOUT": "10ms",
	"LOG_CLOSER_SPIN":      32,
	"LOG_CLOSER_TIMEOUT":   "10ms",
	"LOG_WAIT_SPIN":        16,
	"LOG_WAIT_TIMEOUT":     "10ms",
	"CHECKPOINT_EVERY":     "1s",

	"PURGE_THREADS":      4,
	"PURGE_BATCH_SIZE":   300,
	"PAGE_CLEANERS":      4,
	"PAGE_CLEANER_BATCH": 200,
	"LRU_MANAGERS":       2,
	"LRU_BATCH":          64,
	"LRU_FREE_TARGET":    128,
	"BUFFER_POOL_SIZE":   8192,

	"WAIT_SLOTS":              1024,
	"LOCK_WAIT_TIMEOUT":       "50s",
	"LOCK_WAIT_SCAN_INTERVAL": "1s",
	"POOL_IDLE_TIMEOUT":       "1s",

	"MASTER_INTERVAL":   "1s",
	"MONITOR_INTERVAL":  "15s",
	"LONG_WAIT_WARNING": "10m",
	"SHUTDOWN_GRACE":    "30s",
}

// LoadConfig reads <path>/.env when present and lets ENGINE_-prefixed
// environment variables override it.
func LoadConfig(path string) (EngineConfig, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return EngineConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg EngineConfig

	err = v.Unmarshal(&cfg)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("viper unmarshaling config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c EngineConfig) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}

	positive := map[string]int{
		"LOG_BUFFER_SIZE":      c.LogBufferSize,
		"LOG_RECENT_SLOTS":     c.LogRecentSlots,
		"LOG_RECENT_SLOT_SIZE": c.LogRecentSlotSize,
		"LOG_WRITE_EVENTS":     c.LogWriteEvents,
		"LOG_FLUSH_EVENTS":     c.LogFlushEvents,
		"PURGE_THREADS":        c.PurgeThreads,
		"PURGE_BATCH_SIZE":     c.PurgeBatchSize,
		"PAGE_CLEANERS":        c.PageCleaners,
		"PAGE_CLEANER_BATCH":   c.PageCleanerBatch,
		"LRU_MANAGERS":         c.LRUManagers,
		"LRU_BATCH":            c.LRUBatch,
		"BUFFER_POOL_SIZE":     c.BufferPoolSize,
		"WAIT_SLOTS":           c.WaitSlots,
	}
	for key, val := range positive {
		if val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, val)
		}
	}

	durations := map[string]time.Duration{
		"LOG_WRITER_TIMEOUT":      c.LogWriterTimeout,
		"LOG_FLUSHER_TIMEOUT":     c.LogFlusherTimeout,
		"LOG_NOTIFIER_TIMEOUT":    c.LogNotifierTimeout,
		"LOG_CLOSER_TIMEOUT":      c.LogCloserTimeout,
		"LOG_WAIT_TIMEOUT":        c.LogWaitTimeout,
		"CHECKPOINT_EVERY":        c.CheckpointEvery,
		"LOCK_WAIT_SCAN_INTERVAL": c.LockWaitScanInterval,
		"POOL_IDLE_TIMEOUT":       c.PoolIdleTimeout,
		"MASTER_INTERVAL":         c.MasterInterval,
		"MONITOR_INTERVAL":        c.MonitorInterval,
		"SHUTDOWN_GRACE":          c.ShutdownGrace,
	}
	for key, val := range durations {
		if val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, val)
		}
	}

	if c.LogNotifyGranule == 0 {
		return errors.New("LOG_NOTIFY_GRANULE must be positive")
	}

	if c.LRUFreeTarget < 0 || c.LRUFreeTarget > c.BufferPoolSize {
		return fmt.Errorf("LRU_FREE_TARGET must be within [0, %d], got %d", c.BufferPoolSize, c.LRUFreeTarget)
	}

	if c.DataDir == "" {
		return errors.New("DATA_DIR must be set")
	}

	return nil
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

// Package config builds the scheduler's tunables (spec.md §6) from
// flags and environment variables, following the
// BuildFlagSet/BuildViper/BuildConfig shape of the teacher's
// cmd/simulator/main/main.go.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/banking-scheduler/scheduler"
)

// Flag keys, also used as viper lookup keys and BANKING_SCHEDULER_*
// environment variable names.
const (
	NumThreadsKey           = "num-threads"
	SequentialQueueLimitKey = "sequential-queue-limit"
	ContainerCapacityKey    = "container-capacity"
	MaxBatchSizeKey         = "max-batch-size"
	RecvTimeoutKey          = "recv-timeout"
	LogLevelKey             = "log-level"
	VersionKey              = "version"
)

const envPrefix = "BANKING_SCHEDULER"

// BuildFlagSet declares every tunable's flag, default, and usage
// string. Defaults mirror scheduler.DefaultConfig().
func BuildFlagSet() *pflag.FlagSet {
	def := scheduler.DefaultConfig()

	fs := pflag.NewFlagSet("banking-scheduler", pflag.ContinueOnError)
	fs.Int(NumThreadsKey, def.NumThreads, "number of worker threads (1-64)")
	fs.Uint32(SequentialQueueLimitKey, 0, "max in-flight transactions per account per thread (0 = unbounded)")
	fs.Int(ContainerCapacityKey, def.ContainerCapacity, "pending-transaction container capacity")
	fs.Int(MaxBatchSizeKey, def.MaxBatchSize, "maximum packets per dispatched batch")
	fs.Duration(RecvTimeoutKey, def.RecvTimeout, "ingress/completion receive timeout")
	fs.String(LogLevelKey, "info", "log level: trace, debug, info, warn, error, crit")
	fs.Bool(VersionKey, false, "print version and exit")
	return fs
}

// BuildViper parses args against fs and layers BANKING_SCHEDULER_*
// environment variables over the flag defaults.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: binding flags: %w", err)
	}
	return v, nil
}

// BuildConfig derives a scheduler.Config from a populated viper
// instance, using spf13/cast for the environment-variable coercions
// viper doesn't do automatically (e.g. a string "0" for the optional
// sequential queue limit).
func BuildConfig(v *viper.Viper) (scheduler.Config, error) {
	numThreads, err := cast.ToIntE(v.Get(NumThreadsKey))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("config: %s: %w", NumThreadsKey, err)
	}

	var limit *uint32
	if raw := v.GetUint32(SequentialQueueLimitKey); raw > 0 {
		limit = &raw
	}

	capacity, err := cast.ToIntE(v.Get(ContainerCapacityKey))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("config: %s: %w", ContainerCapacityKey, err)
	}
	maxBatch, err := cast.ToIntE(v.Get(MaxBatchSizeKey))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("config: %s: %w", MaxBatchSizeKey, err)
	}
	recvTimeout, err := cast.ToDurationE(v.Get(RecvTimeoutKey))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("config: %s: %w", RecvTimeoutKey, err)
	}

	cfg := scheduler.Config{
		NumThreads:           numThreads,
		SequentialQueueLimit: limit,
		ContainerCapacity:    capacity,
		MaxBatchSize:         maxBatch,
		RecvTimeout:          recvTimeout,
	}
	if cfg.NumThreads < 1 {
		return scheduler.Config{}, fmt.Errorf("config: %s must be >= 1", NumThreadsKey)
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = time.Millisecond
	}
	return cfg, nil
}

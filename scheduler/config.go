package scheduler

import "time"

// Config holds the tunables of spec.md §6.
type Config struct {
	NumThreads           int
	SequentialQueueLimit *uint32
	ContainerCapacity    int
	MaxBatchSize         int
	RecvTimeout          time.Duration
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		NumThreads:           4,
		SequentialQueueLimit: nil,
		ContainerCapacity:    4096,
		MaxBatchSize:         128,
		RecvTimeout:          10 * time.Millisecond,
	}
}

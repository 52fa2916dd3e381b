package service

import (
	"math/rand/v2"
	"time"
)

// Rate holds the throughput knobs for one dispatch call. Zero values fall
// back to the relay-safe defaults below; these are plain configuration, no
// feedback from observed failures adjusts them.
type Rate struct {
	PerMinute    int `json:"per_minute"`
	MinDelayMs   int `json:"min_delay_ms"`
	MaxDelayMs   int `json:"max_delay_ms"`
	BatchSize    int `json:"batch_size"`
	BatchDelayMs int `json:"batch_delay_ms"`
}

const (
	defaultPerMinute    = 45
	defaultMinDelayMs   = 900
	defaultMaxDelayMs   = 1700
	defaultBatchSize    = 10
	defaultBatchDelayMs = 1000
)

func (r Rate) withDefaults() Rate {
	if r.PerMinute <= 0 {
		r.PerMinute = defaultPerMinute
	}
	if r.MinDelayMs <= 0 {
		r.MinDelayMs = defaultMinDelayMs
	}
	if r.MaxDelayMs <= 0 {
		r.MaxDelayMs = defaultMaxDelayMs
	}
	if r.MaxDelayMs < r.MinDelayMs {
		r.MaxDelayMs = r.MinDelayMs
	}
	if r.BatchSize <= 0 {
		r.BatchSize = defaultBatchSize
	}
	if r.BatchDelayMs <= 0 {
		r.BatchDelayMs = defaultBatchDelayMs
	}
	return r
}

// jitter draws a per-message delay uniformly from [MinDelayMs, MaxDelayMs]
// to emulate a human send cadence.
func (r Rate) jitter() time.Duration {
	ms := r.MinDelayMs + rand.IntN(r.MaxDelayMs-r.MinDelayMs+1)
	return time.Duration(ms) * time.Millisecond
}

func (r Rate) batchDelay() time.Duration {
	return time.Duration(r.BatchDelayMs) * time.Millisecond
}

package tracker

import (
	"go.uber.org/zap"

	ts "github.com/samuelfneumann/goarcade/timestep"
)

// Zap emits episodic metrics as structured log events instead of
// accumulating them for offline analysis. Each finished episode
// produces one log entry with its return and length.
type Zap struct {
	logger        *zap.Logger
	currentReturn float64
	episodes      int
}

// NewZap returns a Tracker that logs episode metrics to logger
func NewZap(logger *zap.Logger) Tracker {
	return &Zap{logger: logger}
}

// Track accumulates the reward seen on a timestep and logs the
// episode's aggregates once it ends
func (z *Zap) Track(step ts.TimeStep) {
	if step.First() {
		z.currentReturn = 0.0
		return
	}

	z.currentReturn += step.Reward
	if step.Last() {
		z.episodes++
		z.logger.Info("episode finished",
			zap.Int("episode", z.episodes),
			zap.Int("length", step.Number),
			zap.Float64("return", z.currentReturn),
		)
		z.currentReturn = 0.0
	}
}

// Save is a no-op; the Zap tracker emits data as it arrives
func (z *Zap) Save() error { return nil }

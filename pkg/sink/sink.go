// Package sink delivers aggregated sensor readings to downstream consumers.
package sink

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/catapultcase/JunctionRelay-Collectors/pkg/protocol"
)

// Batch is one poll's worth of readings from a single collector.
type Batch struct {
	Collector string            `json:"collector"`
	At        time.Time         `json:"at"`
	Sensors   []protocol.Sensor `json:"sensors"`
}

// Sink consumes reading batches. Publish must not block for long; slow
// consumers are the sink's problem, not the poller's.
type Sink interface {
	Publish(batch Batch)
}

// LogSink writes every batch to the host log. Useful as a default and in
// development.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "log-sink").Logger()}
}

// Publish logs a summary line per batch.
func (s *LogSink) Publish(batch Batch) {
	s.logger.Info().
		Str("collector", batch.Collector).
		Int("sensors", len(batch.Sensors)).
		Time("at", batch.At).
		Msg("sensor readings")
}

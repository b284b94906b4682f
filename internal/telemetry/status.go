package telemetry

import (
	"time"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
)

// Status is a point-in-time view of the streaming worker.
type Status struct {
	Timestamp       time.Time `json:"timestamp"`
	Session         string    `json:"session,omitempty"`
	State           string    `json:"state"`
	Address         string    `json:"address"`
	HasInfo         bool      `json:"hasInfo"`
	Tuner           string    `json:"tuner,omitempty"`
	GainCount       uint32    `json:"gainCount,omitempty"`
	Delivering      bool      `json:"delivering"`
	Reconnects      int64     `json:"reconnects"`
	BytesReceived   int64     `json:"bytesReceived"`
	BlocksDelivered int64     `json:"blocksDelivered"`
	CommandsSent    int64     `json:"commandsSent"`
	LastError       string    `json:"lastError,omitempty"`
	// Tuning is the desired configuration the worker converges the server to.
	Tuning *config.Snapshot `json:"tuning,omitempty"`
}

// Reporter captures worker status updates.
type Reporter interface {
	ReportStatus(Status)
}

// MultiReporter fans out status to multiple destinations.
type MultiReporter []Reporter

// ReportStatus forwards s to each configured reporter.
func (m MultiReporter) ReportStatus(s Status) {
	for _, r := range m {
		if r != nil {
			r.ReportStatus(s)
		}
	}
}

// StdoutReporter writes status changes through a logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.OrDefault(logger)}
}

func (r StdoutReporter) ReportStatus(s Status) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "state", Value: s.State},
		{Key: "address", Value: s.Address},
	}
	if s.Session != "" {
		fields = append(fields, logging.Field{Key: "session", Value: s.Session})
	}
	if s.HasInfo {
		fields = append(fields,
			logging.Field{Key: "tuner", Value: s.Tuner},
			logging.Field{Key: "gain_count", Value: s.GainCount},
		)
	}
	if s.Reconnects != 0 {
		fields = append(fields, logging.Field{Key: "reconnects", Value: s.Reconnects})
	}
	if s.BlocksDelivered != 0 {
		fields = append(fields,
			logging.Field{Key: "blocks", Value: s.BlocksDelivered},
			logging.Field{Key: "bytes", Value: s.BytesReceived},
		)
	}
	if s.LastError != "" {
		fields = append(fields, logging.Field{Key: "error", Value: s.LastError})
	}
	r.logger.Info("worker status", fields...)
}

package logcollection

import (
	"io"
	"time"
)

// StreamType identifies which process stream a line came from
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
)

// LogCollectionService captures unit output line by line and forwards it to the log sinks
type LogCollectionService interface {
	// RegisterUnit prepares per-unit sinks; collecting from an unregistered unit registers it with defaults
	RegisterUnit(unitID string, config UnitLogConfig) error
	UnregisterUnit(unitID string) error

	// CollectFromStream starts reading stream in the background until EOF
	CollectFromStream(unitID string, stream io.Reader, streamType StreamType) error

	GetUnitStatus(unitID string) (*UnitLogStatus, error)

	// Stop waits for in-flight readers (bounded) and closes all sinks
	Stop() error
}

// UnitLogStatus reports per-unit collection counters
type UnitLogStatus struct {
	UnitID         string
	Active         bool
	LinesProcessed int64
	BytesProcessed int64
	LastActivity   time.Time
	ErrorCount     int64
	LastError      string
	FilePath       string
}

package telegram

import (
	"errors"
	"sync/atomic"
)

const (
	StartMarker    byte = '/'
	EndMarker      byte = '!'
	ChecksumDigits      = 4

	// DefaultMaxSize bounds a buffered telegram including the appended CR LF.
	DefaultMaxSize = 2048
	// MinSize fits the shortest frame "/!HHHH" plus CR LF.
	MinSize = 2 + ChecksumDigits + len(Terminator)
)

// Terminator is appended after the checksum digits in every buffered telegram.
const Terminator = "\r\n"

var ErrMaxSize = errors.New("telegram max size too small")

// State of the framer.
type State uint8

const (
	Idle State = iota
	Accumulating
	ReadingChecksum
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case ReadingChecksum:
		return "reading_checksum"
	default:
		return "unknown"
	}
}

// Sink receives validated telegrams and checksum failures.
type Sink interface {
	Publish(data []byte) error
	RecordChecksumFailure() error
}

// Stats is a point-in-time copy of the framer counters.
type Stats struct {
	Started          uint64 `json:"started"`
	Published        uint64 `json:"published"`
	Incomplete       uint64 `json:"incomplete"`
	Overflows        uint64 `json:"overflows"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	SinkErrors       uint64 `json:"sink_errors"`
}

type counters struct {
	started          atomic.Uint64
	published        atomic.Uint64
	incomplete       atomic.Uint64
	overflows        atomic.Uint64
	checksumFailures atomic.Uint64
	sinkErrors       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Started:          c.started.Load(),
		Published:        c.published.Load(),
		Incomplete:       c.incomplete.Load(),
		Overflows:        c.overflows.Load(),
		ChecksumFailures: c.checksumFailures.Load(),
		SinkErrors:       c.sinkErrors.Load(),
	}
}

// Package telegram reassembles DSMR P1 telegrams from a raw byte stream
// and validates their trailing CRC16.
package telegram

import (
	"fmt"

	"github.com/NotCoffee418/smart_meter_relay/pkg/checksum"
	"github.com/NotCoffee418/smart_meter_relay/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Framer is a byte-at-a-time state machine. State survives across Write
// calls, so chunk boundaries do not matter. A Framer is not safe for
// concurrent feeding; Stats may be read from any goroutine.
type Framer struct {
	sink    Sink
	maxSize int
	log     *logrus.Entry

	state   State
	buf     []byte
	crc     uint16
	digits  [ChecksumDigits]byte
	ndigits int
	counter uint32

	stats counters
}

type Option func(*Framer)

// WithMaxSize sets the telegram bound, CR LF included.
func WithMaxSize(n int) Option {
	return func(f *Framer) { f.maxSize = n }
}

func WithLogger(l *logrus.Entry) Option {
	return func(f *Framer) { f.log = l }
}

func NewFramer(sink Sink, opts ...Option) (*Framer, error) {
	f := &Framer{
		sink:    sink,
		maxSize: DefaultMaxSize,
		log:     logrus.WithField("component", "framer"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxSize < MinSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrMaxSize, f.maxSize, MinSize)
	}
	f.buf = make([]byte, 0, f.maxSize)
	return f, nil
}

// Write feeds p in order. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	for _, b := range p {
		f.Feed(b)
	}
	return len(p), nil
}

// Feed advances the state machine by one byte.
func (f *Framer) Feed(b byte) {
	if b == StartMarker {
		f.start()
		return
	}

	switch f.state {
	case Idle:
		// Out of frame, wait for the next start marker.
	case Accumulating:
		if !f.append(b) {
			return
		}
		f.crc = checksum.Update(f.crc, b)
		if b == EndMarker {
			f.ndigits = 0
			f.state = ReadingChecksum
		}
	case ReadingChecksum:
		if !f.append(b) {
			return
		}
		f.digits[f.ndigits] = b
		f.ndigits++
		if f.ndigits == ChecksumDigits {
			f.complete()
		}
	}
}

func (f *Framer) State() State {
	return f.state
}

func (f *Framer) Stats() Stats {
	return f.stats.snapshot()
}

func (f *Framer) start() {
	if f.state != Idle {
		f.stats.incomplete.Add(1)
		metrics.RecordFrame(metrics.FrameIncomplete)
		f.log.WithFields(logrus.Fields{
			"telegram": f.counter,
			"received": len(f.buf),
			"state":    f.state.String(),
		}).Warn("Incomplete telegram abandoned")
	}
	f.counter++
	f.stats.started.Add(1)
	f.buf = append(f.buf[:0], StartMarker)
	f.crc = checksum.Update(0, StartMarker)
	f.ndigits = 0
	f.state = Accumulating
}

// append reserves room for the terminator so complete never overflows.
func (f *Framer) append(b byte) bool {
	if len(f.buf)+1 > f.maxSize-len(Terminator) {
		f.stats.overflows.Add(1)
		metrics.RecordFrame(metrics.FrameOverflow)
		f.log.WithFields(logrus.Fields{
			"telegram": f.counter,
			"max_size": f.maxSize,
		}).Error("Telegram buffer receive overflow")
		f.reset()
		return false
	}
	f.buf = append(f.buf, b)
	return true
}

func (f *Framer) complete() {
	f.buf = append(f.buf, Terminator...)
	defer f.reset()

	want, err := checksum.ParseHex(f.digits[:])
	if err != nil || want != f.crc {
		f.stats.checksumFailures.Add(1)
		metrics.RecordFrame(metrics.FrameChecksumFailure)
		if sinkErr := f.sink.RecordChecksumFailure(); sinkErr != nil {
			f.sinkFailed(sinkErr)
		}
		f.log.WithFields(logrus.Fields{
			"telegram":   f.counter,
			"size":       len(f.buf),
			"calculated": checksum.FormatHex(f.crc),
			"received":   string(f.digits[:]),
		}).Warn("Telegram checksum mismatch")
		return
	}

	if err := f.sink.Publish(f.buf); err != nil {
		f.sinkFailed(err)
		return
	}
	f.stats.published.Add(1)
	metrics.RecordFrame(metrics.FramePublished)
	f.log.WithFields(logrus.Fields{
		"telegram": f.counter,
		"size":     len(f.buf),
	}).Debug("Telegram received")
}

func (f *Framer) sinkFailed(err error) {
	f.stats.sinkErrors.Add(1)
	f.log.WithError(err).WithField("telegram", f.counter).Error("Telegram sink rejected update")
}

func (f *Framer) reset() {
	f.buf = f.buf[:0]
	f.ndigits = 0
	f.state = Idle
}

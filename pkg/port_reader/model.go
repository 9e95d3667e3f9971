package port_reader

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// P1Reader pumps raw bytes from the P1 port into a telegram framer.
type P1Reader struct {
	port        string
	baudrate    uint
	readTimeout time.Duration
	bufferSize  int
	maxErrors   int
	retryDelay  time.Duration

	serialPort io.ReadCloser
	closeOnce  sync.Once
	sink       io.Writer
	sinkErrors atomic.Uint64
	log        *logrus.Entry
}

type Option func(*P1Reader)

// WithSource replaces the serial port with any byte producer. A read that
// yields nothing before the timeout may return (0, nil) or (0, io.EOF).
func WithSource(src io.ReadCloser) Option {
	return func(p *P1Reader) { p.serialPort = src }
}

func WithReadTimeout(d time.Duration) Option {
	return func(p *P1Reader) { p.readTimeout = d }
}

func WithBufferSize(n int) Option {
	return func(p *P1Reader) { p.bufferSize = n }
}

// WithErrorTolerance sets how many consecutive hard read errors stop the
// reader, and the pause between them.
func WithErrorTolerance(maxErrors int, retryDelay time.Duration) Option {
	return func(p *P1Reader) {
		p.maxErrors = maxErrors
		p.retryDelay = retryDelay
	}
}

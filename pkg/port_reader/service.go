package port_reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/metrics"
	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
)

var ErrTooManyReadErrors = errors.New("too many consecutive read errors")

// Initialize a new P1Reader. Every byte read is written to sink in order.
func NewP1Reader(port string, baudrate uint, sink io.Writer, opts ...Option) *P1Reader {
	p := &P1Reader{
		port:        port,
		baudrate:    baudrate,
		readTimeout: 100 * time.Millisecond,
		bufferSize:  2048,
		maxErrors:   10,
		retryDelay:  time.Second,
		sink:        sink,
		log:         logrus.WithField("component", "port_reader"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxErrors <= 0 {
		p.maxErrors = 1
	}
	if p.bufferSize <= 0 {
		p.bufferSize = 2048
	}
	return p
}

// Run reads until ctx is done or too many consecutive errors occur.
// Timeouts are routine and never counted.
func (p *P1Reader) Run(ctx context.Context) error {
	if err := p.connect(); err != nil {
		return err
	}
	defer p.disconnect()
	stop := context.AfterFunc(ctx, p.disconnect)
	defer stop()

	buf := make([]byte, p.bufferSize)
	consecutiveErrors := 0
	var lastError error

	for consecutiveErrors < p.maxErrors {
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		n, err := p.serialPort.Read(buf)
		if n > 0 {
			if _, werr := p.sink.Write(buf[:n]); werr != nil {
				p.sinkErrors.Add(1)
				metrics.RecordReadError()
				p.log.WithError(werr).WithField("bytes", n).Error("Telegram sink rejected serial data")
			}
		}

		switch {
		case err == nil:
			consecutiveErrors = 0
		case errors.Is(err, io.EOF):
			// Timed-out reads on a tty surface as EOF.
			consecutiveErrors = 0
			if n == 0 {
				p.wait(ctx, p.readTimeout-time.Since(started))
			}
		default:
			if ctx.Err() != nil {
				return nil
			}
			consecutiveErrors++
			lastError = err
			metrics.RecordReadError()
			p.log.WithError(err).WithFields(logrus.Fields{
				"attempt": consecutiveErrors,
				"max":     p.maxErrors,
			}).Warn("Error reading P1 port")
			p.wait(ctx, p.retryDelay)
		}
	}

	p.log.WithError(lastError).WithField("max", p.maxErrors).Error("Too many consecutive errors, stopping reader")
	return fmt.Errorf("%w: %w", ErrTooManyReadErrors, lastError)
}

// SinkErrors reports how many chunks the sink refused.
func (p *P1Reader) SinkErrors() uint64 {
	return p.sinkErrors.Load()
}

func (p *P1Reader) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Open the connection to the P1 port.
func (p *P1Reader) connect() error {
	if p.serialPort != nil {
		return nil
	}
	options := serial.OpenOptions{
		PortName:              p.port,
		BaudRate:              p.baudrate,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: interCharacterTimeout(p.readTimeout),
	}

	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	p.serialPort = port
	p.log.WithFields(logrus.Fields{
		"port":     p.port,
		"baudrate": p.baudrate,
	}).Info("Connected to P1 port")
	return nil
}

func (p *P1Reader) disconnect() {
	p.closeOnce.Do(func() {
		if p.serialPort != nil {
			p.serialPort.Close()
			p.log.Info("Disconnected from P1 port")
		}
	})
}

// interCharacterTimeout converts to the 100ms units termios VTIME supports.
func interCharacterTimeout(d time.Duration) uint {
	ms := (d.Milliseconds() + 99) / 100 * 100
	switch {
	case ms < 100:
		return 100
	case ms > 25500:
		return 25500
	}
	return uint(ms)
}

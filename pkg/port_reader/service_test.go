package port_reader

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/slot"
	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays chunks, then reports timeouts as EOF.
type scriptedSource struct {
	mu     sync.Mutex
	chunks [][]byte
	errs   []error
	closed bool
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("file already closed")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return 0, err
	}
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRun_FeedsFramerAcrossChunks(t *testing.T) {
	frame := telegram.Build([]byte("\r\n1-0:1.7.0(00.193*kW)\r\n"))
	src := &scriptedSource{chunks: [][]byte{
		[]byte("tail of previous!AB"),
		frame[:5],
		frame[5:11],
		frame[11:],
	}}

	s := slot.New(telegram.DefaultMaxSize)
	framer, err := telegram.NewFramer(s)
	require.NoError(t, err)

	reader := NewP1Reader("test", 115200, framer,
		WithSource(src),
		WithReadTimeout(5*time.Millisecond),
		WithBufferSize(4),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := s.Stats()
		return err == nil && st.Published == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.True(t, src.isClosed())

	got, _, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestRun_StopsAfterConsecutiveErrors(t *testing.T) {
	boom := errors.New("device unplugged")
	src := &scriptedSource{errs: []error{boom, boom, boom}}
	reader := NewP1Reader("test", 115200, io.Discard,
		WithSource(src),
		WithErrorTolerance(3, time.Millisecond),
	)

	err := reader.Run(context.Background())
	assert.ErrorIs(t, err, ErrTooManyReadErrors)
	assert.ErrorIs(t, err, boom)
	assert.True(t, src.isClosed())
}

func TestRun_SuccessResetsErrorCount(t *testing.T) {
	boom := errors.New("glitch")
	src := &scriptedSource{
		errs:   []error{boom},
		chunks: [][]byte{[]byte("x")},
	}
	reader := NewP1Reader("test", 115200, io.Discard,
		WithSource(src),
		WithReadTimeout(time.Millisecond),
		WithErrorTolerance(2, time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, reader.Run(ctx))
}

func TestInterCharacterTimeout(t *testing.T) {
	assert.Equal(t, uint(100), interCharacterTimeout(0))
	assert.Equal(t, uint(100), interCharacterTimeout(20*time.Millisecond))
	assert.Equal(t, uint(200), interCharacterTimeout(150*time.Millisecond))
	assert.Equal(t, uint(25500), interCharacterTimeout(time.Minute))
}

func TestRun_OpenFailure(t *testing.T) {
	reader := NewP1Reader("/dev/does-not-exist-p1", 115200, io.Discard)
	assert.Error(t, reader.Run(context.Background()))
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("sink full") }

func TestRun_SinkErrorsCounted(t *testing.T) {
	src := &scriptedSource{chunks: [][]byte{[]byte("/abc"), []byte("def")}}
	reader := NewP1Reader("test", 115200, failingSink{},
		WithSource(src),
		WithReadTimeout(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.SinkErrors() == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

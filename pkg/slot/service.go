// Package slot holds the latest validated telegram for hand-off between
// the serial producer and relay consumers.
package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const DefaultLockTimeout = 1000 * time.Millisecond

// Slot is a single latest-wins value with a wrapping 8-bit version tag.
// Every field is guarded by sem, held only for the bounded copy.
type Slot struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	log         *logrus.Entry

	telegram  []byte
	size      int
	tag       uint8
	published uint64
	crcErrors uint64
}

type Option func(*Slot)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Slot) { s.lockTimeout = d }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Slot) { s.log = l }
}

// New creates a slot able to hold telegrams of up to capacity bytes.
func New(capacity int, opts ...Option) *Slot {
	s := &Slot{
		sem:         semaphore.NewWeighted(1),
		lockTimeout: DefaultLockTimeout,
		log:         logrus.WithField("component", "slot"),
		telegram:    make([]byte, capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slot) lock(op string) error {
	if s.sem.TryAcquire(1) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		metrics.RecordLockTimeout(op)
		s.log.WithFields(logrus.Fields{
			"op":      op,
			"timeout": s.lockTimeout,
		}).Error("Slot lock not acquired within bound, critical section discipline violated")
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, op, s.lockTimeout)
	}
	return nil
}

func (s *Slot) unlock() {
	s.sem.Release(1)
}

// Publish copies data into the slot and advances the tag.
func (s *Slot) Publish(data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > len(s.telegram) {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), len(s.telegram))
	}
	if err := s.lock("publish"); err != nil {
		return err
	}
	s.size = copy(s.telegram, data)
	s.tag++
	s.published++
	s.unlock()
	return nil
}

// RecordChecksumFailure bumps the lifetime CRC error counter only.
func (s *Slot) RecordChecksumFailure() error {
	if err := s.lock("checksum_failure"); err != nil {
		return err
	}
	s.crcErrors++
	s.unlock()
	return nil
}

// FetchIfNewer copies the current telegram into dst when it is newer than
// cur. It returns 0 when nothing new is pending and a *BufferTooSmallError
// when len(dst) cannot hold it; in both cases cur is unchanged.
func (s *Slot) FetchIfNewer(cur *Cursor, dst []byte) (int, error) {
	if err := s.lock("fetch"); err != nil {
		return 0, err
	}
	defer s.unlock()

	if s.published == 0 || (cur.primed && cur.tag == s.tag) {
		return 0, nil
	}
	if len(dst) < s.size {
		return 0, &BufferTooSmallError{Need: s.size, Have: len(dst)}
	}
	n := copy(dst, s.telegram[:s.size])
	cur.tag = s.tag
	cur.primed = true
	return n, nil
}

// Snapshot returns a copy of the latest telegram, or nil if none yet.
func (s *Slot) Snapshot() ([]byte, uint8, error) {
	if err := s.lock("snapshot"); err != nil {
		return nil, 0, err
	}
	defer s.unlock()
	if s.published == 0 {
		return nil, s.tag, nil
	}
	out := make([]byte, s.size)
	copy(out, s.telegram[:s.size])
	return out, s.tag, nil
}

func (s *Slot) Stats() (Stats, error) {
	if err := s.lock("stats"); err != nil {
		return Stats{}, err
	}
	defer s.unlock()
	return Stats{
		Tag:           s.tag,
		Size:          s.size,
		Published:     s.published,
		CRCErrorCount: s.crcErrors,
		Capacity:      len(s.telegram),
		LockTimeoutMs: s.lockTimeout.Milliseconds(),
	}, nil
}

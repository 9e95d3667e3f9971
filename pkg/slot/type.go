package slot

import (
	"errors"
	"fmt"
)

var (
	ErrLockTimeout = errors.New("slot lock timeout")
	ErrEmpty       = errors.New("empty telegram")
	ErrTooLarge    = errors.New("telegram exceeds slot capacity")
)

// BufferTooSmallError is returned by FetchIfNewer when dst cannot hold the
// pending telegram. The cursor is left untouched.
type BufferTooSmallError struct {
	Need int
	Have int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("destination buffer too small: need %d bytes, have %d", e.Need, e.Have)
}

// Cursor is a consumer's view of the slot version. The zero value has
// seen nothing and receives the current telegram on its first fetch.
type Cursor struct {
	tag    uint8
	primed bool
}

// Tag reports the last tag delivered through this cursor.
func (c *Cursor) Tag() (uint8, bool) {
	return c.tag, c.primed
}

type Stats struct {
	Tag           uint8  `json:"tag"`
	Size          int    `json:"size"`
	Published     uint64 `json:"published"`
	CRCErrorCount uint64 `json:"crc_error_count"`
	Capacity      int    `json:"capacity"`
	LockTimeoutMs int64  `json:"lock_timeout_ms"`
}

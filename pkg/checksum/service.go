// Package checksum implements the CRC16/ARC used by DSMR P1 telegrams.
package checksum

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sigurn/crc16"
)

// Reflected form of the 0x8005 polynomial.
const poly = 0xA001

var ErrInvalidHex = errors.New("invalid checksum digits")

var arcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Update folds a single byte into a running CRC16/ARC.
// Start every telegram attempt from 0.
func Update(crc uint16, b byte) uint16 {
	crc ^= uint16(b)
	for i := 0; i < 8; i++ {
		if crc&0x0001 != 0 {
			crc = crc>>1 ^ poly
		} else {
			crc >>= 1
		}
	}
	return crc
}

// Checksum computes the CRC16/ARC of a complete buffer.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, arcTable)
}

// FormatHex renders a checksum the way meters transmit it.
func FormatHex(crc uint16) string {
	return fmt.Sprintf("%04X", crc)
}

// ParseHex parses exactly four hex digits, either case.
func ParseHex(digits []byte) (uint16, error) {
	if len(digits) != 4 {
		return 0, fmt.Errorf("%w: want 4 digits, got %d", ErrInvalidHex, len(digits))
	}
	v, err := strconv.ParseUint(string(digits), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, digits)
	}
	return uint16(v), nil
}

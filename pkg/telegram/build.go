package telegram

import "github.com/NotCoffee418/smart_meter_relay/pkg/checksum"

// Build wraps payload into a wire frame with a valid checksum and CR LF.
// The payload must not contain start or end markers.
func Build(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+MinSize)
	frame = append(frame, StartMarker)
	frame = append(frame, payload...)
	frame = append(frame, EndMarker)
	frame = append(frame, checksum.FormatHex(checksum.Checksum(frame))...)
	return append(frame, Terminator...)
}

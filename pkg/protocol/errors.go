package protocol

import (
	"errors"
	"fmt"
)

// Codec errors. Every decode failure wraps one of these so callers can
// classify drops with errors.Is.
var (
	// ErrMalformedPacket is returned for a bad header, length mismatch or
	// unknown type. The packet is dropped without a reply.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrMalformedPayload is returned when a typed payload does not parse.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrPayloadTooLarge is returned when a payload exceeds the 16-bit length field.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrUnsupportedFormat is returned for an unknown pixel format.
	ErrUnsupportedFormat = errors.New("protocol: unsupported pixel format")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

func badPayload(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedPayload, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, what, err)
}

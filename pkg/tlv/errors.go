package tlv

import "errors"

var (
	// ErrUnexpectedEOF is returned when the input ends unexpectedly.
	ErrUnexpectedEOF = errors.New("tlv: unexpected end of input")

	// ErrInvalidElementType is returned when an invalid element type is encountered.
	ErrInvalidElementType = errors.New("tlv: invalid element type")

	// ErrTypeMismatch is returned when trying to read a value as the wrong type.
	ErrTypeMismatch = errors.New("tlv: type mismatch")

	// ErrNotInContainer is returned when trying to exit a container when not in one.
	ErrNotInContainer = errors.New("tlv: not in container")

	// ErrContainerNotClosed is returned when a container is not properly closed.
	ErrContainerNotClosed = errors.New("tlv: container not closed")

	// ErrInvalidUTF8 is returned when a UTF-8 string contains invalid sequences.
	ErrInvalidUTF8 = errors.New("tlv: invalid UTF-8 string")

	// ErrNoElement is returned when trying to access an element before calling Next().
	ErrNoElement = errors.New("tlv: no current element")

	// ErrOverflow is returned when a value overflows the target type.
	ErrOverflow = errors.New("tlv: value overflow")

	// ErrUnsupportedTag is returned when writing a tag form the writer does not emit.
	ErrUnsupportedTag = errors.New("tlv: unsupported tag form")
)

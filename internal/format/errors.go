package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrUnsupported indicates a layout version this build cannot read.
	ErrUnsupported = errors.New("format: unsupported layout version")
	// ErrBadWidth indicates an integer width other than 1, 2, 4 or 8.
	ErrBadWidth = errors.New("format: unsupported integer width")
)

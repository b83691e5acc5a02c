package tiff

import "errors"

// Error kinds surfaced by the reader and writer. Callers should use
// errors.Is against these sentinels rather than string-matching.
var (
	ErrNotATiff            = errors.New("tiff: not a tiff file")
	ErrTruncatedData       = errors.New("tiff: truncated data")
	ErrIoFault             = errors.New("tiff: io fault")
	ErrCorrupt             = errors.New("tiff: corrupt ifd chain")
	ErrCodecUnsupported    = errors.New("tiff: unsupported compression")
	ErrCodecCorrupt        = errors.New("tiff: codec rejected input")
	ErrParameterMismatch   = errors.New("tiff: codec parameter mismatch")
	ErrInvalidIfd          = errors.New("tiff: invalid ifd")
	ErrParameterOutOfRange = errors.New("tiff: parameter out of range")
	ErrTooLargeArea        = errors.New("tiff: area exceeds integer limit")
	ErrFileNotFound        = errors.New("tiff: file not found")
)

// ErrMissingTag is returned by IFD.Require when a mandatory tag is absent.
type ErrMissingTag struct {
	Tag Tag
}

func (e ErrMissingTag) Error() string {
	return "tiff: missing required tag " + e.Tag.String()
}

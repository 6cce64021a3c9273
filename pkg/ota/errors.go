package ota

import "errors"

// Image file errors.
var (
	ErrInvalidFileIdentifier = errors.New("ota: invalid file identifier")
	ErrTruncated             = errors.New("ota: image truncated")
	ErrInvalidHeader         = errors.New("ota: invalid image header")
	ErrUnsupportedDigest     = errors.New("ota: unsupported digest type")
	ErrDigestMismatch        = errors.New("ota: payload digest mismatch")
	ErrSizeMismatch          = errors.New("ota: image size mismatch")
)

// Catalog and delegate errors.
var (
	ErrInvalidDesignator = errors.New("ota: invalid file designator")
	ErrNoSession         = errors.New("ota: no transfer session")
	ErrClosed            = errors.New("ota: closed")
)

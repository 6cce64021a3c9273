package otaprovider

import "errors"

// Package errors.
var (
	// ErrNoImage is returned by an ImageSource with no applicable image.
	ErrNoImage = errors.New("otaprovider: no applicable image")

	// ErrUnknownToken is returned for an UpdateToken this provider did not issue.
	ErrUnknownToken = errors.New("otaprovider: unknown update token")

	// ErrUnknownFile is returned by a Delegate for a file designator it
	// cannot serve.
	ErrUnknownFile = errors.New("otaprovider: unknown file designator")

	// ErrInvalidURI is returned for an image URI that is not a bdx:// URI
	// naming a node and a file.
	ErrInvalidURI = errors.New("otaprovider: invalid image URI")

	// ErrNoDelegate is returned when no delegate is configured.
	ErrNoDelegate = errors.New("otaprovider: no delegate configured")
)

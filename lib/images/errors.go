package images

import "errors"

var (
	ErrNotFound           = errors.New("image not found")
	ErrInvalidReference   = errors.New("invalid image reference")
	ErrNotAvailable       = errors.New("image not available in registry")
	ErrVerificationFailed = errors.New("image verification failed")
)

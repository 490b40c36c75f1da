package iface

import (
	"errors"
	"fmt"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrEmptyImage       = errors.New("image has zero width or height")
	ErrMalformedOutput  = errors.New("malformed model output")
	ErrBatchTooLarge    = errors.New("too many images in batch")
	ErrPoolClosed       = errors.New("worker pool is closed")
)

// DecodeError reports input bytes that do not form a valid image.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid image: %v", e.Cause)
	}
	return "invalid image"
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

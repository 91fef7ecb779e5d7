package jpeg2k

import (
	"errors"

	"github.com/jpfielding/j2k.go/pkg/stream"
)

// Common errors
var (
	ErrFormat      = errors.New("invalid codestream")
	ErrState       = errors.New("invalid codec state")
	ErrTruncated   = errors.New("stream too short")
	ErrUnsupported = errors.New("unsupported codec feature")
	ErrParameter   = errors.New("invalid codec parameter")
	ErrNotSeekable = stream.ErrNotSeekable
)

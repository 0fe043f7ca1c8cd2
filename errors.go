package gocast

import (
	"errors"

	"github.com/relaycast/gocast/apperr"
)

// The typed error taxonomy is defined in apperr so that controller/ and
// connection/ can return it without importing this package. Re-exported
// here so callers of the façade only need to import the root package.
var (
	ErrConnectionFailed        = apperr.ErrConnectionFailed
	ErrNotConnected            = apperr.ErrNotConnected
	ErrStopped                 = apperr.ErrStopped
	ErrUnsupportedNamespace    = apperr.ErrUnsupportedNamespace
	ErrControllerNotRegistered = apperr.ErrControllerNotRegistered
	ErrRequestFailed           = apperr.ErrRequestFailed
	ErrRequestTimeout          = apperr.ErrRequestTimeout
)

// errVolumeDeltaMustBePositive is returned by VolumeUp/VolumeDown when
// called with a non-positive delta; the sign is implied by which method
// was called, not by the argument.
var errVolumeDeltaMustBePositive = errors.New("gocast: volume delta must be positive")

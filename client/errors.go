package client

import (
	"errors"
	"fmt"

	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/protocol"
)

// ErrNotConnected is returned by every operation but Connect until the
// handshake has completed, and again after Disconnect.
var ErrNotConnected = fmt.Errorf("%w: not connected", protocol.ErrInvalidArgument)

// LinkError is a device link failure translated to one of the protocol error
// kinds. The original link error remains available through errors.Is/As.
type LinkError struct {
	Kind error
	Err  error
}

func (e *LinkError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Err) }

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == e.Kind }

// linkError translates device link errors. Failures that don't come from the
// link, or that have a kind not listed here, become ErrUnknown.
func linkError(err error) error {
	if err == nil {
		return nil
	}

	return &LinkError{Kind: linkErrorKind(err), Err: err}
}

func linkErrorKind(err error) error {
	var le *devicelink.Error
	if !errors.As(err, &le) {
		return protocol.ErrUnknown
	}

	switch le.Kind {
	case devicelink.ErrInvalidArg:
		return protocol.ErrInvalidArgument
	case devicelink.ErrPlist:
		return protocol.ErrProtocol
	case devicelink.ErrMux, devicelink.ErrBadVersion:
		return protocol.ErrTransport
	default:
		return protocol.ErrUnknown
	}
}

package peer

import (
	"github.com/luma/mbackup/storage"
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. With port 0 every listener picks its own port.
	Port int

	NumListeners int

	// ProtocolVersion is the highest backup protocol version the peer
	// accepts during the Hello exchange.
	ProtocolVersion float64

	// LinkMajor and LinkMinor are announced in the device link version
	// exchange. Default to the device link version of this package.
	LinkMajor uint64
	LinkMinor uint64

	Journal storage.Journal

	Log *zap.Logger
}

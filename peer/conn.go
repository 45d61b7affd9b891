package peer

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/protocol"
)

const (
	versionExchangeTimeout = 10 * time.Second
	journalTimeout         = 3 * time.Second

	// errorCodeRejected is sent in a Response to refuse a message.
	errorCodeRejected uint64 = 1
)

// TCPConn is the device side of one device link.
type TCPConn struct {
	id     string
	nc     net.Conn
	server *TCP

	log *zap.Logger
}

func (t *TCPConn) Close() error {
	return t.nc.Close()
}

// Serve runs the device link until the client disconnects or the connection
// fails.
func (t *TCPConn) Serve(ctx context.Context) {
	log := t.log

	acceptCtx, cancel := context.WithTimeout(ctx, versionExchangeTimeout)
	link, err := devicelink.Accept(acceptCtx, t.nc, t.server.linkMajor, t.server.linkMinor, log)
	cancel()
	if err != nil {
		log.Warn("Device link version exchange failed", zap.Error(err))
		return
	}

	log.Info("Client connected")

	defer func() {
		if err := t.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("Failed to close connection cleanly", zap.Error(err))
		}

		log.Info("Client disconnected")
	}()

	for {
		msg, name, err := link.ReceiveMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}

			log.Warn("Failed to read client message", zap.Error(err))
			return
		}

		t.record(ctx, msg)

		switch name {
		case devicelink.MessageDisconnect:
			return

		case devicelink.MessageProcessMessage:
			arr := msg.([]interface{})
			dict, ok := arr[len(arr)-1].(map[string]interface{})
			if len(arr) != 2 || !ok {
				log.Warn("Malformed process message")
				continue
			}

			if err := t.dispatch(link, dict); err != nil {
				log.Warn("Failed to reply", zap.Error(err))
				return
			}

		case protocol.StatusResponseTag:
			status, err := protocol.ParseStatusResponse(msg)
			if err != nil {
				log.Warn("Malformed status response", zap.Error(err))
				continue
			}

			log.Info("Status response", zap.Uint64("code", status.Code))

		default:
			log.Warn("Ignoring unknown device link message", zap.String("message", name))
		}
	}
}

func (t *TCPConn) record(ctx context.Context, msg interface{}) {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	if err := t.server.journal.Append(ctx, t.id, msg); err != nil {
		t.log.Warn("Failed to journal message", zap.Error(err))
	}
}

func (t *TCPConn) dispatch(link devicelink.Link, msg map[string]interface{}) error {
	name, _ := protocol.MessageName(msg)

	switch protocol.Verb(name) {
	case protocol.MessageHello:
		return link.SendProcessMessage(t.hello(msg))

	case protocol.Backup, protocol.Restore, protocol.Info, protocol.List:
		t.log.Info("Request", zap.String("verb", name), zap.Any("target", msg[protocol.KeyTargetIdentifier]))
		return link.SendProcessMessage(response(0, ""))

	default:
		t.log.Warn("Rejecting unknown message", zap.String("message", name))
		return link.SendProcessMessage(response(errorCodeRejected, "Unknown message "+name))
	}
}

// hello picks the highest proposed version the peer supports.
func (t *TCPConn) hello(msg map[string]interface{}) map[string]interface{} {
	proposed, _ := msg[protocol.KeySupportedProtocolVersions].([]interface{})

	var chosen float64
	for _, v := range proposed {
		if version, ok := protocol.AsReal(v); ok && version <= t.server.version && version > chosen {
			chosen = version
		}
	}

	if chosen == 0 {
		t.log.Warn("No supported protocol version proposed", zap.Any("proposed", proposed))
		return response(errorCodeRejected, "No supported protocol version")
	}

	t.log.Info("Negotiated protocol version", zap.Float64("version", chosen))

	return protocol.NewHelloResponse(chosen)
}

func response(code uint64, description string) map[string]interface{} {
	return map[string]interface{}{
		protocol.KeyMessageName: protocol.MessageResponse,
		protocol.KeyErrorCode:   code,
		"ErrorDescription":      description,
	}
}

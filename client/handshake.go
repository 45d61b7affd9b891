package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/protocol"
)

// expired is a deadline in the past, used to interrupt link calls.
var expired = time.Unix(1, 0)

// negotiate agrees on a protocol version with the device. It must be the first
// exchange on a new link.
func (c *Conn) negotiate(ctx context.Context, link devicelink.Link) (float64, error) {
	release, err := bound(ctx, link)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := c.sendMessage(link, protocol.MessageHello, protocol.NewHello(c.versions)); err != nil {
		return 0, err
	}

	reply, err := link.ReceiveProcessMessage()
	if err != nil {
		return 0, linkError(err)
	}

	version, err := protocol.ParseHelloResponse(reply)
	if err != nil {
		return 0, err
	}

	if c.minVersion > 0 && version < c.minVersion {
		return 0, fmt.Errorf("%w: device negotiated protocol version %v, below the minimum %v",
			protocol.ErrProtocol, version, c.minVersion)
	}

	c.log.Info("Negotiated protocol version", zap.Float64("version", version))

	return version, nil
}

// bound applies the deadline and cancellation of ctx to calls on link until
// release is called.
func bound(ctx context.Context, link devicelink.Link) (release func(), err error) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline && ctx.Done() == nil {
		return func() {}, nil
	}

	if hasDeadline {
		if err := link.SetDeadline(deadline); err != nil {
			return nil, linkError(err)
		}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		select {
		case <-ctx.Done():
			_ = link.SetDeadline(expired)
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-stopped
		_ = link.SetDeadline(time.Time{})
	}, nil
}

package client

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/luma/mbackup/protocol"
)

// transferFunc moves up to len(p) bytes in one call and reports how many it
// moved.
type transferFunc func(p []byte) (int, error)

// transfer calls fn until all of p has been moved, fn fails, or a call makes
// no progress.
func transfer(p []byte, fn transferFunc) (int, error) {
	done := 0

	for done < len(p) {
		n, err := fn(p[done:])
		if n > 0 {
			done += n
		}

		if err != nil {
			return done, err
		}

		if n <= 0 {
			break
		}
	}

	return done, nil
}

// SendRaw writes p to the device outside of any message, returning how many
// bytes were written. Short writes are not errors, callers must compare the
// count with len(p). It is an error if nothing at all could be written.
func (c *Conn) SendRaw(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return 0, ErrNotConnected
	}

	if len(p) == 0 {
		return 0, nil
	}

	n, err := transfer(p, link.SendBytes)
	if err != nil {
		return n, linkError(err)
	}

	if n == 0 {
		return 0, fmt.Errorf("%w: device link accepted no data", protocol.ErrTransport)
	}

	if n < len(p) {
		c.log.Debug("Short raw send", zap.Int("sent", n), zap.Int("length", len(p)))
	}

	return n, nil
}

// ReceiveRaw reads up to len(p) bytes sent by the device outside of any
// message. It returns 0 and no error when nothing is available, including
// when the device has closed the stream.
//
// ReceiveRaw blocks until len(p) bytes arrive or the link stops making
// progress, there is no timeout. Disconnect from another goroutine to give up.
func (c *Conn) ReceiveRaw(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return 0, ErrNotConnected
	}

	if len(p) == 0 {
		return 0, nil
	}

	n, err := transfer(p, link.ReceiveBytes)
	if err != nil {
		if errors.Is(err, io.EOF) {
			c.log.Debug("Raw receive reached end of stream", zap.Int("received", n))
			return n, nil
		}

		return n, linkError(err)
	}

	return n, nil
}

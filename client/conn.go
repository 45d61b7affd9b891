package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/protocol"
)

type Options struct {
	// Dialer opens the device link. Defaults to a TCPDialer.
	Dialer devicelink.Dialer

	// SupportedProtocolVersions are proposed in the Hello message, in order.
	// Defaults to protocol.DefaultProtocolVersions.
	SupportedProtocolVersions []float64

	// MinProtocolVersion rejects devices that negotiate an older version.
	// Zero accepts any version.
	MinProtocolVersion float64

	Log *zap.Logger
}

// Conn is a connection to the backup service of a device.
//
// Operations are serialised: messages and raw data share one stream, so each
// call holds the connection until it completes. Disconnect is the exception,
// it closes the link under any call in progress, which then fails.
type Conn struct {
	// mu serialises operations on the link.
	mu sync.Mutex

	// stateMu guards link and version. It is never held during a link call.
	stateMu sync.Mutex
	link    devicelink.Link
	version float64

	dialer     devicelink.Dialer
	versions   []float64
	minVersion float64

	log *zap.Logger
}

func New(opts Options) *Conn {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &devicelink.TCPDialer{Log: log.Named("devicelink")}
	}

	versions := opts.SupportedProtocolVersions
	if len(versions) == 0 {
		versions = protocol.DefaultProtocolVersions
	}

	return &Conn{
		dialer:     dialer,
		versions:   versions,
		minVersion: opts.MinProtocolVersion,
		log:        log,
	}
}

// Connect opens a device link to the backup service on port and performs the
// protocol handshake. ctx bounds both. On failure the link is closed and the
// Conn stays disconnected.
func (c *Conn) Connect(ctx context.Context, device string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current() != nil {
		return fmt.Errorf("%w: already connected", protocol.ErrInvalidArgument)
	}

	link, err := c.dialer.Open(ctx, device, port)
	if err != nil {
		return linkError(err)
	}

	version, err := c.negotiate(ctx, link)
	if err != nil {
		c.log.Warn("Handshake failed", zap.String("device", device), zap.Error(err))
		return multierr.Append(err, linkError(link.Close()))
	}

	c.stateMu.Lock()
	c.link = link
	c.version = version
	c.stateMu.Unlock()

	return nil
}

// Disconnect closes the device link. Calling it again, or before Connect,
// does nothing.
//
// Disconnect doesn't wait for calls in progress. They fail with
// protocol.ErrTransport once the link is closed.
func (c *Conn) Disconnect() error {
	c.stateMu.Lock()
	link := c.link
	c.link = nil
	c.version = 0
	c.stateMu.Unlock()

	if link == nil {
		return nil
	}

	return linkError(link.Close())
}

// ProtocolVersion returns the version negotiated during Connect.
func (c *Conn) ProtocolVersion() float64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.version
}

func (c *Conn) current() devicelink.Link {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.link
}

// SendMessage sends a message named name carrying the options dictionary. See
// protocol.BuildEnvelope.
func (c *Conn) SendMessage(name string, options interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return ErrNotConnected
	}

	return c.sendMessage(link, name, options)
}

// ExpectMessage receives a message and checks that it is named name.
//
// On protocol.ErrReplyMismatch the received message is returned as well so it
// can be inspected.
func (c *Conn) ExpectMessage(name string) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return nil, ErrNotConnected
	}

	return c.expectMessage(link, name)
}

// SendRequest sends a request for verb concerning the target device. source
// and options are optional.
func (c *Conn) SendRequest(verb protocol.Verb, target, source string, options map[string]interface{}) error {
	body, err := protocol.NewRequest(verb, target, source, options)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return ErrNotConnected
	}

	c.log.Debug("Sending request",
		zap.String("verb", string(verb)),
		zap.String("target", target))

	return c.sendMessage(link, string(verb), body)
}

// SendStatusResponse acknowledges a device link operation with code.
func (c *Conn) SendStatusResponse(code int, opts ...protocol.StatusOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return ErrNotConnected
	}

	return linkError(link.Send(protocol.NewStatusResponse(code, opts...)))
}

// ReceiveMessage receives the next device link message, whatever it is, and
// returns it with its device link message name (e.g.
// "DLMessageProcessMessage").
func (c *Conn) ReceiveMessage() (interface{}, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.current()
	if link == nil {
		return nil, "", ErrNotConnected
	}

	msg, name, err := link.ReceiveMessage()
	if err != nil {
		return nil, "", linkError(err)
	}

	return msg, name, nil
}

func (c *Conn) sendMessage(link devicelink.Link, name string, options interface{}) error {
	envelope, err := protocol.BuildEnvelope(name, options)
	if err != nil {
		return err
	}

	if err := link.SendProcessMessage(envelope); err != nil {
		c.log.Warn("Could not send message", zap.String("message", name), zap.Error(err))
		return linkError(err)
	}

	return nil
}

func (c *Conn) expectMessage(link devicelink.Link, name string) (map[string]interface{}, error) {
	msg, err := link.ReceiveProcessMessage()
	if err != nil {
		return nil, linkError(err)
	}

	if err := protocol.CheckEnvelope(msg, name); err != nil {
		c.log.Debug("Unexpected message", zap.String("expected", name), zap.Error(err))
		if _, ok := msg[protocol.KeyMessageName]; !ok {
			return nil, err
		}
		return msg, err
	}

	return msg, nil
}

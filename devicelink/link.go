package devicelink

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// VersionMajor and VersionMinor are the device link version spoken here.
	VersionMajor uint64 = 100
	VersionMinor uint64 = 0

	MessageVersionExchange = "DLMessageVersionExchange"
	MessageVersionsOk      = "DLVersionsOk"
	MessageDeviceReady     = "DLMessageDeviceReady"
	MessageProcessMessage  = "DLMessageProcessMessage"
	MessageDisconnect      = "DLMessageDisconnect"

	emptyParameter = "___EmptyParameterString___"

	disconnectTimeout = time.Second
)

// Link is one open device link.
//
// A Link is not safe for concurrent use: structured messages and raw bytes
// share the same stream.
type Link interface {
	// SendProcessMessage sends msg wrapped in a DLMessageProcessMessage.
	SendProcessMessage(msg map[string]interface{}) error
	// ReceiveProcessMessage receives a DLMessageProcessMessage and returns
	// the dictionary it carries.
	ReceiveProcessMessage() (map[string]interface{}, error)
	// Send sends v as is.
	Send(v interface{}) error
	// ReceiveMessage receives any device link message, returning it along
	// with its device link message name.
	ReceiveMessage() (interface{}, string, error)
	// SendBytes writes some of p, returning how much was written.
	SendBytes(p []byte) (int, error)
	// ReceiveBytes reads up to len(p) bytes.
	ReceiveBytes(p []byte) (int, error)
	// SetDeadline makes calls in progress and later calls fail once t has
	// passed. The zero time removes the deadline.
	SetDeadline(t time.Time) error
	// Close disconnects the link. Calls in progress fail. Close may be
	// called while another goroutine is using the link.
	Close() error
}

// Dialer opens device links.
type Dialer interface {
	Open(ctx context.Context, device string, port uint16) (Link, error)
}

// TCPDialer opens device links over TCP, device being a host name or address.
type TCPDialer struct {
	// Timeout bounds connecting and the version exchange. Zero means no
	// timeout other than the context's.
	Timeout time.Duration

	Log *zap.Logger
}

func (d *TCPDialer) Open(ctx context.Context, device string, port uint16) (Link, error) {
	if device == "" || port == 0 {
		return nil, newError(ErrInvalidArg, "open", fmt.Errorf("device %q port %d", device, port))
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	addr := net.JoinHostPort(device, strconv.Itoa(int(port)))

	var nd net.Dialer
	nc, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(ErrMux, "open", err)
	}

	conn, err := Dial(ctx, nc, log.With(zap.String("addr", addr)))
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Conn is a Link over a net.Conn.
type Conn struct {
	conn net.Conn

	// writing holds a token while a write is in progress so that Close
	// never interleaves its disconnect message with another write.
	writing chan struct{}

	mu     sync.Mutex
	closed bool

	log *zap.Logger
}

// Dial performs the client side of the version exchange on nc. nc is closed if
// the exchange fails.
func Dial(ctx context.Context, nc net.Conn, log *zap.Logger) (*Conn, error) {
	c := newConn(nc, log)

	if err := c.withDeadline(ctx, c.clientExchange); err != nil {
		return nil, multierr.Append(err, nc.Close())
	}

	return c, nil
}

// Accept performs the device side of the version exchange on nc, announcing
// major.minor. nc is closed if the exchange fails.
func Accept(ctx context.Context, nc net.Conn, major, minor uint64, log *zap.Logger) (*Conn, error) {
	c := newConn(nc, log)

	err := c.withDeadline(ctx, func() error {
		return c.deviceExchange(major, minor)
	})
	if err != nil {
		return nil, multierr.Append(err, nc.Close())
	}

	return c, nil
}

func newConn(nc net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{conn: nc, writing: make(chan struct{}, 1), log: log}
}

func (c *Conn) withDeadline(ctx context.Context, fn func() error) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return newError(ErrMux, "version exchange", err)
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	return fn()
}

func (c *Conn) clientExchange() error {
	msg, name, err := c.ReceiveMessage()
	if err != nil {
		return err
	}

	if name != MessageVersionExchange {
		return newError(ErrPlist, "version exchange", fmt.Errorf("unexpected %s", name))
	}

	arr := msg.([]interface{})
	if len(arr) < 3 {
		return newError(ErrPlist, "version exchange", fmt.Errorf("malformed %s", name))
	}

	major, ok1 := arr[1].(uint64)
	minor, ok2 := arr[2].(uint64)
	if !ok1 || !ok2 {
		return newError(ErrPlist, "version exchange", fmt.Errorf("malformed %s", name))
	}

	c.log.Debug("Device link version", zap.Uint64("major", major), zap.Uint64("minor", minor))

	if major > VersionMajor || (major == VersionMajor && minor > VersionMinor) {
		return newError(ErrBadVersion, "version exchange",
			fmt.Errorf("device version %d.%d is newer than %d.%d", major, minor, VersionMajor, VersionMinor))
	}

	if err := c.Send([]interface{}{MessageVersionExchange, MessageVersionsOk, VersionMajor}); err != nil {
		return err
	}

	_, name, err = c.ReceiveMessage()
	if err != nil {
		return err
	}

	if name != MessageDeviceReady {
		return newError(ErrPlist, "version exchange", fmt.Errorf("expected %s, got %s", MessageDeviceReady, name))
	}

	return nil
}

func (c *Conn) deviceExchange(major, minor uint64) error {
	if err := c.Send([]interface{}{MessageVersionExchange, major, minor}); err != nil {
		return err
	}

	msg, name, err := c.ReceiveMessage()
	if err != nil {
		return err
	}

	arr := msg.([]interface{})
	if name != MessageVersionExchange || len(arr) < 2 || arr[1] != MessageVersionsOk {
		return newError(ErrBadVersion, "version exchange", fmt.Errorf("client did not accept %d.%d", major, minor))
	}

	return c.Send([]interface{}{MessageDeviceReady})
}

func (c *Conn) SendProcessMessage(msg map[string]interface{}) error {
	if msg == nil {
		return newError(ErrInvalidArg, "send", fmt.Errorf("nil message"))
	}

	return c.Send([]interface{}{MessageProcessMessage, msg})
}

func (c *Conn) ReceiveProcessMessage() (map[string]interface{}, error) {
	msg, name, err := c.ReceiveMessage()
	if err != nil {
		return nil, err
	}

	if name != MessageProcessMessage {
		return nil, newError(ErrPlist, "receive", fmt.Errorf("expected %s, got %s", MessageProcessMessage, name))
	}

	arr := msg.([]interface{})
	if len(arr) != 2 {
		return nil, newError(ErrPlist, "receive", fmt.Errorf("malformed %s", name))
	}

	dict, ok := arr[1].(map[string]interface{})
	if !ok {
		return nil, newError(ErrPlist, "receive", fmt.Errorf("%s does not carry a dictionary", name))
	}

	return dict, nil
}

func (c *Conn) Send(v interface{}) error {
	if v == nil {
		return newError(ErrInvalidArg, "send", fmt.Errorf("nil message"))
	}

	c.writing <- struct{}{}
	defer func() { <-c.writing }()

	return WriteMessage(c.conn, v)
}

func (c *Conn) ReceiveMessage() (interface{}, string, error) {
	msg, err := ReadMessage(c.conn)
	if err != nil {
		return nil, "", err
	}

	arr, ok := msg.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, "", newError(ErrPlist, "receive", fmt.Errorf("message is not a device link array"))
	}

	name, ok := arr[0].(string)
	if !ok {
		return nil, "", newError(ErrPlist, "receive", fmt.Errorf("message has no device link name"))
	}

	return msg, name, nil
}

func (c *Conn) SendBytes(p []byte) (int, error) {
	c.writing <- struct{}{}
	defer func() { <-c.writing }()

	n, err := c.conn.Write(p)
	if err != nil {
		return n, newError(ErrMux, "send bytes", err)
	}

	return n, nil
}

func (c *Conn) ReceiveBytes(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if err != nil {
		return n, newError(ErrMux, "receive bytes", err)
	}

	return n, nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.conn.SetDeadline(t); err != nil {
		return newError(ErrMux, "set deadline", err)
	}

	return nil
}

// Close tells the other end we are disconnecting and closes the connection.
// Closing an already closed Conn does nothing.
//
// When another goroutine is partway through a write the disconnect message is
// skipped and the connection is just closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	select {
	case c.writing <- struct{}{}:
		// The other end may already be gone, so don't wait on it for long.
		_ = c.conn.SetWriteDeadline(time.Now().Add(disconnectTimeout))
		if err := WriteMessage(c.conn, []interface{}{MessageDisconnect, emptyParameter}); err != nil {
			c.log.Debug("Failed to send disconnect", zap.Error(err))
		}
		<-c.writing

	default:
		c.log.Debug("Write in progress, closing without disconnect message")
	}

	if err := c.conn.Close(); err != nil {
		return newError(ErrMux, "close", err)
	}

	return nil
}

var _ Link = (*Conn)(nil)
var _ Dialer = (*TCPDialer)(nil)

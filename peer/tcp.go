package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/storage"
)

// TCP emulates the backup service of a device, accepting device links on one
// or more SO_REUSEPORT listeners.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	// connCount names connections in the journal
	connCount uint64

	version   float64
	linkMajor uint64
	linkMinor uint64

	journal storage.Journal

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	journal := options.Journal
	if journal == nil {
		journal = storage.NewInmemoryJournal()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	version := options.ProtocolVersion
	if version == 0 {
		version = 2.1
	}

	linkMajor, linkMinor := options.LinkMajor, options.LinkMinor
	if linkMajor == 0 {
		linkMajor, linkMinor = devicelink.VersionMajor, devicelink.VersionMinor
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		version:      version,
		linkMajor:    linkMajor,
		linkMinor:    linkMinor,
		journal:      journal,
		log:          log,
	}
}

// Start opens the listeners and serves them in the background. If any
// listener fails to open, those already open are closed again.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		listener, err := reuseport.Listen("tcp", t.addr)
		if err != nil {
			return multierr.Append(fmt.Errorf("failed to listen on %s: %w", t.addr, err), t.Close())
		}

		t.startListener(ctx, listener)
	}

	return nil
}

// Addr returns the address of the first listener.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].listener.Addr()
}

func (t *TCP) Journal() storage.Journal {
	return t.journal
}

func (t *TCP) startListener(ctx context.Context, listener net.Listener) {
	tl := &TCPListener{
		ctx:         ctx,
		listener:    listener,
		activeConns: make(map[*TCPConn]struct{}),
		server:      t,
		log:         t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	}

	t.listeners = append(t.listeners, tl)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := tl.Listen(); err != nil {
			t.log.Error("Failed to accept", zap.Error(err))
		}
	}()
}

// Close immediately closes all listeners and active device links.
func (t *TCP) Close() (err error) {
	t.log.Info("Stopping TCP server")
	if t.cancel != nil {
		t.cancel()
	}

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

func (t *TCP) nextConnID() string {
	return "conn-" + strconv.FormatUint(atomic.AddUint64(&t.connCount, 1), 10)
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	server   *TCP
	log      *zap.Logger

	mu          sync.Mutex
	closed      bool
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup
}

// Close stops accepting and closes the active connections.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	err := t.listener.Close()
	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}
	t.mu.Unlock()

	return err
}

// Listen accepts device links until the listener is closed, then waits for
// the connections to finish.
func (t *TCPListener) Listen() error {
	defer t.connWaiter.Wait()

	for {
		nc, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new connections
				// that's fine.
				return nil
			}

			return err
		}

		conn := &TCPConn{
			id:     t.server.nextConnID(),
			nc:     nc,
			server: t.server,
		}
		conn.log = t.log.Named("conn").With(zap.String("conn", conn.id), zap.Stringer("remote", nc.RemoteAddr()))

		if !t.addConn(conn) {
			nc.Close()
			return nil
		}

		t.connWaiter.Add(1)
		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(conn)

			conn.Serve(t.ctx)
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

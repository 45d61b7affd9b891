package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrClosed = errors.New("journal is closed")

// InmemoryJournal keeps the journal as a single JSON document of the form
//
//	{"connections": {"<conn>": [<entry>, ...]}}
//
// Entries must be JSON encodable. Byte slices are encoded as base64 strings.
type InmemoryJournal struct {
	mu     sync.RWMutex
	values []byte

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryJournal() *InmemoryJournal {
	return &InmemoryJournal{
		values: []byte("{}"),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryJournal) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryJournal) Append(ctx context.Context, conn string, entry interface{}) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return ErrClosed
	}

	values, err := sjson.SetBytes(i.values, ConnectionPath(conn)+".-1", entry)
	if err != nil {
		return err
	}

	i.values = values

	return nil
}

func (i *InmemoryJournal) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, path)

	value := make([]byte, len(result.Raw))
	copy(value, result.Raw)

	return value, nil
}

func (i *InmemoryJournal) Snapshot() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	value := make([]byte, len(i.values))
	copy(value, i.values)

	return value, nil
}

// ConnectionPath returns the gjson path of the entries recorded for conn.
func ConnectionPath(conn string) string {
	return "connections." + escapePath(conn)
}

// escapePath escapes the gjson path syntax characters in a key.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for j := 0; j < len(key); j++ {
		switch key[j] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[j])
	}
	return string(out)
}

// isRunning returns true if Close has not been called
func (i *InmemoryJournal) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Journal = (*InmemoryJournal)(nil)

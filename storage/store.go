package storage

import "context"

// Journal records the messages a peer receives, per connection.
type Journal interface {
	// Append records entry as the next message received on conn.
	Append(ctx context.Context, conn string, entry interface{}) error

	// Get returns the raw JSON at path, a gjson path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Snapshot returns the whole journal as a JSON document.
	Snapshot() ([]byte, error)

	Close() error
}

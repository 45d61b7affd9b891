package devicelink

import (
	"encoding/binary"
	"fmt"
	"io"

	"howett.net/plist"
)

const (
	headerSize = 4

	// MaxMessageSize bounds the size of one structured message.
	MaxMessageSize = 16 * 1024 * 1024
)

// WriteMessage encodes v as a binary plist and writes it with its size prefix.
func WriteMessage(w io.Writer, v interface{}) error {
	data, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		return newError(ErrPlist, "encode", err)
	}

	if len(data) > MaxMessageSize {
		return newError(ErrPlist, "encode", fmt.Errorf("message of %d bytes exceeds %d", len(data), MaxMessageSize))
	}

	b := make([]byte, headerSize, headerSize+len(data))
	binary.BigEndian.PutUint32(b, uint32(len(data)))
	b = append(b, data...)

	if _, err := w.Write(b); err != nil {
		return newError(ErrMux, "send", err)
	}

	return nil
}

// ReadMessage reads one size prefixed plist from r and decodes it.
//
// Dictionaries decode to map[string]interface{}, arrays to []interface{},
// integers to uint64 and reals to float64.
func ReadMessage(r io.Reader) (interface{}, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, newError(ErrMux, "receive", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, newError(ErrPlist, "receive", fmt.Errorf("message of %d bytes exceeds %d", size, MaxMessageSize))
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, newError(ErrMux, "receive", err)
	}

	var v interface{}
	if _, err := plist.Unmarshal(data, &v); err != nil {
		return nil, newError(ErrPlist, "decode", err)
	}

	return v, nil
}

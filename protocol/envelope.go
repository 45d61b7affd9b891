package protocol

import (
	"fmt"
)

const (
	// KeyMessageName is the reserved envelope key holding the message name.
	KeyMessageName = "MessageName"

	MessageHello    = "Hello"
	MessageResponse = "Response"
)

// BuildEnvelope returns the dictionary to send for the message name and
// options.
//
// When name is not empty, options (which may be nil) is copied and the
// MessageName key is set on the copy, replacing any existing value. When name is
// empty, options is returned as is and must already carry its MessageName.
//
// The caller's options are never modified.
func BuildEnvelope(name string, options interface{}) (map[string]interface{}, error) {
	if name == "" && options == nil {
		return nil, fmt.Errorf("%w: envelope needs a message name or options", ErrInvalidArgument)
	}

	var dict map[string]interface{}
	if options != nil {
		var ok bool
		if dict, ok = options.(map[string]interface{}); !ok {
			return nil, fmt.Errorf("%w: envelope options must be a dictionary, got %T", ErrInvalidArgument, options)
		}
	}

	if name == "" {
		if dict == nil {
			return nil, fmt.Errorf("%w: envelope without a message name needs options", ErrInvalidArgument)
		}
		return dict, nil
	}

	envelope := make(map[string]interface{}, len(dict)+1)
	for k, v := range dict {
		envelope[k] = v
	}
	envelope[KeyMessageName] = name

	return envelope, nil
}

// MessageName returns the MessageName of the envelope, if it has a string one.
func MessageName(envelope map[string]interface{}) (string, bool) {
	name, ok := envelope[KeyMessageName].(string)
	return name, ok
}

// CheckEnvelope verifies that envelope is named expected.
func CheckEnvelope(envelope map[string]interface{}, expected string) error {
	raw, ok := envelope[KeyMessageName]
	if !ok {
		return fmt.Errorf("%w: %s key not found in message", ErrProtocol, KeyMessageName)
	}

	if name, _ := raw.(string); name != expected {
		return fmt.Errorf("%w: expected %q, got %v", ErrReplyMismatch, expected, raw)
	}

	return nil
}

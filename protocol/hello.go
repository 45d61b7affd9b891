package protocol

import (
	"fmt"
)

const (
	KeySupportedProtocolVersions = "SupportedProtocolVersions"
	KeyErrorCode                 = "ErrorCode"
	KeyProtocolVersion           = "ProtocolVersion"
)

// DefaultProtocolVersions are proposed by the client when none are configured.
var DefaultProtocolVersions = []float64{2.0, 2.1}

// NewHello returns the body of the Hello message proposing versions, in the
// order given.
func NewHello(versions []float64) map[string]interface{} {
	proposed := make([]interface{}, 0, len(versions))
	for _, v := range versions {
		proposed = append(proposed, v)
	}

	return map[string]interface{}{
		KeySupportedProtocolVersions: proposed,
	}
}

// ParseHelloResponse validates the reply to Hello and returns the protocol
// version the device chose.
func ParseHelloResponse(reply map[string]interface{}) (float64, error) {
	if err := CheckEnvelope(reply, MessageResponse); err != nil {
		if _, ok := reply[KeyMessageName]; !ok {
			return 0, fmt.Errorf("%w: %v", ErrReplyMismatch, err)
		}
		return 0, err
	}

	code, ok := AsUint(reply[KeyErrorCode])
	if !ok {
		return 0, fmt.Errorf("%w: %s missing or not an integer", ErrProtocol, KeyErrorCode)
	}
	if code != 0 {
		return 0, fmt.Errorf("%w: device rejected hello with %s %d", ErrProtocol, KeyErrorCode, code)
	}

	version, ok := AsReal(reply[KeyProtocolVersion])
	if !ok {
		return 0, fmt.Errorf("%w: %s missing or not a real", ErrProtocol, KeyProtocolVersion)
	}

	return version, nil
}

// NewHelloResponse returns the reply a device sends to accept Hello.
func NewHelloResponse(version float64) map[string]interface{} {
	return map[string]interface{}{
		KeyMessageName:     MessageResponse,
		KeyErrorCode:       uint64(0),
		KeyProtocolVersion: version,
	}
}

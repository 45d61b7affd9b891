package protocol

import (
	"fmt"
)

// Verb is the message name of a request to the backup service.
type Verb string

const (
	Backup  Verb = "Backup"
	Restore Verb = "Restore"
	Info    Verb = "Info"
	List    Verb = "List"
)

const (
	KeyTargetIdentifier = "TargetIdentifier"
	KeySourceIdentifier = "SourceIdentifier"
	KeyOptions          = "Options"
)

// NewRequest returns the body of a request. The MessageName is not set here,
// BuildEnvelope adds it from verb.
//
// source and options are optional. options is copied.
func NewRequest(verb Verb, target, source string, options map[string]interface{}) (map[string]interface{}, error) {
	if verb == "" {
		return nil, fmt.Errorf("%w: request verb is required", ErrInvalidArgument)
	}
	if target == "" {
		return nil, fmt.Errorf("%w: target identifier is required", ErrInvalidArgument)
	}

	body := map[string]interface{}{
		KeyTargetIdentifier: target,
	}

	if source != "" {
		body[KeySourceIdentifier] = source
	}

	if options != nil {
		opts := make(map[string]interface{}, len(options))
		for k, v := range options {
			opts[k] = v
		}
		body[KeyOptions] = opts
	}

	return body, nil
}

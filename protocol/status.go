package protocol

import (
	"fmt"
)

const (
	// StatusResponseTag is the first element of every status response.
	StatusResponseTag = "DLMessageStatusResponse"

	// EmptyParameter stands in for absent values in positional arrays.
	EmptyParameter = "___EmptyParameterString___"
)

// StatusResponse is the decoded form of a status response. Absent values are
// nil, never EmptyParameter.
type StatusResponse struct {
	Code    uint64
	Message *string
	Detail  interface{}
}

// StatusOption is a status response option function
type StatusOption func(*StatusResponse)

func WithStatusMessage(msg string) StatusOption {
	return func(s *StatusResponse) { s.Message = &msg }
}

func WithStatusDetail(detail interface{}) StatusOption {
	return func(s *StatusResponse) { s.Detail = detail }
}

// NewStatusResponse returns the wire array for a status response.
//
// The code is sent as an unsigned integer, so negative codes wrap around the
// same way the device encodes them.
func NewStatusResponse(code int, opts ...StatusOption) []interface{} {
	s := &StatusResponse{Code: uint64(code)}
	for _, opt := range opts {
		opt(s)
	}

	return s.Array()
}

// Array returns the wire array for s.
func (s *StatusResponse) Array() []interface{} {
	var message interface{} = EmptyParameter
	if s.Message != nil {
		message = *s.Message
	}

	detail := s.Detail
	if detail == nil {
		detail = EmptyParameter
	}

	return []interface{}{StatusResponseTag, s.Code, message, detail}
}

// ParseStatusResponse decodes a status response received from the wire.
func ParseStatusResponse(v interface{}) (*StatusResponse, error) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("%w: status response must be a 4 element array", ErrProtocol)
	}

	if tag, _ := arr[0].(string); tag != StatusResponseTag {
		return nil, fmt.Errorf("%w: expected %s, got %v", ErrReplyMismatch, StatusResponseTag, arr[0])
	}

	code, ok := AsUint(arr[1])
	if !ok {
		return nil, fmt.Errorf("%w: status code is not an integer", ErrProtocol)
	}

	s := &StatusResponse{Code: code}

	switch msg := arr[2].(type) {
	case string:
		if msg != EmptyParameter {
			s.Message = &msg
		}
	default:
		return nil, fmt.Errorf("%w: status message is not a string", ErrProtocol)
	}

	if detail, ok := arr[3].(string); !ok || detail != EmptyParameter {
		s.Detail = arr[3]
	}

	return s, nil
}

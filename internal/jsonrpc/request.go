package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// IsNotification returns true if this is a notification (no ID)
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// ParseBatchRequest parses a batch of JSON-RPC requests
// Returns a slice of requests, or a single request if not a batch
func ParseBatchRequest(data []byte) ([]*Request, bool, error) {
	data = trimWhitespace(data)
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] == '[' {
		var requests []*Request
		if err := json.Unmarshal(data, &requests); err != nil {
			return nil, true, fmt.Errorf("failed to parse batch request: %w", err)
		}
		if len(requests) == 0 {
			return nil, true, ErrInvalidRequest
		}
		return requests, true, nil
	}

	req, err := ParseRequest(data)
	if err != nil {
		return nil, false, err
	}
	return []*Request{req}, false, nil
}

// NewRequest creates a new JSON-RPC request
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
		ID:      id,
	}

	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = paramsBytes
	}

	return req, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// trimWhitespace removes leading whitespace from byte slice
func trimWhitespace(data []byte) []byte {
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return data[i:]
		}
	}
	return data
}

// positional unmarshals the params array
func (r *Request) positional() ([]json.RawMessage, error) {
	if len(r.Params) == 0 {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid params format: %w", err)
	}
	return params, nil
}

// GetSubscribeTags extracts the optional initial tags of tags_subscribe:
// params are [] or [[names...]]
func (r *Request) GetSubscribeTags() ([]string, error) {
	params, err := r.positional()
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, nil
	}

	var names []string
	if err := json.Unmarshal(params[0], &names); err != nil {
		return nil, fmt.Errorf("invalid tag list: %w", err)
	}
	return names, nil
}

// GetTagChange extracts the params of tags_add and tags_remove:
// [subscriptionID, [names...]]
func (r *Request) GetTagChange() (string, []string, error) {
	params, err := r.positional()
	if err != nil {
		return "", nil, err
	}
	if len(params) < 2 {
		return "", nil, fmt.Errorf("subscription ID and tag list are required")
	}

	var subID string
	if err := json.Unmarshal(params[0], &subID); err != nil {
		return "", nil, fmt.Errorf("invalid subscription ID: %w", err)
	}
	if subID == "" {
		return "", nil, fmt.Errorf("subscription ID is required")
	}

	var names []string
	if err := json.Unmarshal(params[1], &names); err != nil {
		return "", nil, fmt.Errorf("invalid tag list: %w", err)
	}
	return subID, names, nil
}

// GetUnsubscribeID extracts the subscription ID from unsubscribe params
func (r *Request) GetUnsubscribeID() (string, error) {
	var params []string
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return "", fmt.Errorf("invalid params format: %w", err)
	}

	if len(params) == 0 || params[0] == "" {
		return "", fmt.Errorf("subscription ID is required")
	}

	return params[0], nil
}

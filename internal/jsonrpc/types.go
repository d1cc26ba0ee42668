package jsonrpc

import "encoding/json"

// Version is the JSON-RPC version
const Version = "2.0"

// Methods served over the WebSocket transport
const (
	MethodSubscribe   = "tags_subscribe"
	MethodAdd         = "tags_add"
	MethodRemove      = "tags_remove"
	MethodUnsubscribe = "tags_unsubscribe"
	MethodList        = "tags_list"

	// MethodValue is the notification carrying a tag value
	MethodValue = "tags_value"
)

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server error codes range: -32000 to -32099
	CodeServerError          = -32000
	CodeSubscriptionNotFound = -32001
	CodeTooManySubscriptions = -32002
)

// ID represents a JSON-RPC request/response ID
// It can be a string, number, or null
type ID struct {
	value interface{}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// NewIDNull creates a null ID
func NewIDNull() ID {
	return ID{value: nil}
}

// IsNull returns true if the ID is null
func (id ID) IsNull() bool {
	return id.value == nil
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithData creates a new JSON-RPC error with data
func NewErrorWithData(code int, message string, data interface{}) *Error {
	e := &Error{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if rawData, err := json.Marshal(data); err == nil {
			e.Data = rawData
		}
	}
	return e
}

// InvalidParams reports malformed params, carrying the detail in the error data
func InvalidParams(err error) *Error {
	return NewErrorWithData(CodeInvalidParams, ErrInvalidParams.Message, err.Error())
}

// Common errors
var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternal       = NewError(CodeInternalError, "Internal error")
)

// SubscriptionNotification represents a subscription event notification
type SubscriptionNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  SubscriptionParams `json:"params"`
}

// SubscriptionParams contains the subscription notification parameters
type SubscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// NewNotification builds a notification for a subscription
func NewNotification(subID string, result interface{}) (*SubscriptionNotification, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &SubscriptionNotification{
		JSONRPC: Version,
		Method:  MethodValue,
		Params: SubscriptionParams{
			Subscription: subID,
			Result:       data,
		},
	}, nil
}

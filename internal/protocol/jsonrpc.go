// Package protocol implements JSON-RPC 2.0 framing and envelope handling
// for the MCP relay.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC protocol version the relay speaks.
const Version = "2.0"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server error range (-32000 to -32099)
	CodeUnauthorized        = -32000
	CodeUpstreamUnavailable = -32001
	CodeBlocked             = -32002
)

// Message is a decoded JSON-RPC envelope. A request carries Method and ID,
// a notification carries Method without ID, a response carries Result or
// Error. The ID is kept as raw JSON so that string, number and null ids are
// echoed back byte for byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of an error response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCError classifies a decode failure so transports can map it onto the
// right envelope code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsNotification reports whether the message is a notification (no id).
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// Decode parses a single JSON-RPC envelope. Malformed JSON yields a
// CodeParseError; a request without the protocol version or a method yields
// CodeInvalidRequest. A message lacking an id is a notification.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &RPCError{Code: CodeParseError, Message: "Parse error"}
	}
	if msg.JSONRPC != Version {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request: missing jsonrpc version"}
	}
	if msg.Method == "" && msg.Result == nil && msg.Error == nil {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request: missing method"}
	}
	return &msg, nil
}

// Encode serializes an envelope to a single JSON document.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// NewResponse builds a success response echoing the originating id. A nil id
// is encoded as null.
func NewResponse(id json.RawMessage, result interface{}) (*Message, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Message{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Result:  payload,
	}, nil
}

// NewErrorResponse builds an error response. The id is echoed when known and
// null otherwise; result and error are never set together.
func NewErrorResponse(id json.RawMessage, code int, message string, data interface{}) *Message {
	obj := &ErrorObject{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			obj.Data = raw
		}
	}
	return &Message{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error:   obj,
	}
}

// NewRequest builds a request envelope.
func NewRequest(id json.RawMessage, method string, params interface{}) (*Message, error) {
	var payload json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		payload = raw
	}
	return &Message{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Method:  method,
		Params:  payload,
	}, nil
}

// NewNotification builds a notification envelope (no id, no response).
func NewNotification(method string, params interface{}) (*Message, error) {
	msg, err := NewRequest(nil, method, params)
	if err != nil {
		return nil, err
	}
	msg.ID = nil
	return msg, nil
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if id == nil {
		return json.RawMessage("null")
	}
	return id
}

package protocol

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 reserved codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalRPC    = -32603
)

// Application error taxonomy. 4xxx are caller faults and are never retried;
// 5xxx are server faults and may be retried by the transport.
const (
	CodeValidationError         = 4000
	CodeProtocolVersionMismatch = 4001
	CodeMissingRequiredField    = 4002
	CodeUnknownMessageType      = 4003
	CodeInvalidUUID             = 4004
	CodeInvalidSender           = 4005
	CodeInvalidTimestamp        = 4006
	CodeInvalidToken            = 4010
	CodeAuthSenderMismatch      = 4011
	CodeDuplicateRegistration   = 4020
	CodeRegistrationClosed      = 4021
	CodePreconditionFailed      = 4022
	CodeDuplicateResult         = 4030

	CodeInternalError        = 5000
	CodeDatabaseError        = 5001
	CodeTransportTimeout     = 5002
	CodeRefereeUnavailable   = 5003
	CodeUnsupportedGameType  = 5004
	CodeMatchExecutionFailed = 5005
)

// Error is a typed protocol error. Handlers raise these; the transport converts
// them to JSON-RPC error objects. Data carries correlation context
// (conversation_id, message_type) and optional details.
type Error struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NewError builds a typed error without context data.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a typed error with a formatted message.
func Errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a key/value pair to the error's data map.
func (e *Error) WithData(key string, value interface{}) *Error {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// WithEnvelope stamps conversation and message type context onto the error so
// peers can correlate it against their audit logs.
func (e *Error) WithEnvelope(env *Envelope) *Error {
	if env == nil {
		return e
	}
	if env.ConversationID != "" {
		e.WithData("conversation_id", env.ConversationID)
	}
	if env.MessageType != "" {
		e.WithData("message_type", string(env.MessageType))
	}
	return e
}

// AsError extracts a *Error from err, or wraps it as INTERNAL_ERROR with a
// generic message. Stack traces and internal error text never cross the wire.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(CodeInternalError, "internal error")
}

// IsClientFault reports whether code belongs to the 4xxx caller-fault band.
// Client faults are never retried.
func IsClientFault(code int) bool {
	return code >= 4000 && code < 5000
}

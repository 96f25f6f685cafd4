// Package wire implements the OCPP-J tagged-array frame codec: the
// [MessageTypeId, ...] JSON arrays exchanged over the WebSocket text
// channel, independent of any particular action's payload shape.
package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType is the first element of every OCPP-J frame.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// ErrorCode is the fixed RPC error enumeration; these are the only codes
// permitted on the wire in a CallError.
type ErrorCode string

const (
	ErrorNotImplemented               ErrorCode = "NotImplemented"
	ErrorNotSupported                 ErrorCode = "NotSupported"
	ErrorInternalError                ErrorCode = "InternalError"
	ErrorProtocolError                ErrorCode = "ProtocolError"
	ErrorSecurityError                ErrorCode = "SecurityError"
	ErrorFormationViolation           ErrorCode = "FormationViolation"
	ErrorPropertyConstraintViolation  ErrorCode = "PropertyConstraintViolation"
	ErrorOccurenceConstraintViolation ErrorCode = "OccurenceConstraintViolation"
	ErrorTypeConstraintViolation      ErrorCode = "TypeConstraintViolation"
	ErrorGenericError                 ErrorCode = "GenericError"
)

// Call is a request frame: [2, id, action, payload].
type Call struct {
	ID      string
	Action  string
	Payload json.RawMessage
}

// CallResult is a success response frame: [3, id, payload].
type CallResult struct {
	ID      string
	Payload json.RawMessage
}

// CallError is a failure response frame: [4, id, code, description, details].
type CallError struct {
	ID          string
	Code        ErrorCode
	Description string
	Details     json.RawMessage
}

// Error implements the error interface so a CallError can be returned
// directly from call sites that expect an error value.
func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Frame is the decoded union of the three frame kinds. Exactly one of
// Call, Result, Err is non-nil.
type Frame struct {
	Call   *Call
	Result *CallResult
	Err    *CallError
}

// FrameError reports a malformed-frame condition together with whatever
// id could be recovered, so the caller can decide whether a CallError
// can still be sent on the wire.
type FrameError struct {
	ID      string // empty if no id could be recovered
	HasID   bool
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("formation violation: %s", e.Message)
}

func malformed(id string, hasID bool, format string, args ...interface{}) *FrameError {
	return &FrameError{ID: id, HasID: hasID, Message: fmt.Sprintf(format, args...)}
}

// Decode parses a single OCPP-J text frame. On failure it returns a
// *FrameError; the caller maps that to CallError{FormationViolation} if
// HasID is true, or drops the frame and reports a connection-level error
// otherwise.
func Decode(data []byte) (*Frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("", false, "frame is not a JSON array: %v", err)
	}
	if len(raw) < 3 {
		return nil, malformed("", false, "frame array too short (%d elements)", len(raw))
	}

	var msgType int
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, malformed("", false, "first element is not a numeric type tag: %v", err)
	}

	var id string
	if err := json.Unmarshal(raw[1], &id); err != nil {
		return nil, malformed("", false, "id is not a string: %v", err)
	}

	switch MessageType(msgType) {
	case MessageTypeCall:
		if len(raw) != 4 {
			return nil, malformed(id, true, "Call frame must have exactly 4 elements, got %d", len(raw))
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return nil, malformed(id, true, "action is not a string: %v", err)
		}
		if !isObjectOrEmpty(raw[3]) {
			return nil, malformed(id, true, "payload is not an object")
		}
		return &Frame{Call: &Call{ID: id, Action: action, Payload: raw[3]}}, nil

	case MessageTypeCallResult:
		if len(raw) != 3 {
			return nil, malformed(id, true, "CallResult frame must have exactly 3 elements, got %d", len(raw))
		}
		if !isObjectOrEmpty(raw[2]) {
			return nil, malformed(id, true, "payload is not an object")
		}
		return &Frame{Result: &CallResult{ID: id, Payload: raw[2]}}, nil

	case MessageTypeCallError:
		if len(raw) < 4 || len(raw) > 5 {
			return nil, malformed(id, true, "CallError frame must have 4 or 5 elements, got %d", len(raw))
		}
		var code, description string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return nil, malformed(id, true, "errorCode is not a string: %v", err)
		}
		if err := json.Unmarshal(raw[3], &description); err != nil {
			return nil, malformed(id, true, "errorDescription is not a string: %v", err)
		}
		details := json.RawMessage(`{}`)
		if len(raw) == 5 {
			if !isObjectOrEmpty(raw[4]) {
				return nil, malformed(id, true, "errorDetails is not an object")
			}
			details = raw[4]
		}
		return &Frame{Err: &CallError{ID: id, Code: ErrorCode(code), Description: description, Details: details}}, nil

	default:
		return nil, malformed(id, true, "unknown message type tag %d", msgType)
	}
}

func isObjectOrEmpty(raw json.RawMessage) bool {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	_, isObject := v.(map[string]interface{})
	return isObject
}

// EncodeCall serializes a Call frame.
func EncodeCall(id, action string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{MessageTypeCall, id, action, body})
}

// EncodeCallResult serializes a CallResult frame.
func EncodeCallResult(id string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{MessageTypeCallResult, id, body})
}

// EncodeCallError serializes a CallError frame.
func EncodeCallError(id string, code ErrorCode, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCallError, id, code, description, details})
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

package transport

import "encoding/json"

type (
	// CallRequest asks the registry owning FunctionID to invoke it. ReplyID is
	// the one-time correlation token the matching CallReply must carry.
	CallRequest struct {
		FunctionID string            `json:"functionId"`
		ReplyID    string            `json:"replyId"`
		Args       []json.RawMessage `json:"args"`
	}

	// CallReply carries the final results of one call, or an error marker.
	// Exactly one of Results/Error is set.
	CallReply struct {
		ReplyID string            `json:"replyId"`
		Results []json.RawMessage `json:"results,omitempty"`
		Error   *ErrorDetail      `json:"error,omitempty"`
	}

	// RegistrationRequest announces that SenderID now implements FunctionID.
	RegistrationRequest struct {
		FunctionID string `json:"functionId"`
		SenderID   string `json:"senderId"`
	}

	// RegistrationAck confirms a registration request. Acks are broadcast:
	// every pool listening on the bus may add FunctionID to its callable set.
	RegistrationAck struct {
		FunctionID string `json:"functionId"`
	}

	// UnregistrationNotice revokes FunctionID. Pools drop it from their
	// callable set and fail calls still pending against it.
	UnregistrationNotice struct {
		FunctionID string `json:"functionId"`
		SenderID   string `json:"senderId"`
	}

	// ErrorDetail is the structured error marker carried inside a CallReply.
	ErrorDetail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// Encode serializes an event payload to JSON bytes.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes into the given event payload.
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

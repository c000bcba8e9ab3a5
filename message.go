package hive

import (
	"encoding/json"
	"fmt"
)

// Kind tags a message with its protocol meaning. The set is closed; wire
// names are lower_snake_case.
type Kind int

const (
	KindUser Kind = iota
	KindHeartbeat
	KindHeartbeatAck
	KindShutdown
	KindError
	KindTask
	KindTaskResult
	KindDocEdit
	KindDocUpdate
	KindLockRequest
	KindLockRelease
	KindLockAcquired
	KindLockDenied
	KindRequest
	KindResponse
	KindBroadcast
	KindDirect
	KindEvent
	KindConsensus
)

var kindNames = map[Kind]string{
	KindUser:         "user",
	KindHeartbeat:    "heartbeat",
	KindHeartbeatAck: "heartbeat_ack",
	KindShutdown:     "shutdown",
	KindError:        "error",
	KindTask:         "task",
	KindTaskResult:   "task_result",
	KindDocEdit:      "doc_edit",
	KindDocUpdate:    "doc_update",
	KindLockRequest:  "lock_request",
	KindLockRelease:  "lock_release",
	KindLockAcquired: "lock_acquired",
	KindLockDenied:   "lock_denied",
	KindRequest:      "request",
	KindResponse:     "response",
	KindBroadcast:    "broadcast",
	KindDirect:       "direct",
	KindEvent:        "event",
	KindConsensus:    "consensus",
}

var kindValues = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name of the kind, or "user" for unknown values.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "user"
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindValues[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: message kind %q", ErrInvalid, s)
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name into the kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Message is the unit of communication between agents. An empty To means
// broadcast. Payload carries the kind-specific body as raw JSON; the typed
// payload structs below cover the closed-kind variants.
type Message struct {
	ID           string          `json:"id"`
	From         string          `json:"from"`
	To           string          `json:"to,omitempty"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Subject      string          `json:"subject,omitempty"`
	Conversation string          `json:"conversation,omitempty"`
	Priority     int             `json:"priority"`
	Timestamp    int64           `json:"timestamp_ms"`
}

// NewMessage builds a message with a fresh id and the current timestamp.
func NewMessage(from, to string, kind Kind, payload any) (Message, error) {
	m := Message{
		ID:        NewID(),
		From:      from,
		To:        to,
		Kind:      kind,
		Timestamp: NowMillis(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode payload: %w", err)
		}
		m.Payload = raw
	}
	return m, nil
}

// LockPayload is the body of LOCK_REQUEST, LOCK_RELEASE, LOCK_ACQUIRED and
// LOCK_DENIED messages.
type LockPayload struct {
	Section int `json:"section"`
}

// EditPayload is the body of a DOC_EDIT message. Content longer than the
// section width is truncated by the coordinator.
type EditPayload struct {
	Section int    `json:"section"`
	Content string `json:"content"`
}

// UpdatePayload is the body of a DOC_UPDATE broadcast.
type UpdatePayload struct {
	Section int   `json:"section"`
	Version int64 `json:"version"`
}

// ErrorPayload is the body of an ERROR message sent to a supervisor when a
// child's handler fails.
type ErrorPayload struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// KnowledgeEventPayload is the body of an EVENT message fanned out to
// knowledge-base subscribers on each put.
type KnowledgeEventPayload struct {
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	Contributor string   `json:"contributor"`
	Version     int64    `json:"version"`
	Tags        []string `json:"tags,omitempty"`
}

// TaskPayload is the body of a TASK message dispatching work to an agent.
type TaskPayload struct {
	TaskID      string            `json:"task_id"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrInvalid, m.Kind, err)
	}
	return nil
}

// EncodeMessage serialises m to its JSON wire form.
func EncodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses the JSON wire form back into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: decode message: %v", ErrInvalid, err)
	}
	return m, nil
}

package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies bus traffic.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindNotification MessageKind = "notification"
)

// Well-known notification actions.
const (
	ActionTaskAllocated = "task_allocated"
)

// RequestContent is the content of a KindRequest message: invoke one of the
// recipient's capabilities.
type RequestContent struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ResponseContent is the content of a KindResponse message. Exactly one of
// Result or Err is meaningful.
type ResponseContent struct {
	Result any    `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// NotificationContent is the content of a KindNotification message. Action
// selects the notification; ActionTaskAllocated carries the allocated task id.
type NotificationContent struct {
	Action string         `json:"action"`
	TaskID string         `json:"task_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Message is a single unit of bus traffic between named agents. Messages are
// immutable once created; Content is one of RequestContent, ResponseContent,
// or NotificationContent depending on Kind.
type Message struct {
	ID               string      `json:"id"`
	Sender           string      `json:"sender"`
	Recipient        string      `json:"recipient"`
	Kind             MessageKind `json:"kind"`
	Content          any         `json:"content"`
	CorrelationID    string      `json:"correlation_id,omitempty"`
	RequiresResponse bool        `json:"requires_response,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// NewRequest creates a request message expecting a correlated response.
func NewRequest(sender, recipient, action string, params map[string]any) Message {
	return Message{
		ID:               uuid.New().String(),
		Sender:           sender,
		Recipient:        recipient,
		Kind:             KindRequest,
		Content:          RequestContent{Action: action, Params: params},
		RequiresResponse: true,
		CreatedAt:        time.Now(),
	}
}

// NewResponse creates a response message correlated to a request.
// Invariant: CorrelationID equals the originating request's ID.
func NewResponse(req Message, result any, execErr string) Message {
	return Message{
		ID:            uuid.New().String(),
		Sender:        req.Recipient,
		Recipient:     req.Sender,
		Kind:          KindResponse,
		Content:       ResponseContent{Result: result, Err: execErr},
		CorrelationID: req.ID,
		CreatedAt:     time.Now(),
	}
}

// NewNotification creates a one-way notification message.
func NewNotification(sender, recipient string, content NotificationContent) Message {
	return Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      KindNotification,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewTaskAllocated creates the notification delivered to an agent when the
// scheduler assigns it a task.
func NewTaskAllocated(sender, recipient, taskID string) Message {
	return NewNotification(sender, recipient, NotificationContent{
		Action: ActionTaskAllocated,
		TaskID: taskID,
	})
}

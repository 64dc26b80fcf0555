package signaling

import (
	"encoding/json"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
)

type MessageType string

// Media session messages.
const (
	MessageTypeJoin               MessageType = "join"
	MessageTypeJoined             MessageType = "joined"
	MessageTypeLeave              MessageType = "leave"
	MessageTypeGetCapabilities    MessageType = "get-capabilities"
	MessageTypeCreateTransport    MessageType = "create-transport"
	MessageTypeConnectTransport   MessageType = "connect-transport"
	MessageTypeProduce            MessageType = "produce"
	MessageTypeConsume            MessageType = "consume"
	MessageTypeResumeConsumer     MessageType = "resume-consumer"
	MessageTypePauseConsumer      MessageType = "pause-consumer"
	MessageTypeCloseProducer      MessageType = "close-producer"
	MessageTypeNewProducer        MessageType = "new-producer"
	MessageTypeConsumerClosed     MessageType = "consumer-closed"
	MessageTypeParticipantJoined  MessageType = "participant-joined"
	MessageTypeParticipantLeft    MessageType = "participant-left"
	MessageTypeScreenShareStart   MessageType = "screen-share-start"
	MessageTypeScreenShareStop    MessageType = "screen-share-stop"
	MessageTypeScreenShareStarted MessageType = "screen-share-started"
	MessageTypeScreenShareStopped MessageType = "screen-share-stopped"
	MessageTypeRoomEnded          MessageType = "room-ended"
	MessageTypeError              MessageType = "error"
	MessageTypePing               MessageType = "ping"
	MessageTypePong               MessageType = "pong"
)

// Chat messages.
const (
	MessageTypeChatSend    MessageType = "message:send"
	MessageTypeChatReceive MessageType = "message:receive"
	MessageTypeChatSent    MessageType = "message:sent"
	MessageTypeChatError   MessageType = "message:error"
	MessageTypeTypingStart MessageType = "typing:start"
	MessageTypeTypingStop  MessageType = "typing:stop"
	MessageTypeUserOnline  MessageType = "user:online"
	MessageTypeUserOffline MessageType = "user:offline"
)

// Message is the envelope of every frame in both directions. Replies carry
// the requestId of the request they answer.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
}

type ErrorMessage struct {
	Code     sfuerr.Code `json:"code"`
	Message  string      `json:"message"`
	Terminal bool        `json:"terminal"`
	// Request is the type of the request that failed.
	Request MessageType `json:"request,omitempty"`
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(t MessageType, payload interface{}) (Message, error) {
	msg := Message{Type: t, Timestamp: time.Now()}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Data = data
	return msg, nil
}

// ErrorFor builds the error reply for a failed request.
func ErrorFor(req Message, err error) Message {
	code := sfuerr.CodeOf(err)
	msg, _ := NewMessage(MessageTypeError, ErrorMessage{
		Code:     code,
		Message:  sfuerr.MessageOf(err),
		Terminal: sfuerr.Terminal(code),
		Request:  req.Type,
	})
	msg.RequestID = req.RequestID
	return msg
}

// Decode unmarshals the payload of msg into v. A missing payload leaves v untouched.
func Decode(msg Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return sfuerr.Wrap(sfuerr.CodeInvalidRequest, err, "malformed "+string(msg.Type)+" payload")
	}
	return nil
}

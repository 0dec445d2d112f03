package ws

import "fmt"

// MessageType is the first byte of every realtime frame.
type MessageType byte

const (
	// MessageUpdate carries an encoded document update: applied to the
	// room's document, appended to the update-log, broadcast to peers.
	MessageUpdate MessageType = 0

	// MessageAwareness carries ephemeral client state (cursors,
	// selections). Broadcast only, never persisted.
	MessageAwareness MessageType = 1
)

// ParseMessage splits a frame into its type and payload.
func ParseMessage(data []byte) (MessageType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty message")
	}
	t := MessageType(data[0])
	if t != MessageUpdate && t != MessageAwareness {
		return 0, nil, fmt.Errorf("unknown message type: %d", data[0])
	}
	return t, data[1:], nil
}

// EncodeMessage builds a frame from a type and payload.
func EncodeMessage(t MessageType, payload []byte) []byte {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(t))
	return append(frame, payload...)
}

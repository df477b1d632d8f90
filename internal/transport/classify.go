package transport

import "github.com/gorilla/websocket"

// isControl reports whether a frame carries a control message. Text frames
// are always control. Binary frames are control when they look like a JSON
// object: first byte '{' and last byte '}'.
//
// TODO: replace the binary sniff with a leading type byte once clients send
// one; a media chunk that happens to start with '{' and end with '}' is
// misread as control today.
func isControl(messageType int, data []byte) bool {
	if messageType == websocket.TextMessage {
		return true
	}
	return len(data) >= 2 && data[0] == '{' && data[len(data)-1] == '}'
}

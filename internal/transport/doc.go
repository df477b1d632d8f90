// Package transport serves the browser-facing WebSocket endpoint.
//
// Each connection owns one relay session. Control frames (JSON objects) start,
// switch and stop the stream; every other binary frame is a media chunk handed
// to the session in arrival order. Replies are JSON objects of type
// stream-ready, stream-error or stream-stopped. Closing the connection stops
// the session.
package transport

// Package relay implements the per-connection stream engine: a lifecycle state
// machine that owns one transcoder at a time, a FIFO of media chunks drained
// into the transcoder under backpressure, and a bounded restart policy for
// transcoder crashes.
//
// A Session moves through these states:
//
//	idle --Start--> active --Switch--> active
//	active --Stop--> idle
//	active --crash, attempts left--> starting --> active
//	active --crash, attempts exhausted--> idle
//
// Termination is always forced. Switching or stopping discards queued chunks
// rather than flushing them, so a new destination never sees media meant for
// the previous one.
package relay

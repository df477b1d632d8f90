// Package process supervises a single subprocess fed through its stdin.
//
// A Process is started once and observed through Hooks:
//   - OnExit fires exactly once with the exit code and whether the exit
//     was caused by Kill
//   - OnError reports fatal I/O errors on the output pipes
//
// Output is split on both \n and \r, passed to an optional OutputHandler and
// logged through a pluggable LogParser. Kill is always forced: the whole
// process group receives SIGKILL and stdin is closed, which also unblocks a
// writer stuck on a full pipe.
package process

// Package channel implements the host side of Vim's JSON channel protocol
// (see :help channel.txt): a transport-agnostic Channel that a process can
// use to exchange JSON messages with a running Vim, either over a TCP
// socket (Vim connects to us) or over the process's own standard input and
// output streams (Vim starts us as a job).
//
// The package does not depend on any particular JSON codec beyond
// encoding/json, and it does not know anything about Vim buffers, windows,
// or positions; callers supply a Delegate to interpret message bodies.
package channel

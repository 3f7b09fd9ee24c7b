// Package transport owns the connection lifecycle between core and
// shim: dialing with backoff, hello/hello_ack version negotiation,
// heartbeat liveness, reconnect-with-resync, protocol-error burst
// resets, and the frame I/O loop that feeds the priority lanes and the
// inbound event channel. Session I/O always runs on its own goroutines;
// nothing here ever executes on a host-owned thread.
package transport

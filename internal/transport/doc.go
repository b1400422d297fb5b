// Package transport moves encoded codec messages between processes.
//
// A Client sends one message and waits for one reply. A Server calls a
// Handler for every message it receives and sends the returned bytes back
// to the sender. Implementations exist for UDP datagrams, a unary gRPC
// method and NATS request/reply. No implementation retries.
package transport

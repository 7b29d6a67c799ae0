// Package memory provides an in-process runtime for tests and demos.
//
// Server implements ports.Dialer over channel pipes. Each dial produces a Peer
// that plays the runtime: it can push server events, inspect what the client
// sent, answer probes automatically, or drop the transport.
package memory
